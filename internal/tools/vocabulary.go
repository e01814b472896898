package tools

import (
	"context"
	"fmt"
	"time"
)

// NewStoreRegistry binds the seven graph-query tools against store into a
// fresh Registry. Both the ArangoDB-backed and in-memory fake stores share
// this single implementation, parameterized over the Store interface.
func NewStoreRegistry(store Store) *Registry {
	r := NewRegistry()

	r.Register(Definition{
		Name:        "search_entity",
		Description: "Search for entities by name or free-text query. Names may have aliases; prefer a broad search before narrowing. Most other tools require an entity_id obtainable only from this tool's results — never guess an id.",
		Parameters: []ParamSchema{
			{Name: "query", Type: ParamString, Required: true, Description: "name or free-text query"},
			{Name: "limit", Type: ParamInt, Required: false, Description: "max results, default 10"},
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		query, _ := params["query"].(string)
		if query == "" {
			query, _ = params["name"].(string)
		}
		limit := intParam(params, "limit", 10)
		entities, err := store.SearchEntity(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("search_entity: %w", err)
		}
		return map[string]any{"success": true, "entities": entitiesToAny(entities)}, nil
	})

	r.Register(Definition{
		Name:        "get_entity_by_id",
		Description: "Fetch a single entity by its entity_id.",
		Parameters: []ParamSchema{
			{Name: "entity_id", Type: ParamString, Required: true, Description: "target entity id"},
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		id, _ := params["entity_id"].(string)
		e, err := store.GetEntityByID(ctx, id)
		if err != nil {
			return map[string]any{"success": false, "message": err.Error()}, nil
		}
		return map[string]any{"success": true, "entity": entityToAny(e)}, nil
	})

	r.Register(Definition{
		Name:        "find_relations",
		Description: "List relations (edges) touching an entity. memory_cache_id equality across results indicates scene co-occurrence; physical_time orders events.",
		Parameters: []ParamSchema{
			{Name: "entity_id", Type: ParamString, Required: true, Description: "target entity id"},
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		id, _ := params["entity_id"].(string)
		rels, err := store.FindRelations(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("find_relations: %w", err)
		}
		return map[string]any{"success": true, "relations": relationsToAny(rels)}, nil
	})

	r.Register(Definition{
		Name:        "find_paths",
		Description: "Find connecting paths between two entities, up to max_hops edges.",
		Parameters: []ParamSchema{
			{Name: "from_entity_id", Type: ParamString, Required: true, Description: "starting entity id"},
			{Name: "to_entity_id", Type: ParamString, Required: true, Description: "destination entity id"},
			{Name: "max_hops", Type: ParamInt, Required: false, Description: "max path length, default 3"},
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		from, _ := params["from_entity_id"].(string)
		to, _ := params["to_entity_id"].(string)
		maxHops := intParam(params, "max_hops", 3)
		paths, err := store.FindPaths(ctx, from, to, maxHops)
		if err != nil {
			return nil, fmt.Errorf("find_paths: %w", err)
		}
		return map[string]any{"success": true, "paths": pathsToAny(paths)}, nil
	})

	r.Register(Definition{
		Name:        "get_version_history",
		Description: "List how an entity's recorded content changed over time.",
		Parameters: []ParamSchema{
			{Name: "entity_id", Type: ParamString, Required: true, Description: "target entity id"},
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		id, _ := params["entity_id"].(string)
		versions, err := store.GetVersionHistory(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get_version_history: %w", err)
		}
		if len(versions) == 0 {
			return map[string]any{"success": true, "versions": []any{}}, nil
		}
		earliest, latest := versions[0].PhysicalTime, versions[0].PhysicalTime
		for _, v := range versions {
			if v.PhysicalTime.Before(earliest) {
				earliest = v.PhysicalTime
			}
			if v.PhysicalTime.After(latest) {
				latest = v.PhysicalTime
			}
		}
		return map[string]any{
			"success":       true,
			"versions":      entitiesToAny(versions),
			"earliest_time": earliest,
			"latest_time":   latest,
		}, nil
	})

	r.Register(Definition{
		Name:        "get_memory_cache",
		Description: "Fetch a scene snapshot: the set of entities and relations that co-occurred at one memory_cache_id.",
		Parameters: []ParamSchema{
			{Name: "memory_cache_id", Type: ParamString, Required: true, Description: "target scene id"},
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		id, _ := params["memory_cache_id"].(string)
		c, err := store.GetMemoryCache(ctx, id)
		if err != nil {
			return map[string]any{"success": false, "message": err.Error()}, nil
		}
		return map[string]any{"success": true, "cache": map[string]any{
			"memory_cache_id": c.MemoryCacheID,
			"description":     c.Description,
			"physical_time":   c.PhysicalTime,
			"entity_ids":      c.EntityIDs,
			"relation_ids":    c.RelationIDs,
		}}, nil
	})

	r.Register(Definition{
		Name:        "get_entity_at_time",
		Description: "Fetch the version of an entity as it was recorded at or before a given physical_time.",
		Parameters: []ParamSchema{
			{Name: "entity_id", Type: ParamString, Required: true, Description: "target entity id"},
			{Name: "time", Type: ParamString, Required: true, Description: "RFC3339 timestamp"},
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		id, _ := params["entity_id"].(string)
		raw, _ := params["time"].(string)
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return map[string]any{"success": false, "message": "invalid time: " + err.Error()}, nil
		}
		e, err := store.GetEntityAtTime(ctx, id, at)
		if err != nil {
			return map[string]any{"success": false, "message": err.Error()}, nil
		}
		return map[string]any{"success": true, "entity": entityToAny(e)}, nil
	})

	return r
}

func intParam(params map[string]any, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func entityToAny(e Entity) map[string]any {
	return map[string]any{
		"entity_id":       e.EntityID,
		"name":            e.Name,
		"content":         e.Content,
		"physical_time":   e.PhysicalTime,
		"memory_cache_id": e.MemoryCacheID,
		"attributes":      e.Attributes,
	}
}

func entitiesToAny(es []Entity) []any {
	out := make([]any, len(es))
	for i, e := range es {
		out[i] = entityToAny(e)
	}
	return out
}

func relationToAny(r Relation) map[string]any {
	return map[string]any{
		"relation_id":     r.RelationID,
		"from_entity_id":  r.FromEntityID,
		"to_entity_id":    r.ToEntityID,
		"label":           r.Label,
		"content":         r.Content,
		"physical_time":   r.PhysicalTime,
		"memory_cache_id": r.MemoryCacheID,
	}
}

func relationsToAny(rs []Relation) []any {
	out := make([]any, len(rs))
	for i, r := range rs {
		out[i] = relationToAny(r)
	}
	return out
}

func pathsToAny(paths []Path) []any {
	out := make([]any, len(paths))
	for i, p := range paths {
		edges := make([]any, len(p.Edges))
		for j, edge := range p.Edges {
			edges[j] = map[string]any{
				"relation":  relationToAny(edge.Relation),
				"to_entity": entityToAny(edge.ToEntity),
			}
		}
		out[i] = map[string]any{
			"from_entity_id": p.FromEntityID,
			"to_entity_id":   p.ToEntityID,
			"edges":          edges,
		}
	}
	return out
}
