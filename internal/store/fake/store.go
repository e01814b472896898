// Package fake provides an in-memory Store used by scenario tests and as
// a fixture-driven stand-in when no real graph backend is configured.
package fake

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

// Store is a canned, in-memory implementation of tools.Store. Every method
// reads from the fields below; tests populate them directly.
type Store struct {
	Entities  map[string]tools.Entity
	Relations map[string]tools.Relation
	Caches    map[string]tools.MemoryCache
	Versions  map[string][]tools.Entity // entity_id -> version history, oldest first
	Paths     map[pathKey][]tools.Path

	// Sleep, if set, is waited before returning from any method — used to
	// simulate a slow tool for timeout scenarios.
	Sleep time.Duration
}

type pathKey struct{ from, to string }

// New constructs an empty fake Store.
func New() *Store {
	return &Store{
		Entities:  map[string]tools.Entity{},
		Relations: map[string]tools.Relation{},
		Caches:    map[string]tools.MemoryCache{},
		Versions:  map[string][]tools.Entity{},
		Paths:     map[pathKey][]tools.Path{},
	}
}

// AddEntity registers an entity for lookup and name search.
func (s *Store) AddEntity(e tools.Entity) { s.Entities[e.EntityID] = e }

// AddRelation registers a relation for find_relations.
func (s *Store) AddRelation(r tools.Relation) { s.Relations[r.RelationID] = r }

// AddMemoryCache registers a scene snapshot.
func (s *Store) AddMemoryCache(c tools.MemoryCache) { s.Caches[c.MemoryCacheID] = c }

// SetVersionHistory registers a version history for an entity.
func (s *Store) SetVersionHistory(entityID string, versions []tools.Entity) {
	s.Versions[entityID] = versions
}

// SetPaths registers the canned path result between two entities.
func (s *Store) SetPaths(from, to string, paths []tools.Path) {
	s.Paths[pathKey{from, to}] = paths
}

func (s *Store) wait(ctx context.Context) error {
	if s.Sleep <= 0 {
		return nil
	}
	select {
	case <-time.After(s.Sleep):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) SearchEntity(ctx context.Context, query string, limit int) ([]tools.Entity, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	query = strings.ToLower(query)
	var out []tools.Entity
	ids := make([]string, 0, len(s.Entities))
	for id := range s.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := s.Entities[id]
		if query == "" || strings.Contains(strings.ToLower(e.Name), query) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) GetEntityByID(ctx context.Context, entityID string) (tools.Entity, error) {
	if err := s.wait(ctx); err != nil {
		return tools.Entity{}, err
	}
	e, ok := s.Entities[entityID]
	if !ok {
		return tools.Entity{}, fmt.Errorf("entity not found: %s", entityID)
	}
	return e, nil
}

func (s *Store) FindRelations(ctx context.Context, entityID string) ([]tools.Relation, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	var out []tools.Relation
	ids := make([]string, 0, len(s.Relations))
	for id := range s.Relations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := s.Relations[id]
		if r.FromEntityID == entityID || r.ToEntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) FindPaths(ctx context.Context, fromID, toID string, maxHops int) ([]tools.Path, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.Paths[pathKey{fromID, toID}], nil
}

func (s *Store) GetVersionHistory(ctx context.Context, entityID string) ([]tools.Entity, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.Versions[entityID], nil
}

func (s *Store) GetMemoryCache(ctx context.Context, cacheID string) (tools.MemoryCache, error) {
	if err := s.wait(ctx); err != nil {
		return tools.MemoryCache{}, err
	}
	c, ok := s.Caches[cacheID]
	if !ok {
		return tools.MemoryCache{}, fmt.Errorf("memory cache not found: %s", cacheID)
	}
	return c, nil
}

func (s *Store) GetEntityAtTime(ctx context.Context, entityID string, at time.Time) (tools.Entity, error) {
	if err := s.wait(ctx); err != nil {
		return tools.Entity{}, err
	}
	versions := s.Versions[entityID]
	if len(versions) == 0 {
		return s.GetEntityByID(ctx, entityID)
	}
	var best *tools.Entity
	for i := range versions {
		v := &versions[i]
		if !v.PhysicalTime.After(at) && (best == nil || v.PhysicalTime.After(best.PhysicalTime)) {
			best = v
		}
	}
	if best == nil {
		return s.GetEntityByID(ctx, entityID)
	}
	return *best, nil
}
