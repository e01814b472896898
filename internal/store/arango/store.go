// Package arango implements internal/tools.Store against an ArangoDB graph:
// entities and relations live in a named graph ("memorygraph") so find_paths
// can traverse it directly, alongside a flat memory_caches collection and a
// per-entity versions collection for get_entity_at_time/get_version_history.
package arango

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"

	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

const (
	collEntities     = "entities"
	collRelations    = "relations"
	collMemoryCaches = "memory_caches"
	collVersions     = "entity_versions"
	graphName        = "memorygraph"
)

// Config is the connection configuration for the backing ArangoDB instance.
type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

type Store struct {
	conn   connection.Connection
	client arangodb.Client
	db     arangodb.Database
	cfg    Config

	nameSearcher NameSearcher
}

// NameSearcher is the optional fuzzy-search collaborator (internal/store/
// typesense.Searcher in production); nil means SearchEntity relies solely
// on its own AQL LIKE query.
type NameSearcher interface {
	SearchNames(ctx context.Context, query string, limit int) ([]string, error)
}

// WithNameSearcher attaches an optional Typesense-backed fuzzy searcher.
// SearchEntity prefers it over the AQL LIKE scan when set.
func (s *Store) WithNameSearcher(ns NameSearcher) *Store {
	s.nameSearcher = ns
	return s
}

// New dials ArangoDB and resolves the configured database. Call
// EnsureSchema once at startup before serving queries.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.Database == "" {
		return nil, fmt.Errorf("arango store: URL and Database are required")
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))
	if err := conn.SetAuthentication(connection.NewBasicAuth(cfg.Username, cfg.Password)); err != nil {
		return nil, fmt.Errorf("arango store: set auth: %w", err)
	}

	s := &Store{conn: conn, client: arangodb.NewClient(conn), cfg: cfg}

	exists, err := s.client.DatabaseExists(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("arango store: check database: %w", err)
	}
	if !exists {
		if _, err := s.client.CreateDatabase(ctx, cfg.Database, nil); err != nil {
			return nil, fmt.Errorf("arango store: create database: %w", err)
		}
	}
	db, err := s.client.GetDatabase(ctx, cfg.Database, nil)
	if err != nil {
		return nil, fmt.Errorf("arango store: get database: %w", err)
	}
	s.db = db
	return s, nil
}

// EnsureSchema creates the entities/relations vertex-and-edge collections,
// the supporting graph, and the flat memory_caches/entity_versions
// collections, all idempotently.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.ensureCollection(ctx, collEntities, false); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, collRelations, true); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, collMemoryCaches, false); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, collVersions, false); err != nil {
		return err
	}

	exists, err := s.db.GraphExists(ctx, graphName)
	if err != nil {
		return fmt.Errorf("arango store: check graph: %w", err)
	}
	if !exists {
		_, err = s.db.CreateGraph(ctx, graphName, &arangodb.GraphDefinition{
			EdgeDefinitions: []arangodb.EdgeDefinition{{
				Collection:        collRelations,
				From:              []string{collEntities},
				To:                []string{collEntities},
			}},
		}, nil)
		if err != nil {
			return fmt.Errorf("arango store: create graph: %w", err)
		}
	}

	entityCol, err := s.db.GetCollection(ctx, collEntities, nil)
	if err != nil {
		return fmt.Errorf("arango store: get entities collection: %w", err)
	}
	if _, _, err := entityCol.EnsurePersistentIndex(ctx, []string{"name"}, &arangodb.CreatePersistentIndexOptions{Name: "idx_name"}); err != nil {
		return fmt.Errorf("arango store: ensure name index: %w", err)
	}
	if _, _, err := entityCol.EnsurePersistentIndex(ctx, []string{"memory_cache_id"}, &arangodb.CreatePersistentIndexOptions{Name: "idx_memory_cache_id"}); err != nil {
		return fmt.Errorf("arango store: ensure memory_cache_id index: %w", err)
	}

	versionCol, err := s.db.GetCollection(ctx, collVersions, nil)
	if err != nil {
		return fmt.Errorf("arango store: get versions collection: %w", err)
	}
	if _, _, err := versionCol.EnsurePersistentIndex(ctx, []string{"entity_id", "physical_time"}, &arangodb.CreatePersistentIndexOptions{Name: "idx_entity_time"}); err != nil {
		return fmt.Errorf("arango store: ensure entity_time index: %w", err)
	}

	return nil
}

func (s *Store) ensureCollection(ctx context.Context, name string, isEdge bool) error {
	exists, err := s.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("arango store: check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	colType := arangodb.CollectionTypeDocument
	if isEdge {
		colType = arangodb.CollectionTypeEdge
	}
	_, err = s.db.CreateCollection(ctx, name, &arangodb.CreateCollectionProperties{Type: colType})
	if err != nil {
		return fmt.Errorf("arango store: create collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

// IngestEntities bulk-inserts entity documents (and a parallel version-history
// row per entity, so get_entity_at_time has something to query against).
// Duplicate _key documents are ignored rather than updated, matching the
// code graph ingestion's rebuild-from-scratch convention.
func (s *Store) IngestEntities(ctx context.Context, entities []tools.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	entityCol, err := s.db.GetCollection(ctx, collEntities, nil)
	if err != nil {
		return fmt.Errorf("arango store: get entities collection: %w", err)
	}
	versionCol, err := s.db.GetCollection(ctx, collVersions, nil)
	if err != nil {
		return fmt.Errorf("arango store: get versions collection: %w", err)
	}

	docs := make([]map[string]any, len(entities))
	versionDocs := make([]map[string]any, len(entities))
	for i, e := range entities {
		docs[i] = map[string]any{
			"_key":            makeKey(e.EntityID),
			"entity_id":       e.EntityID,
			"name":            e.Name,
			"content":         e.Content,
			"physical_time":   e.PhysicalTime,
			"memory_cache_id": e.MemoryCacheID,
			"attributes":      e.Attributes,
		}
		versionDocs[i] = map[string]any{
			"_key":          makeKey(e.EntityID + "@" + e.PhysicalTime.Format(time.RFC3339Nano)),
			"entity_id":     e.EntityID,
			"name":          e.Name,
			"content":       e.Content,
			"physical_time": e.PhysicalTime,
		}
	}

	entityReader, err := entityCol.CreateDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("arango store: ingest entities: %w", err)
	}
	// Duplicate-key errors on individual documents are expected on a
	// re-ingest and intentionally ignored, matching the code graph
	// ingestion's rebuild-from-scratch convention.
	for {
		if _, readErr := entityReader.Read(); readErr != nil {
			break
		}
	}

	versionReader, err := versionCol.CreateDocuments(ctx, versionDocs)
	if err != nil {
		return fmt.Errorf("arango store: ingest entity versions: %w", err)
	}
	for {
		if _, readErr := versionReader.Read(); readErr != nil {
			break
		}
	}
	return nil
}

// IngestRelations bulk-inserts relation edges, keyed by collection-qualified
// from/to entity document IDs so the graph traversal in FindPaths works
// without a separate edge-resolution step.
func (s *Store) IngestRelations(ctx context.Context, relations []tools.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	col, err := s.db.GetCollection(ctx, collRelations, nil)
	if err != nil {
		return fmt.Errorf("arango store: get relations collection: %w", err)
	}

	docs := make([]map[string]any, len(relations))
	for i, r := range relations {
		docs[i] = map[string]any{
			"_key":            makeKey(r.RelationID),
			"_from":           fmt.Sprintf("%s/%s", collEntities, makeKey(r.FromEntityID)),
			"_to":             fmt.Sprintf("%s/%s", collEntities, makeKey(r.ToEntityID)),
			"relation_id":     r.RelationID,
			"from_entity_id":  r.FromEntityID,
			"to_entity_id":    r.ToEntityID,
			"label":           r.Label,
			"content":         r.Content,
			"physical_time":   r.PhysicalTime,
			"memory_cache_id": r.MemoryCacheID,
		}
	}
	reader, err := col.CreateDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("arango store: ingest relations: %w", err)
	}
	for {
		if _, readErr := reader.Read(); readErr != nil {
			break
		}
	}
	return nil
}

// IngestMemoryCaches bulk-inserts scene/memory-cache documents.
func (s *Store) IngestMemoryCaches(ctx context.Context, caches []tools.MemoryCache) error {
	if len(caches) == 0 {
		return nil
	}
	col, err := s.db.GetCollection(ctx, collMemoryCaches, nil)
	if err != nil {
		return fmt.Errorf("arango store: get memory_caches collection: %w", err)
	}
	docs := make([]map[string]any, len(caches))
	for i, c := range caches {
		docs[i] = map[string]any{
			"_key":            makeKey(c.MemoryCacheID),
			"memory_cache_id": c.MemoryCacheID,
			"description":     c.Description,
			"physical_time":   c.PhysicalTime,
			"entity_ids":      c.EntityIDs,
			"relation_ids":    c.RelationIDs,
		}
	}
	reader, err := col.CreateDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("arango store: ingest memory caches: %w", err)
	}
	for {
		if _, readErr := reader.Read(); readErr != nil {
			break
		}
	}
	return nil
}

// SearchEntity matches entity names by a LIKE-translated substring/glob
// pattern, same convention as the code graph's symbol search. When a
// NameSearcher is attached, its ranked candidate IDs are resolved instead,
// falling back to the AQL scan on any searcher error.
func (s *Store) SearchEntity(ctx context.Context, name string, limit int) ([]tools.Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.nameSearcher != nil {
		if entities, err := s.searchEntityViaNameSearcher(ctx, name, limit); err == nil {
			return entities, nil
		} else {
			slog.WarnContext(ctx, "arango store: typesense search failed, falling back to AQL scan", "error", err)
		}
	}
	pattern := "%" + strings.ReplaceAll(name, "*", "%") + "%"
	query := `
		FOR e IN @@collection
			FILTER LIKE(e.name, @pattern, true)
			SORT e.name
			LIMIT @limit
			RETURN e
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{"@collection": collEntities, "pattern": pattern, "limit": limit},
	})
	if err != nil {
		return nil, fmt.Errorf("arango store: search_entity query: %w", err)
	}
	defer cursor.Close()

	var out []tools.Entity
	for cursor.HasMore() {
		var doc entityDoc
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("arango store: read entity: %w", err)
		}
		out = append(out, doc.toEntity())
	}
	return out, nil
}

func (s *Store) searchEntityViaNameSearcher(ctx context.Context, name string, limit int) ([]tools.Entity, error) {
	ids, err := s.nameSearcher.SearchNames(ctx, name, limit)
	if err != nil {
		return nil, err
	}
	out := make([]tools.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEntityByID(ctx, id)
		if err != nil {
			continue // indexed but since deleted from the graph store
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) GetEntityByID(ctx context.Context, entityID string) (tools.Entity, error) {
	col, err := s.db.GetCollection(ctx, collEntities, nil)
	if err != nil {
		return tools.Entity{}, fmt.Errorf("arango store: get_entity_by_id: %w", err)
	}
	var doc entityDoc
	if _, err := col.ReadDocument(ctx, makeKey(entityID), &doc); err != nil {
		return tools.Entity{}, fmt.Errorf("arango store: entity %s not found: %w", entityID, err)
	}
	return doc.toEntity(), nil
}

func (s *Store) FindRelations(ctx context.Context, entityID string) ([]tools.Relation, error) {
	query := `
		FOR r IN @@collection
			FILTER r.from_entity_id == @entityID OR r.to_entity_id == @entityID
			SORT r.physical_time
			RETURN r
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{"@collection": collRelations, "entityID": entityID},
	})
	if err != nil {
		return nil, fmt.Errorf("arango store: find_relations query: %w", err)
	}
	defer cursor.Close()

	var out []tools.Relation
	for cursor.HasMore() {
		var doc relationDoc
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("arango store: read relation: %w", err)
		}
		out = append(out, doc.toRelation())
	}
	return out, nil
}

// FindPaths walks the named graph outbound from fromEntityID up to maxHops,
// keeping only traversals that terminate at toEntityID.
func (s *Store) FindPaths(ctx context.Context, fromEntityID, toEntityID string, maxHops int) ([]tools.Path, error) {
	if maxHops <= 0 {
		maxHops = 3
	}
	query := `
		FOR v, e, p IN 1..@maxHops OUTBOUND @start GRAPH @graph
			FILTER v._key == @toKey
			LIMIT 20
			RETURN p
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"maxHops": maxHops,
			"start":   fmt.Sprintf("%s/%s", collEntities, makeKey(fromEntityID)),
			"graph":   graphName,
			"toKey":   makeKey(toEntityID),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("arango store: find_paths query: %w", err)
	}
	defer cursor.Close()

	var paths []tools.Path
	for cursor.HasMore() {
		var doc struct {
			Vertices []entityDoc   `json:"vertices"`
			Edges    []relationDoc `json:"edges"`
		}
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("arango store: read path: %w", err)
		}
		path := tools.Path{FromEntityID: fromEntityID, ToEntityID: toEntityID}
		for i, rel := range doc.Edges {
			toEntity := tools.Entity{}
			if i+1 < len(doc.Vertices) {
				toEntity = doc.Vertices[i+1].toEntity()
			}
			path.Edges = append(path.Edges, tools.PathEdge{Relation: rel.toRelation(), ToEntity: toEntity})
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// GetVersionHistory returns every recorded version of an entity in
// ascending physical_time order.
func (s *Store) GetVersionHistory(ctx context.Context, entityID string) ([]tools.Entity, error) {
	query := `
		FOR v IN @@collection
			FILTER v.entity_id == @entityID
			SORT v.physical_time ASC
			RETURN v
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{"@collection": collVersions, "entityID": entityID},
	})
	if err != nil {
		return nil, fmt.Errorf("arango store: get_version_history query: %w", err)
	}
	defer cursor.Close()

	var out []tools.Entity
	for cursor.HasMore() {
		var doc entityDoc
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("arango store: read version: %w", err)
		}
		out = append(out, doc.toEntity())
	}
	return out, nil
}

func (s *Store) GetMemoryCache(ctx context.Context, memoryCacheID string) (tools.MemoryCache, error) {
	col, err := s.db.GetCollection(ctx, collMemoryCaches, nil)
	if err != nil {
		return tools.MemoryCache{}, fmt.Errorf("arango store: get_memory_cache: %w", err)
	}
	var doc memoryCacheDoc
	if _, err := col.ReadDocument(ctx, makeKey(memoryCacheID), &doc); err != nil {
		return tools.MemoryCache{}, fmt.Errorf("arango store: memory_cache %s not found: %w", memoryCacheID, err)
	}
	return doc.toMemoryCache(), nil
}

// GetEntityAtTime returns the latest version whose physical_time is not
// after at, falling back to the current live entity document when no
// version history has been recorded.
func (s *Store) GetEntityAtTime(ctx context.Context, entityID string, at time.Time) (tools.Entity, error) {
	query := `
		FOR v IN @@collection
			FILTER v.entity_id == @entityID AND v.physical_time <= @at
			SORT v.physical_time DESC
			LIMIT 1
			RETURN v
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{"@collection": collVersions, "entityID": entityID, "at": at.Format(time.RFC3339)},
	})
	if err != nil {
		return tools.Entity{}, fmt.Errorf("arango store: get_entity_at_time query: %w", err)
	}
	defer cursor.Close()

	if cursor.HasMore() {
		var doc entityDoc
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return tools.Entity{}, fmt.Errorf("arango store: read version: %w", err)
		}
		return doc.toEntity(), nil
	}

	slog.DebugContext(ctx, "arango store: no version at time, falling back to live entity", "entity_id", entityID)
	return s.GetEntityByID(ctx, entityID)
}

func makeKey(id string) string {
	hash := md5.Sum([]byte(id))
	return hex.EncodeToString(hash[:])[:16]
}

type entityDoc struct {
	Key           string         `json:"_key"`
	EntityID      string         `json:"entity_id"`
	Name          string         `json:"name"`
	Content       string         `json:"content"`
	PhysicalTime  time.Time      `json:"physical_time"`
	MemoryCacheID string         `json:"memory_cache_id"`
	Attributes    map[string]any `json:"attributes"`
}

func (d entityDoc) toEntity() tools.Entity {
	return tools.Entity{
		EntityID:      d.EntityID,
		Name:          d.Name,
		Content:       d.Content,
		PhysicalTime:  d.PhysicalTime,
		MemoryCacheID: d.MemoryCacheID,
		Attributes:    d.Attributes,
	}
}

type relationDoc struct {
	Key          string    `json:"_key"`
	RelationID   string    `json:"relation_id"`
	FromEntityID string    `json:"from_entity_id"`
	ToEntityID   string    `json:"to_entity_id"`
	Label        string    `json:"label"`
	Content      string    `json:"content"`
	PhysicalTime time.Time `json:"physical_time"`
	MemoryCacheID string   `json:"memory_cache_id"`
}

func (d relationDoc) toRelation() tools.Relation {
	return tools.Relation{
		RelationID:    d.RelationID,
		FromEntityID:  d.FromEntityID,
		ToEntityID:    d.ToEntityID,
		Label:         d.Label,
		Content:       d.Content,
		PhysicalTime:  d.PhysicalTime,
		MemoryCacheID: d.MemoryCacheID,
	}
}

type memoryCacheDoc struct {
	Key           string    `json:"_key"`
	MemoryCacheID string    `json:"memory_cache_id"`
	Description   string    `json:"description"`
	PhysicalTime  time.Time `json:"physical_time"`
	EntityIDs     []string  `json:"entity_ids"`
	RelationIDs   []string  `json:"relation_ids"`
}

func (d memoryCacheDoc) toMemoryCache() tools.MemoryCache {
	return tools.MemoryCache{
		MemoryCacheID: d.MemoryCacheID,
		Description:   d.Description,
		PhysicalTime:  d.PhysicalTime,
		EntityIDs:     d.EntityIDs,
		RelationIDs:   d.RelationIDs,
	}
}
