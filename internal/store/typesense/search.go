// Package typesense gives search_entity a fuzzy full-text index ahead of
// the AQL LIKE scan in internal/store/arango. It is an optional
// collaborator: when no Typesense instance is configured, search_entity
// falls back to the graph store's own substring search.
package typesense

import (
	"context"
	"fmt"
	"log/slog"

	ts "github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"
)

const collectionName = "entities"

// Config holds the optional collaborator's connection settings. Disabled
// when APIKey is empty.
type Config struct {
	URL    string
	APIKey string
}

func (c Config) Enabled() bool { return c.APIKey != "" }

// NameSearcher resolves a free-text name into candidate entity IDs, ranked
// by relevance, before the graph store is asked to fetch them.
type NameSearcher interface {
	SearchNames(ctx context.Context, query string, limit int) ([]string, error)
}

// Searcher implements NameSearcher against a Typesense collection of
// indexed entity names.
type Searcher struct {
	client *ts.Client
}

// New connects to Typesense and ensures the entities collection exists.
func New(ctx context.Context, cfg Config) (*Searcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("typesense: URL is required")
	}
	client := ts.NewClient(
		ts.WithServer(cfg.URL),
		ts.WithAPIKey(cfg.APIKey),
	)

	s := &Searcher{client: client}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, fmt.Errorf("typesense: ensure collection: %w", err)
	}
	return s, nil
}

func (s *Searcher) ensureCollection(ctx context.Context) error {
	_, err := s.client.Collection(collectionName).Retrieve(ctx)
	if err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: collectionName,
		Fields: []api.Field{
			{Name: "entity_id", Type: "string"},
			{Name: "name", Type: "string"},
		},
		DefaultSortingField: pointer.String("name"),
	}
	_, err = s.client.Collections().Create(ctx, schema)
	return err
}

// IndexEntity upserts one entity's searchable name. Call after any ingest
// into the backing graph store, so Typesense stays in sync with it.
func (s *Searcher) IndexEntity(ctx context.Context, entityID, name string) error {
	doc := map[string]any{
		"id":        entityID,
		"entity_id": entityID,
		"name":      name,
	}
	_, err := s.client.Collection(collectionName).Documents().Upsert(ctx, doc)
	return err
}

// SearchNames returns matching entity IDs ordered by Typesense's relevance
// ranking, most relevant first.
func (s *Searcher) SearchNames(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	searchParams := &api.SearchCollectionParams{
		Q:       query,
		QueryBy: "name",
		PerPage: pointer.Int(limit),
	}

	result, err := s.client.Collection(collectionName).Documents().Search(ctx, searchParams)
	if err != nil {
		return nil, fmt.Errorf("typesense: search: %w", err)
	}
	if result.Hits == nil {
		return nil, nil
	}

	ids := make([]string, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		doc := *hit.Document
		if id, ok := doc["entity_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close is a no-op: the typesense-go client holds no persistent connection
// to release.
func (s *Searcher) Close() error {
	slog.Debug("typesense: closing searcher (no-op)")
	return nil
}
