package enhance

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// DefaultDocClass is the Weaviate class searched when none is configured.
const DefaultDocClass = "LegacyDoc"

// WeaviateConfig configures WeaviateRetriever. Host may carry an
// http:// or https:// prefix.
type WeaviateConfig struct {
	Host   string
	Class  string
	APIKey string
	Logger *slog.Logger
}

// WeaviateRetriever runs BM25 keyword search over a class holding
// reference documentation with title, content and source properties.
type WeaviateRetriever struct {
	client *weaviate.Client
	class  string
	logger *slog.Logger
}

// NewWeaviateRetriever creates a retriever. It does not contact the server.
func NewWeaviateRetriever(cfg WeaviateConfig) (*WeaviateRetriever, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("enhance: weaviate host is required")
	}
	wcfg := weaviate.Config{Host: cfg.Host, Scheme: "http"}
	if rest, ok := strings.CutPrefix(cfg.Host, "https://"); ok {
		wcfg.Scheme, wcfg.Host = "https", rest
	} else if rest, ok := strings.CutPrefix(cfg.Host, "http://"); ok {
		wcfg.Host = rest
	}
	if cfg.APIKey != "" {
		wcfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("enhance: create weaviate client: %w", err)
	}

	class := cmp.Or(cfg.Class, DefaultDocClass)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateRetriever{client: client, class: class, logger: logger}, nil
}

func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string, limit int) ([]Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional { id score }"},
	}
	result, err := r.client.GraphQL().Get().
		WithClassName(r.class).
		WithFields(fields...).
		WithBM25(r.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, &EnhancementError{Provider: "weaviate", Message: "search failed", Err: err}
	}
	if len(result.Errors) > 0 {
		return nil, &EnhancementError{Provider: "weaviate", Message: result.Errors[0].Message}
	}

	data, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return []Document{}, nil
	}
	objects, ok := data[r.class].([]any)
	if !ok {
		return []Document{}, nil
	}

	docs := make([]Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		doc := Document{
			Title:   getString(m, "title"),
			Content: getString(m, "content"),
			Source:  getString(m, "source"),
		}
		if additional, ok := m["_additional"].(map[string]any); ok {
			doc.ID = getString(additional, "id")
			doc.Score = parseScore(additional["score"])
		}
		docs = append(docs, doc)
	}
	r.logger.Debug("retrieved documents", "class", r.class, "count", len(docs))
	return docs, nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// parseScore reads a BM25 score, which Weaviate reports as a string.
func parseScore(v any) float64 {
	switch s := v.(type) {
	case float64:
		return s
	case string:
		var f float64
		if _, err := fmt.Sscanf(s, "%g", &f); err == nil {
			return f
		}
	}
	return 0
}

// StaticRetriever ranks a fixed document set by query term overlap.
type StaticRetriever struct {
	Docs []Document
}

func (s *StaticRetriever) Retrieve(ctx context.Context, query string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := make(map[string]bool)
	for _, t := range tokenize(query) {
		terms[t] = true
	}
	if len(terms) == 0 {
		return nil, nil
	}

	var hits []Document
	for _, d := range s.Docs {
		var score float64
		for _, t := range tokenize(d.Title + " " + d.Content) {
			if terms[t] {
				score++
			}
		}
		if score > 0 {
			d.Score = score
			hits = append(hits, d)
		}
	}
	slices.SortFunc(hits, func(a, b Document) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
