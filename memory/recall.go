package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
)

// RecallConfig holds RecallEngine configuration.
type RecallConfig struct {
	// TopK is the number of most similar units requested from the store.
	// Default: 5
	TopK int

	// MinRelevance is the floor a memory's relevance must exceed to be
	// returned. Relevance is (1+cosine)/2, so 0.5 keeps only memories that
	// point in the same general direction as the query.
	// Default: 0.5
	MinRelevance float64

	// Types restricts recall to these memory types. Empty means all types.
	Types []Type
}

// DefaultRecallConfig returns the defaults used when no config is supplied.
var DefaultRecallConfig = &RecallConfig{
	TopK:         5,
	MinRelevance: 0.5,
}

// RecallEngine produces a ranked list of memories relevant to a query.
//
// Recall is read-only: it embeds the query, asks the store for the nearest
// units and scores them. An empty store short-circuits before embedding.
type RecallEngine struct {
	store    Store
	embedder Embedder
	config   RecallConfig
}

// NewRecallEngine creates a RecallEngine. A nil config uses DefaultRecallConfig;
// a non-positive TopK falls back to the default.
func NewRecallEngine(store Store, embedder Embedder, config *RecallConfig) *RecallEngine {
	if config == nil {
		config = DefaultRecallConfig
	}
	cfg := *config
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultRecallConfig.TopK
	}
	cfg.Types = append([]Type(nil), cfg.Types...)
	return &RecallEngine{
		store:    store,
		embedder: embedder,
		config:   cfg,
	}
}

// Config returns a copy of the engine configuration.
func (r *RecallEngine) Config() RecallConfig {
	cfg := r.config
	cfg.Types = append([]Type(nil), cfg.Types...)
	return cfg
}

// Recall returns memories relevant to query, most relevant first.
func (r *RecallEngine) Recall(ctx context.Context, query string) ([]Retrieved, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	count, err := r.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	if count == 0 {
		log.Printf("[MEMORY] Store is empty, skipping recall for query: %q", truncateLog(query, 50))
		return nil, nil
	}

	// Embed query
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := r.store.QueryByVector(ctx, embedding, r.config.TopK, r.config.Types...)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}

	retrieved := make([]Retrieved, 0, len(matches))
	for _, m := range matches {
		relevance := Relevance(m.Similarity)
		if relevance <= r.config.MinRelevance {
			continue
		}
		retrieved = append(retrieved, Retrieved{Unit: *m.Unit, Relevance: relevance})
	}

	log.Printf("[MEMORY] Retrieved %d memories (%d candidates) for query: %q",
		len(retrieved), len(matches), truncateLog(query, 50))
	if len(retrieved) == 0 {
		return nil, nil
	}
	return retrieved, nil
}

// Relevance maps a cosine similarity in [-1, 1] onto [0, 1].
// Out-of-range inputs (rounding noise) are clamped first; NaN scores 0.
func Relevance(similarity float64) float64 {
	switch {
	case math.IsNaN(similarity):
		return 0
	case similarity > 1:
		similarity = 1
	case similarity < -1:
		similarity = -1
	}
	return (1 + similarity) / 2
}
