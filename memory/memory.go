package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type tags the provenance of a memory unit and its retrieval eligibility.
type Type string

const (
	TypeUserTurn   Type = "user_turn"
	TypeAgentTurn  Type = "agent_turn"
	TypeInsight    Type = "insight"
	TypeReflection Type = "reflection"
)

// AllTypes lists every memory type in a stable order.
var AllTypes = []Type{TypeUserTurn, TypeAgentTurn, TypeInsight, TypeReflection}

// Valid reports whether t is one of the known memory types.
func (t Type) Valid() bool {
	switch t {
	case TypeUserTurn, TypeAgentTurn, TypeInsight, TypeReflection:
		return true
	default:
		return false
	}
}

// ParseType converts a stored type string back into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown memory type: %q", s)
	}
	return t, nil
}

// Unit is one immutable, embedding-indexed record of conversational content.
//
// Units are built with NewUnit and never modified afterwards. The embedding is
// computed from Content once, before the unit is stored.
type Unit struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      Type      `json:"memory_type"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	SessionID string    `json:"session_id"` // Non-owning; sessions may be gone
}

// Retrieved is a recalled unit together with its relevance to the query.
type Retrieved struct {
	Unit
	// Relevance is non-negative and strictly increasing with similarity.
	Relevance float64 `json:"relevance_score"`
}

// Match is a raw store hit: a unit and its cosine similarity to the query vector.
type Match struct {
	Unit       *Unit
	Similarity float64
}

// Store is the vector storage backend interface.
// Implementations: chromem.Store (embedded, persistent), pgvector.Store (PostgreSQL).
//
// Stores must be safe for concurrent readers and writers. Each Upsert is
// atomic on its own; no cross-unit transactions are offered.
type Store interface {
	// Upsert inserts a new unit. It fails with ErrDuplicateID if the id is taken.
	Upsert(ctx context.Context, unit *Unit) error

	// QueryByVector returns up to topK units by descending similarity to
	// vector, optionally restricted to the given types. Ties are broken by
	// most recent CreatedAt first.
	QueryByVector(ctx context.Context, vector []float32, topK int, types ...Type) ([]Match, error)

	// Count returns the total number of stored units.
	Count(ctx context.Context) (int, error)

	// Get retrieves a unit by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Unit, error)

	// Delete removes units by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), openai (OpenAI-compatible APIs such as
// Ollama), onnx (local MiniLM), cache (memoizing wrapper).
//
// Embed must never fall back to a zero vector; when the model cannot be
// reached it returns an error wrapping ErrEmbeddingUnavailable.
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size (0 if not yet known).
	Dimensions() int
}

// SortMatches orders matches by descending similarity, then most recent
// CreatedAt, then id so results are stable across calls.
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Unit.CreatedAt.Equal(b.Unit.CreatedAt) {
			return a.Unit.CreatedAt.After(b.Unit.CreatedAt)
		}
		return a.Unit.ID < b.Unit.ID
	})
}
