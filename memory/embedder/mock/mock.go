package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/becomeliminal/nim-memory/memory"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// MockEmbedder is a simple mock embedder for testing.
// It generates deterministic embeddings based on text hash.
type MockEmbedder struct {
	dimensions int
	calls      atomic.Int64
}

// New creates a new mock embedder.
func New() *MockEmbedder {
	return NewWithDimensions(DefaultDimensions)
}

// NewWithDimensions creates a mock embedder producing vectors of size dims.
func NewWithDimensions(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &MockEmbedder{dimensions: dims}
}

// Embed creates a deterministic embedding from text.
// Uses hash-based generation for consistent results.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", memory.ErrEmbeddingUnavailable, err)
	}

	h := fnv.New64a()
	h.Write([]byte(text))

	embedding := make([]float32, m.dimensions)

	// Use hash as seed for pseudo-random generation
	seed := h.Sum64()
	for i := 0; i < m.dimensions; i++ {
		// Simple LCG (Linear Congruential Generator)
		seed = seed*6364136223846793005 + 1442695040888963407
		// Convert to [-1, 1] range
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// Calls returns how many times Embed was invoked.
func (m *MockEmbedder) Calls() int {
	return int(m.calls.Load())
}

// KeywordEmbedder maps text onto a tiny bag-of-stems space so tests can
// reason about similarity by hand. Dimension i counts the words starting
// with stems[i]; one extra dimension catches text matching no stem.
//
//	e := NewKeyword("dns", "button", "modem")
//	e.Embed(ctx, "DNS buttons") // [1 1 0 0]
type KeywordEmbedder struct {
	stems []string
	calls atomic.Int64
}

// NewKeyword creates a keyword embedder over the given stems.
func NewKeyword(stems ...string) *KeywordEmbedder {
	lowered := make([]string, len(stems))
	for i, s := range stems {
		lowered[i] = strings.ToLower(s)
	}
	return &KeywordEmbedder{stems: lowered}
}

// Embed counts stem occurrences in text. The result is not normalized.
func (k *KeywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", memory.ErrEmbeddingUnavailable, err)
	}

	vec := make([]float32, len(k.stems)+1)
	matched := false
	for _, word := range tokenize(text) {
		for i, stem := range k.stems {
			if strings.HasPrefix(word, stem) {
				vec[i]++
				matched = true
			}
		}
	}
	if !matched {
		vec[len(k.stems)] = 1
	}
	return vec, nil
}

// Dimensions returns len(stems)+1.
func (k *KeywordEmbedder) Dimensions() int {
	return len(k.stems) + 1
}

// Calls returns how many times Embed was invoked.
func (k *KeywordEmbedder) Calls() int {
	return int(k.calls.Load())
}

// UnavailableEmbedder always fails, simulating an unreachable model.
type UnavailableEmbedder struct {
	Dims  int
	calls atomic.Int64
}

// NewUnavailable creates an embedder whose every call fails.
func NewUnavailable() *UnavailableEmbedder {
	return &UnavailableEmbedder{Dims: DefaultDimensions}
}

// Embed always returns memory.ErrEmbeddingUnavailable.
func (u *UnavailableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	u.calls.Add(1)
	return nil, fmt.Errorf("%w: mock model offline", memory.ErrEmbeddingUnavailable)
}

// Dimensions returns the configured size.
func (u *UnavailableEmbedder) Dimensions() int {
	return u.Dims
}

// Calls returns how many times Embed was invoked.
func (u *UnavailableEmbedder) Calls() int {
	return int(u.calls.Load())
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}
