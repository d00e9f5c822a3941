// Package cache memoizes embeddings in a ristretto cache.
//
// Embeddings are deterministic for a fixed model, so repeated texts (the same
// query asked twice, a turn embedded for recall and again for storage) can
// skip the model round trip.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-memory/memory"
)

// DefaultMaxEntries bounds the cache when Config.MaxEntries is zero.
const DefaultMaxEntries = 10_000

// Config configures the caching embedder.
type Config struct {
	// MaxEntries is the number of embeddings kept (default: DefaultMaxEntries).
	MaxEntries int64

	// Namespace separates caches of different models sharing a process.
	Namespace string
}

// Embedder wraps another embedder with an in-process cache.
// Failed embeddings are never cached.
type Embedder struct {
	inner     memory.Embedder
	cache     *ristretto.Cache
	namespace string
}

var _ memory.Embedder = (*Embedder)(nil)

// New wraps inner.
func New(inner memory.Embedder, cfg Config) (*Embedder, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.MaxEntries * 10,
		MaxCost:            cfg.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{inner: inner, cache: c, namespace: cfg.Namespace}, nil
}

// Embed returns the cached vector for text or computes and caches it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if v, ok := e.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return append([]float32(nil), vec...), nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, append([]float32(nil), vec...), 1)
	return vec, nil
}

// Dimensions returns the wrapped embedder's size.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until pending cache writes are applied.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close stops the cache's background goroutines.
func (e *Embedder) Close() error {
	e.cache.Close()
	return nil
}

func (e *Embedder) key(text string) string {
	sum := sha256.Sum256([]byte(e.namespace + "\x00" + text))
	return string(sum[:])
}
