package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/cache"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
)

func TestEmbedder_CachesRepeatedText(t *testing.T) {
	inner := mock.NewWithDimensions(8)
	e, err := cache.New(inner, cache.Config{MaxEntries: 100})
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	first, err := e.Embed(ctx, "DNS button modem broken")
	require.NoError(t, err)
	e.Wait()

	second, err := e.Embed(ctx, "DNS button modem broken")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.Calls())
	assert.Equal(t, 8, e.Dimensions())
}

func TestEmbedder_ReturnsCopies(t *testing.T) {
	inner := mock.NewWithDimensions(4)
	e, err := cache.New(inner, cache.Config{})
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	first, err := e.Embed(ctx, "text")
	require.NoError(t, err)
	e.Wait()

	want := append([]float32(nil), first...)
	first[0] = 42

	second, err := e.Embed(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, want, second)
}

func TestEmbedder_DoesNotCacheFailures(t *testing.T) {
	inner := mock.NewUnavailable()
	e, err := cache.New(inner, cache.Config{})
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	_, err = e.Embed(ctx, "text")
	require.ErrorIs(t, err, memory.ErrEmbeddingUnavailable)
	e.Wait()

	_, err = e.Embed(ctx, "text")
	require.ErrorIs(t, err, memory.ErrEmbeddingUnavailable)
	assert.Equal(t, 2, inner.Calls())
}

func TestEmbedder_DistinctTextsMiss(t *testing.T) {
	inner := mock.NewWithDimensions(4)
	a, err := cache.New(inner, cache.Config{Namespace: "nomic-embed-text"})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.Embed(ctx, "text")
	require.NoError(t, err)
	_, err = a.Embed(ctx, "other text")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls())
}
