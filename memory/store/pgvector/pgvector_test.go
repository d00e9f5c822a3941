package pgvector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1", placeholder(1))
	assert.Equal(t, "$1, $2, $3", placeholders(3))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	_, err = New(context.Background(), Config{DSN: "postgres://localhost/x", Table: "units; DROP TABLE x"})
	require.Error(t, err)
}

// openTestStore connects to NIM_MEMORY_TEST_PG_DSN with a throwaway table.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("NIM_MEMORY_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("NIM_MEMORY_TEST_PG_DSN not set")
	}

	table := "memory_test_" + uuid.NewString()[:8]
	s, err := New(context.Background(), Config{DSN: dsn, Table: table, Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
		_ = s.Close()
	})
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	unit := memory.NewUnit("pg1", memory.TypeUserTurn, "DNS button modem broken", "s1", []float32{1, 0, 0})
	require.NoError(t, s.Upsert(ctx, unit))
	require.ErrorIs(t, s.Upsert(ctx, unit), memory.ErrDuplicateID)

	other := memory.NewUnit("pg2", memory.TypeInsight, "weather is unrelated", "s1", []float32{0, 1, 0})
	require.NoError(t, s.Upsert(ctx, other))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := s.QueryByVector(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "pg1", matches[0].Unit.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)

	matches, err = s.QueryByVector(ctx, []float32{1, 0, 0}, 5, memory.TypeInsight)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "pg2", matches[0].Unit.ID)

	got, err := s.Get(ctx, "pg1")
	require.NoError(t, err)
	assert.Equal(t, unit.Content, got.Content)
	assert.WithinDuration(t, unit.CreatedAt, got.CreatedAt, time.Millisecond)

	require.NoError(t, s.Delete(ctx, "pg1", "pg2"))
	_, err = s.Get(ctx, "pg1")
	require.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStore_TiesPreferMostRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := memory.NewUnit("old", memory.TypeUserTurn, "old", "s", []float32{0, 0, 1})
	old.CreatedAt = old.CreatedAt.Add(-time.Hour)
	recent := memory.NewUnit("recent", memory.TypeUserTurn, "recent", "s", []float32{0, 0, 1})
	require.NoError(t, s.Upsert(ctx, old))
	require.NoError(t, s.Upsert(ctx, recent))

	matches, err := s.QueryByVector(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "recent", matches[0].Unit.ID)
}
