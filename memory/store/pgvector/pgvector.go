// Package pgvector stores memory units in PostgreSQL using the pgvector
// extension. It suits deployments where several agent processes share one
// memory, which the embedded chromem store cannot serve.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/becomeliminal/nim-memory/memory"
)

const (
	defaultTable = "memory_units"

	// pqUniqueViolation is the SQLSTATE for unique_violation.
	pqUniqueViolation = "23505"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Config configures a pgvector-backed store.
type Config struct {
	// DSN is a lib/pq connection string.
	DSN string

	// Table holds the units (default: "memory_units").
	Table string

	// Dimensions fixes the vector column size and enables an HNSW index.
	// Zero leaves the column unconstrained.
	Dimensions int

	// MaxOpenConns caps the connection pool (default: 5).
	MaxOpenConns int
}

// Store implements memory.Store on PostgreSQL.
type Store struct {
	db    *sql.DB
	table string
}

var _ memory.Store = (*Store)(nil)

// New connects, verifies the connection and creates the schema if missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pgvector: DSN is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !identRe.MatchString(table) {
		return nil, errors.Errorf("pgvector: invalid table name %q", table)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 5
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, unavailable(errors.Wrap(err, "failed to open database"))
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable(errors.Wrap(err, "failed to ping database"))
	}

	s := &Store{db: db, table: table}
	if err := s.migrate(ctx, cfg.Dimensions); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[PGVECTOR] Connected (table=%s, dims=%d)", table, cfg.Dimensions)
	return s, nil
}

func (s *Store) migrate(ctx context.Context, dims int) error {
	column := "vector"
	if dims > 0 {
		column = fmt.Sprintf("vector(%d)", dims)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id          TEXT PRIMARY KEY,
			content     TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			embedding   ` + column + ` NOT NULL,
			session_id  TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + s.table + `_type_idx ON ` + s.table + ` (memory_type)`,
	}
	if dims > 0 {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS `+s.table+`_embedding_idx ON `+s.table+
			` USING hnsw (embedding vector_cosine_ops)`)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return unavailable(errors.Wrap(err, "failed to migrate schema"))
		}
	}
	return nil
}

// Upsert inserts a unit, failing with memory.ErrDuplicateID if the id exists.
func (s *Store) Upsert(ctx context.Context, unit *memory.Unit) error {
	if err := unit.Validate(); err != nil {
		return err
	}

	stmt := `INSERT INTO ` + s.table + ` (id, content, memory_type, embedding, session_id, created_at)
		VALUES (` + placeholders(6) + `)`
	_, err := s.db.ExecContext(ctx, stmt,
		unit.ID,
		unit.Content,
		string(unit.Type),
		pgvector.NewVector(unit.Embedding),
		unit.SessionID,
		unit.CreatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("%w: %s", memory.ErrDuplicateID, unit.ID)
		}
		return unavailable(errors.Wrap(err, "failed to insert memory unit"))
	}

	log.Printf("[PGVECTOR] Stored memory: id=%s, type=%s, session=%s", unit.ID, unit.Type, unit.SessionID)
	return nil
}

// QueryByVector retrieves units by cosine similarity.
// The <=> operator computes cosine distance (1 - cosine similarity).
func (s *Store) QueryByVector(ctx context.Context, vector []float32, topK int, types ...memory.Type) ([]memory.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	args := []any{pgvector.NewVector(vector)}
	where := "1 = 1"
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		args = append(args, pq.Array(names))
		where = "memory_type = ANY(" + placeholder(len(args)) + ")"
	}
	args = append(args, topK)

	query := `
		SELECT id, content, memory_type, embedding, session_id, created_at,
			1 - (embedding <=> $1) AS similarity
		FROM ` + s.table + `
		WHERE ` + where + `
		ORDER BY embedding <=> $1, created_at DESC, id
		LIMIT ` + placeholder(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(errors.Wrap(err, "failed to vector search"))
	}
	defer rows.Close()

	var matches []memory.Match
	for rows.Next() {
		var (
			unit       memory.Unit
			typ        string
			vec        pgvector.Vector
			similarity sql.NullFloat64
		)
		if err := rows.Scan(&unit.ID, &unit.Content, &typ, &vec, &unit.SessionID, &unit.CreatedAt, &similarity); err != nil {
			return nil, unavailable(errors.Wrap(err, "failed to scan vector search result"))
		}
		t, err := memory.ParseType(typ)
		if err != nil {
			log.Printf("[PGVECTOR] Skipping %s: %v", unit.ID, err)
			continue
		}
		unit.Type = t
		unit.Embedding = vec.Slice()
		unit.CreatedAt = unit.CreatedAt.UTC()
		matches = append(matches, memory.Match{Unit: &unit, Similarity: similarity.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(errors.Wrap(err, "failed to iterate vector search"))
	}

	memory.SortMatches(matches)
	log.Printf("[PGVECTOR] Returning %d matches (topK=%d, types=%v)", len(matches), topK, types)
	return matches, nil
}

// Count returns the number of stored units.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n); err != nil {
		return 0, unavailable(errors.Wrap(err, "failed to count memory units"))
	}
	return n, nil
}

// Get retrieves a unit by id.
func (s *Store) Get(ctx context.Context, id string) (*memory.Unit, error) {
	var (
		unit memory.Unit
		typ  string
		vec  pgvector.Vector
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, memory_type, embedding, session_id, created_at FROM `+s.table+` WHERE id = $1`, id,
	).Scan(&unit.ID, &unit.Content, &typ, &vec, &unit.SessionID, &unit.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable(errors.Wrap(err, "failed to get memory unit"))
	}

	if unit.Type, err = memory.ParseType(typ); err != nil {
		return nil, err
	}
	unit.Embedding = vec.Slice()
	unit.CreatedAt = unit.CreatedAt.UTC()
	return &unit, nil
}

// Delete removes units by id.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return unavailable(errors.Wrap(err, "failed to delete memory units"))
	}
	n, _ := result.RowsAffected()
	log.Printf("[PGVECTOR] Deleted %d memories", n)
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", memory.ErrStoreUnavailable, err)
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
