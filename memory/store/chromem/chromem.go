package chromem

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-memory/memory"
)

const (
	metaType      = "memory_type"
	metaSessionID = "session_id"
	metaCreatedAt = "created_at"

	defaultCollection = "memories"
)

// Config configures a chromem-backed store.
type Config struct {
	// Path is the directory of the persistent database.
	// Empty keeps everything in process memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool

	// Collection names the chromem collection (default: "memories").
	Collection string
}

// Store wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database; with a Path every
// added document is written to disk immediately, so units survive restarts.
type Store struct {
	db  *chromem.DB
	col *chromem.Collection

	// writeMu serializes the duplicate check with the insert.
	writeMu sync.Mutex
}

var _ memory.Store = (*Store)(nil)

// New opens (or creates) a chromem store.
func New(cfg Config) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: open persistent db: %w", memory.ErrStoreUnavailable, err)
		}
	}

	name := cfg.Collection
	if name == "" {
		name = defaultCollection
	}

	// We always provide embeddings, so no embedding func is configured.
	col, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: get or create collection: %w", memory.ErrStoreUnavailable, err)
	}

	log.Printf("[CHROMEM] Opened collection %q (path=%q, documents=%d)", name, cfg.Path, col.Count())
	return &Store{db: db, col: col}, nil
}

// Upsert inserts a unit, failing with memory.ErrDuplicateID if the id exists.
func (s *Store) Upsert(ctx context.Context, unit *memory.Unit) error {
	if err := unit.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.col.GetByID(ctx, unit.ID); err == nil {
		return fmt.Errorf("%w: %s", memory.ErrDuplicateID, unit.ID)
	}

	log.Printf("[CHROMEM] Storing memory: id=%s, type=%s, session=%s", unit.ID, unit.Type, unit.SessionID)

	doc := chromem.Document{
		ID:        unit.ID,
		Content:   unit.Content,
		Embedding: append([]float32(nil), unit.Embedding...),
		Metadata:  serializeMetadata(unit),
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: add document: %w", memory.ErrStoreUnavailable, err)
	}
	return nil
}

// QueryByVector retrieves units by cosine similarity.
func (s *Store) QueryByVector(ctx context.Context, vector []float32, topK int, types ...memory.Type) ([]memory.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	var matches []memory.Match
	if len(types) == 0 {
		results, err := s.queryTied(ctx, vector, topK, nil)
		if err != nil {
			return nil, err
		}
		matches = appendMatches(matches, results)
	} else {
		for _, t := range types {
			results, err := s.queryTied(ctx, vector, topK, map[string]string{metaType: string(t)})
			if err != nil {
				return nil, err
			}
			matches = appendMatches(matches, results)
		}
	}

	memory.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}

	log.Printf("[CHROMEM] Returning %d matches (topK=%d, types=%v)", len(matches), topK, types)
	return matches, nil
}

// queryTied returns at least the topK nearest documents plus every document
// tied with the topK-th, so recency can break ties at the cut-off. chromem
// returns an arbitrary subset of equally similar documents, so the limit is
// doubled until the last result is strictly less similar than the topK-th or
// the collection is exhausted.
func (s *Store) queryTied(ctx context.Context, vector []float32, topK int, where map[string]string) ([]chromem.Result, error) {
	want := topK * 2
	for {
		results, err := s.query(ctx, vector, want, where)
		if err != nil {
			return nil, err
		}
		if len(results) < want || len(results) <= topK {
			return results, nil
		}
		if results[len(results)-1].Similarity < results[topK-1].Similarity {
			return results, nil
		}
		n := s.col.Count()
		if want >= n {
			return results, nil
		}
		want = min(want*2, n)
	}
}

// query runs one chromem query. chromem-go requires nResults <= collection
// size, so the limit is clamped and lowered if documents vanish concurrently.
func (s *Store) query(ctx context.Context, vector []float32, limit int, where map[string]string) ([]chromem.Result, error) {
	if n := s.col.Count(); limit > n {
		limit = n
	}
	for ; limit >= 1; limit-- {
		results, err := s.col.QueryEmbedding(ctx, vector, limit, where, nil)
		if err == nil {
			return results, nil
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("%w: chromem query: %w", memory.ErrStoreUnavailable, err)
		}
	}
	// Collection is empty
	return nil, nil
}

// Count returns the number of stored units.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", memory.ErrStoreUnavailable, err)
	}
	return s.col.Count(), nil
}

// Get retrieves a unit by id.
func (s *Store) Get(ctx context.Context, id string) (*memory.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", memory.ErrStoreUnavailable, err)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", memory.ErrNotFound)
	}
	doc, err := s.col.GetByID(ctx, id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get document: %w", memory.ErrStoreUnavailable, err)
	}
	return deserializeUnit(doc.ID, doc.Content, doc.Embedding, doc.Metadata)
}

// Delete removes units by id.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%w: delete documents: %w", memory.ErrStoreUnavailable, err)
	}
	log.Printf("[CHROMEM] Deleted %d memories", len(ids))
	return nil
}

// Close releases resources. Persistent documents are written on insert,
// so there is nothing left to flush.
func (s *Store) Close() error {
	return nil
}

func appendMatches(matches []memory.Match, results []chromem.Result) []memory.Match {
	for i, result := range results {
		unit, err := deserializeUnit(result.ID, result.Content, result.Embedding, result.Metadata)
		if err != nil {
			log.Printf("[CHROMEM] Skipping result #%d: %v", i+1, err)
			continue
		}
		matches = append(matches, memory.Match{Unit: unit, Similarity: float64(result.Similarity)})
	}
	return matches
}

// serializeMetadata converts unit fields to chromem's string metadata.
func serializeMetadata(unit *memory.Unit) map[string]string {
	return map[string]string{
		metaType:      string(unit.Type),
		metaSessionID: unit.SessionID,
		metaCreatedAt: unit.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// deserializeUnit rebuilds a unit from a stored document.
// chromem-go keeps embeddings normalized, so Embedding is the unit vector of
// the original; cosine similarity is unaffected.
func deserializeUnit(id, content string, embedding []float32, metadata map[string]string) (*memory.Unit, error) {
	typ, err := memory.ParseType(metadata[metaType])
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, metadata[metaCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &memory.Unit{
		ID:        id,
		Content:   content,
		Type:      typ,
		Embedding: append([]float32(nil), embedding...),
		CreatedAt: createdAt,
		SessionID: metadata[metaSessionID],
	}, nil
}

// isInsufficientDocsError checks if error is due to insufficient documents.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
