package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Querier defines the database operations the Store needs. The interface
// is defined by the consumer, not the provider (like http.RoundTripper or
// io.Reader), so the Store depends on an abstraction and tests can supply
// a fake without a database.
type Querier interface {
	// UpsertChunk inserts a chunk or, when its content hash already exists,
	// bumps the existing row's access count and last-accessed time. It
	// reports the row identity and whether a new row was created.
	UpsertChunk(ctx context.Context, p UpsertChunkParams) (UpsertChunkRow, error)

	// SearchChunks returns the limit nearest unexpired rows by cosine
	// distance, optionally restricted to one source type (empty = all).
	SearchChunks(ctx context.Context, p SearchChunksParams) ([]ChunkRow, error)

	// SearchChunksBySource is the fixed-source variant of the similarity
	// contract used by background ingestion jobs.
	SearchChunksBySource(ctx context.Context, p SearchChunksBySourceParams) ([]ChunkRow, error)

	// DeleteExpiredChunks deletes rows whose expires_at is at or before
	// now and returns the number deleted.
	DeleteExpiredChunks(ctx context.Context, now time.Time) (int64, error)

	// RecordChunkAccess bumps access_count and last_accessed for one row.
	RecordChunkAccess(ctx context.Context, id uuid.UUID) error
}

// UpsertChunkParams carries one chunk's persisted columns.
type UpsertChunkParams struct {
	Content     string
	ContentHash string
	Embedding   []float32
	SourceType  string
	SourceURL   string
	Title       string
	ExpiresAt   *time.Time

	RelevanceScore    float64
	AuthorityScore    float64
	UserFeedbackScore float64

	Metadata map[string]string
}

// UpsertChunkRow is the identity returned by an upsert.
type UpsertChunkRow struct {
	ID          uuid.UUID
	Created     bool
	AccessCount int64
}

// SearchChunksParams selects the nearest rows, optionally filtered.
type SearchChunksParams struct {
	QueryEmbedding []float32
	Limit          int32
	SourceFilter   string // empty means no filter
}

// SearchChunksBySourceParams selects the nearest rows of one source type.
type SearchChunksBySourceParams struct {
	QueryEmbedding []float32
	Limit          int32
	SourceType     string
}

// ChunkRow is one similarity search hit as stored.
type ChunkRow struct {
	ID          uuid.UUID
	Content     string
	ContentHash string
	SourceType  string
	SourceURL   string
	Title       string

	AccessCount  int64
	LastAccessed time.Time
	FirstCached  time.Time
	ExpiresAt    *time.Time

	RelevanceScore    float64
	AuthorityScore    float64
	UserFeedbackScore float64

	Metadata   map[string]string
	Similarity float64
}

// Store is the persistent, deduplicated, vector-indexed store of knowledge
// chunks. It is the exclusive owner of persisted chunks and the only
// writer of their access telemetry.
//
// Store is safe for concurrent use by multiple goroutines: every mutation
// is a single parameterized statement, so the unique content-hash
// invariant holds under concurrent upserts of identical content.
type Store struct {
	queries   Querier
	dimension int
	logger    *slog.Logger
}

// NewStore creates a Store over the given querier. dimension is the
// configured embedding dimension; zero selects VectorDimension.
func NewStore(queries Querier, dimension int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if dimension <= 0 {
		dimension = VectorDimension
	}
	return &Store{
		queries:   queries,
		dimension: dimension,
		logger:    logger,
	}
}

// Upsert persists chunks one at a time. For each chunk the operation is
// atomic: a row with the same content hash absorbs the write by bumping
// access_count and refreshing last_accessed while keeping the earlier
// first_cached; otherwise a new row is inserted. The returned results
// align with the input slice.
//
// The whole call fails with ErrDimensionMismatch or ErrEmptyContent before
// any write when a chunk is malformed; store errors abort at the failing
// chunk with prior chunks already persisted (batch-atomic per chunk, not
// cross-chunk).
func (s *Store) Upsert(ctx context.Context, chunks []Chunk) ([]PersistResult, error) {
	for i := range chunks {
		if err := s.validate(&chunks[i]); err != nil {
			return nil, err
		}
	}

	results := make([]PersistResult, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		row, err := s.queries.UpsertChunk(ctx, UpsertChunkParams{
			Content:           c.Content,
			ContentHash:       c.ContentHash,
			Embedding:         c.Embedding,
			SourceType:        c.SourceType,
			SourceURL:         c.SourceURL,
			Title:             c.Title,
			ExpiresAt:         c.ExpiresAt,
			RelevanceScore:    c.RelevanceScore,
			AuthorityScore:    c.AuthorityScore,
			UserFeedbackScore: c.UserFeedbackScore,
			Metadata:          c.Metadata,
		})
		if err != nil {
			return results, fmt.Errorf("upserting chunk %q: %w", c.Title, err)
		}

		results = append(results, PersistResult{
			ID:          row.ID,
			Created:     row.Created,
			AccessCount: row.AccessCount,
		})
	}

	s.logger.Debug("upserted chunks", "count", len(chunks))
	return results, nil
}

// validate checks one chunk and fills its content hash if absent.
func (s *Store) validate(c *Chunk) error {
	if c.Content == "" {
		return ErrEmptyContent
	}
	if !ValidSourceType(c.SourceType) {
		return fmt.Errorf("%w: %q", ErrInvalidSourceType, c.SourceType)
	}
	if c.Embedding != nil && len(c.Embedding) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(c.Embedding), s.dimension)
	}
	if c.ContentHash == "" {
		c.ContentHash = ContentHash(c.Content)
	}
	return nil
}

// Search returns up to k unexpired chunks ordered by descending cosine
// similarity to queryEmbedding, restricted to sourceFilter when non-empty.
// Ties break on higher access_count then newer last_accessed, preferring
// proven, fresh knowledge. The backing index is approximate, so the top-k
// is best-effort.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, k int, sourceFilter string) ([]Result, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(queryEmbedding), s.dimension)
	}
	if sourceFilter != "" && !ValidSourceType(sourceFilter) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSourceType, sourceFilter)
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.queries.SearchChunks(ctx, SearchChunksParams{
		QueryEmbedding: queryEmbedding,
		Limit:          int32(k),
		SourceFilter:   sourceFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	return rowsToResults(rows), nil
}

// SearchBySource is the fixed-source variant of Search, used by background
// ingestion jobs that always target one source type.
func (s *Store) SearchBySource(ctx context.Context, queryEmbedding []float32, k int, sourceType string) ([]Result, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(queryEmbedding), s.dimension)
	}
	if !ValidSourceType(sourceType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSourceType, sourceType)
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.queries.SearchChunksBySource(ctx, SearchChunksBySourceParams{
		QueryEmbedding: queryEmbedding,
		Limit:          int32(k),
		SourceType:     sourceType,
	})
	if err != nil {
		return nil, fmt.Errorf("searching chunks by source: %w", err)
	}
	return rowsToResults(rows), nil
}

// EvictExpired deletes every chunk whose expires_at is at or before now
// and returns the number deleted. Chunks without an expiry are never
// touched. Safe to call concurrently with Search and Upsert.
func (s *Store) EvictExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.queries.DeleteExpiredChunks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("evicting expired chunks: %w", err)
	}
	if n > 0 {
		s.logger.Info("evicted expired chunks", "count", n)
	}
	return n, nil
}

// RecordAccess bumps the access telemetry of one chunk returned to a
// caller, independent of Upsert.
func (s *Store) RecordAccess(ctx context.Context, id uuid.UUID) error {
	if err := s.queries.RecordChunkAccess(ctx, id); err != nil {
		return fmt.Errorf("recording access for %s: %w", id, err)
	}
	return nil
}

// rowsToResults converts store rows to retrieval results tagged with the
// persistent-cache origin.
func rowsToResults(rows []ChunkRow) []Result {
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Chunk: Chunk{
				ID:                row.ID,
				Content:           row.Content,
				ContentHash:       row.ContentHash,
				SourceType:        row.SourceType,
				SourceURL:         row.SourceURL,
				Title:             row.Title,
				AccessCount:       row.AccessCount,
				LastAccessed:      row.LastAccessed,
				FirstCached:       row.FirstCached,
				ExpiresAt:         row.ExpiresAt,
				RelevanceScore:    row.RelevanceScore,
				AuthorityScore:    row.AuthorityScore,
				UserFeedbackScore: row.UserFeedbackScore,
				Metadata:          row.Metadata,
			},
			Similarity: row.Similarity,
			Origin:     OriginPersistent,
		})
	}
	return results
}
