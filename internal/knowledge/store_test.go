package knowledge

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Fake Querier
// ============================================================================

// fakeRow is one stored chunk inside the fake querier.
type fakeRow struct {
	ChunkRow
	embedding []float32
}

// fakeQuerier is an in-memory Querier that mirrors the SQL semantics:
// insert-or-increment keyed by content hash, similarity search ordered by
// cosine distance with access-count/last-accessed tie-breaks, expiry-aware.
type fakeQuerier struct {
	mu   sync.Mutex
	rows map[string]*fakeRow // keyed by content hash

	upsertErr error
	searchErr error
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{rows: make(map[string]*fakeRow)}
}

func (f *fakeQuerier) UpsertChunk(_ context.Context, p UpsertChunkParams) (UpsertChunkRow, error) {
	if f.upsertErr != nil {
		return UpsertChunkRow{}, f.upsertErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.rows[p.ContentHash]; ok {
		existing.AccessCount++
		existing.LastAccessed = time.Now()
		if existing.embedding == nil {
			existing.embedding = p.Embedding
		}
		return UpsertChunkRow{ID: existing.ID, Created: false, AccessCount: existing.AccessCount}, nil
	}

	now := time.Now()
	row := &fakeRow{
		ChunkRow: ChunkRow{
			ID:                uuid.New(),
			Content:           p.Content,
			ContentHash:       p.ContentHash,
			SourceType:        p.SourceType,
			SourceURL:         p.SourceURL,
			Title:             p.Title,
			AccessCount:       0,
			LastAccessed:      now,
			FirstCached:       now,
			ExpiresAt:         p.ExpiresAt,
			RelevanceScore:    p.RelevanceScore,
			AuthorityScore:    p.AuthorityScore,
			UserFeedbackScore: p.UserFeedbackScore,
			Metadata:          p.Metadata,
		},
		embedding: p.Embedding,
	}
	f.rows[p.ContentHash] = row
	return UpsertChunkRow{ID: row.ID, Created: true, AccessCount: 0}, nil
}

func (f *fakeQuerier) SearchChunks(_ context.Context, p SearchChunksParams) ([]ChunkRow, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	var hits []ChunkRow
	for _, row := range f.rows {
		if row.embedding == nil {
			continue
		}
		if p.SourceFilter != "" && row.SourceType != p.SourceFilter {
			continue
		}
		if row.ExpiresAt != nil && !row.ExpiresAt.After(now) {
			continue
		}
		hit := row.ChunkRow
		hit.Similarity = cosine(p.QueryEmbedding, row.embedding)
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if hits[i].AccessCount != hits[j].AccessCount {
			return hits[i].AccessCount > hits[j].AccessCount
		}
		return hits[i].LastAccessed.After(hits[j].LastAccessed)
	})

	if len(hits) > int(p.Limit) {
		hits = hits[:p.Limit]
	}
	return hits, nil
}

func (f *fakeQuerier) SearchChunksBySource(ctx context.Context, p SearchChunksBySourceParams) ([]ChunkRow, error) {
	return f.SearchChunks(ctx, SearchChunksParams{
		QueryEmbedding: p.QueryEmbedding,
		Limit:          p.Limit,
		SourceFilter:   p.SourceType,
	})
}

func (f *fakeQuerier) DeleteExpiredChunks(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for hash, row := range f.rows {
		if row.ExpiresAt != nil && !row.ExpiresAt.After(now) {
			delete(f.rows, hash)
			n++
		}
	}
	return n, nil
}

func (f *fakeQuerier) RecordChunkAccess(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, row := range f.rows {
		if row.ID == id {
			row.AccessCount++
			row.LastAccessed = time.Now()
			return nil
		}
	}
	return ErrChunkNotFound
}

// cosine computes cosine similarity the same way the session store does.
func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt(normA) * sqrt(normB))
}

func sqrt(x float64) float64 {
	// Newton's method is plenty for test vectors.
	if x == 0 {
		return 0
	}
	z := x
	for range 20 {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// testEmbedding builds a dimension-sized vector with the given leading values.
func testEmbedding(lead ...float32) []float32 {
	v := make([]float32, VectorDimension)
	copy(v, lead)
	return v
}

// ============================================================================
// Upsert
// ============================================================================

func TestStore_Upsert_DedupIdempotence(t *testing.T) {
	q := newFakeQuerier()
	store := NewStore(q, 0, nil)
	ctx := context.Background()

	chunk := Chunk{
		Content:    "Spark executors fail with OutOfMemoryError during shuffle",
		SourceType: SourceTypeQASite,
		Embedding:  testEmbedding(1),
	}

	first, err := store.Upsert(ctx, []Chunk{chunk})
	if err != nil {
		t.Fatalf("first Upsert() error: %v", err)
	}
	if !first[0].Created {
		t.Error("first upsert should create a row")
	}

	second, err := store.Upsert(ctx, []Chunk{chunk})
	if err != nil {
		t.Fatalf("second Upsert() error: %v", err)
	}
	if second[0].Created {
		t.Error("second upsert of identical content should not create a row")
	}
	if second[0].ID != first[0].ID {
		t.Errorf("second upsert returned id %s, want existing id %s", second[0].ID, first[0].ID)
	}
	if second[0].AccessCount != first[0].AccessCount+1 {
		t.Errorf("access count after second upsert = %d, want %d", second[0].AccessCount, first[0].AccessCount+1)
	}
	if len(q.rows) != 1 {
		t.Errorf("store holds %d rows, want 1", len(q.rows))
	}
}

func TestStore_Upsert_WhitespaceNormalizedHash(t *testing.T) {
	q := newFakeQuerier()
	store := NewStore(q, 0, nil)
	ctx := context.Background()

	a := Chunk{Content: "spark  memory   tuning", SourceType: SourceTypeOfficialDoc, Embedding: testEmbedding(1)}
	b := Chunk{Content: "spark memory tuning", SourceType: SourceTypeOfficialDoc, Embedding: testEmbedding(1)}

	if _, err := store.Upsert(ctx, []Chunk{a}); err != nil {
		t.Fatalf("Upsert(a) error: %v", err)
	}
	results, err := store.Upsert(ctx, []Chunk{b})
	if err != nil {
		t.Fatalf("Upsert(b) error: %v", err)
	}
	if results[0].Created {
		t.Error("whitespace variants should collapse to one row")
	}
}

func TestStore_Upsert_Validation(t *testing.T) {
	store := NewStore(newFakeQuerier(), 0, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		chunk   Chunk
		wantErr error
	}{
		{
			name:    "empty content",
			chunk:   Chunk{SourceType: SourceTypeQASite},
			wantErr: ErrEmptyContent,
		},
		{
			name:    "unknown source type",
			chunk:   Chunk{Content: "x", SourceType: "blog"},
			wantErr: ErrInvalidSourceType,
		},
		{
			name:    "short embedding",
			chunk:   Chunk{Content: "x", SourceType: SourceTypeQASite, Embedding: []float32{1, 2, 3}},
			wantErr: ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upsert(ctx, []Chunk{tt.chunk})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Upsert() = %v, want errors.Is(err, %v)", err, tt.wantErr)
			}
		})
	}
}

func TestStore_Upsert_NilEmbeddingAllowed(t *testing.T) {
	store := NewStore(newFakeQuerier(), 0, nil)

	// Live-fetched chunks arrive without embeddings; embedding happens
	// centrally before persist, but the store must accept the shape.
	_, err := store.Upsert(context.Background(), []Chunk{
		{Content: "pending embedding", SourceType: SourceTypeCodeHost},
	})
	if err != nil {
		t.Fatalf("Upsert() with nil embedding error: %v", err)
	}
}

// ============================================================================
// Search
// ============================================================================

func TestStore_Search_OrderAndTieBreak(t *testing.T) {
	q := newFakeQuerier()
	store := NewStore(q, 0, nil)
	ctx := context.Background()

	// Two chunks equidistant from the query; the proven one (higher access
	// count) must rank first regardless of insertion order.
	near := Chunk{Content: "near match", SourceType: SourceTypeQASite, Embedding: testEmbedding(1, 0)}
	tieA := Chunk{Content: "tie a", SourceType: SourceTypeQASite, Embedding: testEmbedding(0, 1)}
	tieB := Chunk{Content: "tie b", SourceType: SourceTypeQASite, Embedding: testEmbedding(0, 1)}

	if _, err := store.Upsert(ctx, []Chunk{tieB, near, tieA}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	// Bump tie a so the tie-break is on access count, not insertion order.
	if _, err := store.Upsert(ctx, []Chunk{tieA}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results, err := store.Search(ctx, testEmbedding(1, 0), 3, "")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Search() returned %d results, want 3", len(results))
	}

	if results[0].Chunk.Content != "near match" {
		t.Errorf("best hit = %q, want %q", results[0].Chunk.Content, "near match")
	}
	if results[1].Chunk.Content != "tie a" {
		t.Errorf("tie-break winner = %q, want %q (higher access count)", results[1].Chunk.Content, "tie a")
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not in non-increasing similarity order at %d", i)
		}
	}
	for _, r := range results {
		if r.Origin != OriginPersistent {
			t.Errorf("origin = %q, want %q", r.Origin, OriginPersistent)
		}
	}
}

func TestStore_Search_SourceFilter(t *testing.T) {
	q := newFakeQuerier()
	store := NewStore(q, 0, nil)
	ctx := context.Background()

	chunks := []Chunk{
		{Content: "qa content", SourceType: SourceTypeQASite, Embedding: testEmbedding(1)},
		{Content: "doc content", SourceType: SourceTypeOfficialDoc, Embedding: testEmbedding(1)},
	}
	if _, err := store.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results, err := store.Search(ctx, testEmbedding(1), 10, SourceTypeOfficialDoc)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("filtered search returned %d results, want 1", len(results))
	}
	if results[0].Chunk.SourceType != SourceTypeOfficialDoc {
		t.Errorf("result source = %q, want %q", results[0].Chunk.SourceType, SourceTypeOfficialDoc)
	}
}

func TestStore_Search_DimensionMismatch(t *testing.T) {
	store := NewStore(newFakeQuerier(), 0, nil)

	_, err := store.Search(context.Background(), []float32{1, 2, 3}, 5, "")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search() = %v, want ErrDimensionMismatch", err)
	}
}

func TestStore_Search_InvalidFilter(t *testing.T) {
	store := NewStore(newFakeQuerier(), 0, nil)

	_, err := store.Search(context.Background(), testEmbedding(1), 5, "blog")
	if !errors.Is(err, ErrInvalidSourceType) {
		t.Errorf("Search() = %v, want ErrInvalidSourceType", err)
	}
}

func TestStore_SearchBySource(t *testing.T) {
	q := newFakeQuerier()
	store := NewStore(q, 0, nil)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, []Chunk{
		{Content: "wiki page", SourceType: SourceTypeWiki, Embedding: testEmbedding(1)},
	}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results, err := store.SearchBySource(ctx, testEmbedding(1), 5, SourceTypeWiki)
	if err != nil {
		t.Fatalf("SearchBySource() error: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.SourceType != SourceTypeWiki {
		t.Errorf("SearchBySource() = %+v, want single wiki result", results)
	}
}

// ============================================================================
// Expiration
// ============================================================================

func TestStore_Expiration(t *testing.T) {
	q := newFakeQuerier()
	store := NewStore(q, 0, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	expired := Chunk{Content: "stale", SourceType: SourceTypeQASite, Embedding: testEmbedding(1), ExpiresAt: &past}
	curated := Chunk{Content: "evergreen", SourceType: SourceTypeInternal, Embedding: testEmbedding(1)}

	if _, err := store.Upsert(ctx, []Chunk{expired, curated}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	// Expired chunk must already be absent from search results.
	results, err := store.Search(ctx, testEmbedding(1), 10, "")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Content != "evergreen" {
		t.Fatalf("Search() = %+v, want only the curated chunk", results)
	}

	n, err := store.EvictExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("EvictExpired() error: %v", err)
	}
	if n != 1 {
		t.Errorf("EvictExpired() = %d, want 1", n)
	}

	// Idempotence: a second sweep with no time advance deletes nothing.
	n, err = store.EvictExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("second EvictExpired() error: %v", err)
	}
	if n != 0 {
		t.Errorf("second EvictExpired() = %d, want 0", n)
	}
}

// ============================================================================
// RecordAccess
// ============================================================================

func TestStore_RecordAccess(t *testing.T) {
	q := newFakeQuerier()
	store := NewStore(q, 0, nil)
	ctx := context.Background()

	results, err := store.Upsert(ctx, []Chunk{
		{Content: "tracked", SourceType: SourceTypeQASite, Embedding: testEmbedding(1)},
	})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	if err := store.RecordAccess(ctx, results[0].ID); err != nil {
		t.Fatalf("RecordAccess() error: %v", err)
	}

	if err := store.RecordAccess(ctx, uuid.New()); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("RecordAccess(unknown) = %v, want ErrChunkNotFound", err)
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash("hello   world")
	b := ContentHash("hello world")
	c := ContentHash("hello worlds")

	if a != b {
		t.Error("whitespace variants should hash equal")
	}
	if a == c {
		t.Error("different content should hash differently")
	}
}
