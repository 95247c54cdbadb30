// Package retriever implements hybrid retrieval over the persistent
// cache, per-session indexes, and live external sources.
//
// A query moves through a fixed pipeline: cache lookup, session lookup,
// an optional rate-limited live fan-out, a dedup-and-rank merge, and a
// detached persist of newly seen content. Per-source failures degrade
// the result set; they never fail the request.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ingnisage/workbench/internal/config"
	"github.com/ingnisage/workbench/internal/knowledge"
	"github.com/ingnisage/workbench/internal/source"
	"github.com/ingnisage/workbench/internal/telemetry"
)

// Sentinel errors for retrieval operations.
var (
	// ErrEmptyQuery indicates a blank query string.
	ErrEmptyQuery = errors.New("retriever: query is empty")

	// ErrNoProvider indicates an explicitly requested source type has no
	// registered client.
	ErrNoProvider = errors.New("retriever: no client for requested source")

	// ErrClosed indicates the retriever has been shut down.
	ErrClosed = errors.New("retriever: closed")
)

// PersistentStore is the subset of the knowledge store the retriever
// uses.
type PersistentStore interface {
	Search(ctx context.Context, queryEmbedding []float32, k int, sourceFilter string) ([]knowledge.Result, error)
	Upsert(ctx context.Context, chunks []knowledge.Chunk) ([]knowledge.PersistResult, error)
	RecordAccess(ctx context.Context, id uuid.UUID) error
}

// SessionStore is the subset of the session store the retriever uses.
type SessionStore interface {
	Add(sessionID string, chunks []knowledge.Chunk) error
	Search(sessionID string, queryEmbedding []float32, k int) []knowledge.Result
}

// Embedder produces query and chunk embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// RateLimiter admits or denies outbound source calls.
type RateLimiter interface {
	Allow(tool, identifier string) bool
}

// Request is one retrieval query.
type Request struct {
	Query        string
	SourceFilter string // optional; restricts both cache and live fetch
	MaxResults   int    // 0 selects the configured default
	SessionID    string // optional; enables the session index
	ForceRefresh bool   // fetch live even when the cache is confident
}

// Response is the outcome of one retrieval.
type Response struct {
	Results []knowledge.Result

	// Refusal is set when no result clears the confidence threshold.
	// Callers must render an explicit "insufficient information" signal
	// instead of presenting low-confidence results as an answer.
	Refusal bool
}

// Retriever coordinates the hybrid retrieval pipeline. Create one per
// process with New and release it with Close, which flushes pending
// background persists.
type Retriever struct {
	store    PersistentStore
	sessions SessionStore
	embedder Embedder
	limiter  RateLimiter
	sources  []source.Client
	sink     telemetry.Sink
	cfg      config.RetrievalConfig
	logger   *slog.Logger

	mu        sync.Mutex
	closed    bool
	persistWG sync.WaitGroup
}

// New creates a retriever. sessions may be nil when session indexes are
// not wired; sink may be nil to disable telemetry.
func New(
	store PersistentStore,
	sessions SessionStore,
	embedder Embedder,
	limiter RateLimiter,
	sources []source.Client,
	sink telemetry.Sink,
	cfg config.RetrievalConfig,
	logger *slog.Logger,
) *Retriever {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.RelevanceWeight == 0 {
		cfg.RelevanceWeight = 1
	}
	return &Retriever{
		store:    store,
		sessions: sessions,
		embedder: embedder,
		limiter:  limiter,
		sources:  sources,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve runs one query through the full pipeline.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	if req.MaxResults <= 0 {
		req.MaxResults = r.cfg.MaxResults
	}

	// Embedding failure leaves nothing to search against, which is a
	// low-confidence outcome rather than a request failure.
	queryEmbedding, err := r.embedQuery(ctx, req.Query)
	if err != nil {
		r.logger.Warn("query embedding failed", "error", err)
		return &Response{Refusal: true}, nil
	}

	// CacheLookup
	candidates, err := r.store.Search(ctx, queryEmbedding, req.MaxResults, req.SourceFilter)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	// SessionLookup
	if req.SessionID != "" && r.sessions != nil {
		candidates = append(candidates, r.sessions.Search(req.SessionID, queryEmbedding, req.MaxResults)...)
	}

	confident := bestSimilarity(candidates) >= r.cfg.ConfidenceThreshold

	// LiveFetch
	if !confident || req.ForceRefresh {
		applicable := r.applicableSources(req.SourceFilter)
		if req.SourceFilter != "" && len(applicable) == 0 && !confident {
			return nil, fmt.Errorf("%w: %s", ErrNoProvider, req.SourceFilter)
		}

		live := r.liveFetch(ctx, applicable, req)
		fresh := r.absorbLive(ctx, live, candidates, queryEmbedding)
		candidates = append(candidates, fresh...)

		if req.SessionID != "" && r.sessions != nil && len(fresh) > 0 {
			if err := r.sessions.Add(req.SessionID, resultChunks(fresh)); err != nil {
				r.logger.Warn("session index update failed", "error", err)
			}
		}
		r.persistAsync(fresh)
	}

	merged := r.merge(candidates, req.MaxResults)
	r.recordAccessAsync(merged)
	return &Response{
		Results: merged,
		Refusal: bestSimilarity(merged) < r.cfg.ConfidenceThreshold,
	}, nil
}

// recordAccessAsync bumps access telemetry for persistent chunks handed
// to the caller, off the request path. Best effort.
func (r *Retriever) recordAccessAsync(results []knowledge.Result) {
	var ids []uuid.UUID
	for _, res := range results {
		if res.Origin == knowledge.OriginPersistent {
			ids = append(ids, res.Chunk.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	r.persistWG.Add(1)
	go func() {
		defer r.persistWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, id := range ids {
			if err := r.store.RecordAccess(ctx, id); err != nil {
				r.logger.Debug("access record failed", "id", id, "error", err)
			}
		}
	}()
}

// Close waits for all pending background persists to finish. Further
// Retrieve calls fail with ErrClosed.
func (r *Retriever) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.persistWG.Wait()
	return nil
}

// embedQuery embeds the query under its own deadline.
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	defer cancel()

	vecs, err := r.embedder.Embed(embedCtx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// applicableSources filters the registered clients by source type.
func (r *Retriever) applicableSources(filter string) []source.Client {
	if filter == "" {
		return r.sources
	}
	var out []source.Client
	for _, client := range r.sources {
		if client.SourceType() == filter {
			out = append(out, client)
		}
	}
	return out
}

// fetchOutcome is one source's settled fan-out result.
type fetchOutcome struct {
	chunks []knowledge.Chunk
}

// liveFetch fans the query out to every admitted source in parallel and
// awaits all of them. Rate-limited sources are skipped silently; failed
// sources contribute nothing.
func (r *Retriever) liveFetch(ctx context.Context, clients []source.Client, req Request) []knowledge.Chunk {
	identifier := req.SessionID
	if identifier == "" {
		identifier = "global"
	}

	outcomes := make(chan fetchOutcome, len(clients))
	var wg sync.WaitGroup

	for _, client := range clients {
		if !r.limiter.Allow(client.Name(), identifier) {
			r.logger.Debug("source rate-limited", "tool", client.Name(), "identifier", identifier)
			continue
		}

		wg.Add(1)
		go func(client source.Client) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
			defer cancel()

			start := time.Now()
			chunks, err := client.Fetch(fetchCtx, req.Query, req.MaxResults)
			inv := telemetry.Invocation{
				Tool:        client.Name(),
				ArgsSummary: req.Query,
				Success:     err == nil,
				LatencyMS:   time.Since(start).Milliseconds(),
				SessionID:   req.SessionID,
			}
			if err != nil {
				inv.ErrorMessage = err.Error()
				r.logger.Warn("source fetch failed", "tool", client.Name(), "error", err)
			}
			r.sink.Record(inv)

			outcomes <- fetchOutcome{chunks: chunks}
		}(client)
	}

	wg.Wait()
	close(outcomes)

	var all []knowledge.Chunk
	for outcome := range outcomes {
		all = append(all, outcome.chunks...)
	}
	return all
}

// absorbLive deduplicates live chunks against known candidates, embeds
// the genuinely new ones, and returns them as live-fetch results. A live
// chunk whose hash matches a persistent candidate is a cache hit: its
// access is recorded and the live copy discarded.
func (r *Retriever) absorbLive(ctx context.Context, live []knowledge.Chunk, known []knowledge.Result, queryEmbedding []float32) []knowledge.Result {
	if len(live) == 0 {
		return nil
	}

	knownByHash := make(map[string]*knowledge.Result, len(known))
	for i := range known {
		knownByHash[known[i].Chunk.ContentHash] = &known[i]
	}

	var fresh []knowledge.Chunk
	seen := make(map[string]bool)
	for i := range live {
		if live[i].Content == "" {
			continue
		}
		if live[i].ContentHash == "" {
			live[i].ContentHash = knowledge.ContentHash(live[i].Content)
		}
		hash := live[i].ContentHash
		if seen[hash] {
			continue
		}
		seen[hash] = true

		// A live chunk matching a known candidate is a cache hit, not a
		// duplicate; the candidate's access is recorded when returned.
		if _, ok := knownByHash[hash]; ok {
			continue
		}
		fresh = append(fresh, live[i])
	}
	if len(fresh) == 0 {
		return nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	defer cancel()

	texts := make([]string, len(fresh))
	for i := range fresh {
		texts[i] = fresh[i].Content
	}
	vecs, err := r.embedder.Embed(embedCtx, texts)
	if err != nil || len(vecs) != len(fresh) {
		// Without embeddings the chunks cannot be ranked or persisted.
		r.logger.Warn("live chunk embedding failed", "count", len(fresh), "error", err)
		return nil
	}

	if ttl := r.cfg.CacheTTL; ttl > 0 {
		expires := time.Now().Add(ttl)
		for i := range fresh {
			fresh[i].ExpiresAt = &expires
		}
	}

	results := make([]knowledge.Result, len(fresh))
	for i := range fresh {
		fresh[i].Embedding = vecs[i]
		results[i] = knowledge.Result{
			Chunk:      fresh[i],
			Similarity: cosineSimilarity(queryEmbedding, vecs[i]),
			Origin:     knowledge.OriginLive,
		}
	}
	return results
}

// persistAsync hands newly seen chunks to the persistent store without
// blocking the caller's response. Failures are logged; the next
// identical query refetches and retries.
func (r *Retriever) persistAsync(fresh []knowledge.Result) {
	if len(fresh) == 0 {
		return
	}

	chunks := resultChunks(fresh)
	r.persistWG.Add(1)
	go func() {
		defer r.persistWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := r.store.Upsert(ctx, chunks); err != nil {
			r.logger.Warn("background persist failed", "chunks", len(chunks), "error", err)
			return
		}
		r.logger.Debug("persisted live chunks", "count", len(chunks))
	}()
}

// merge deduplicates candidates by content hash and ranks them. When
// duplicates span origins, the preferred origin wins: persistent over
// session over live.
func (r *Retriever) merge(candidates []knowledge.Result, k int) []knowledge.Result {
	byHash := make(map[string]knowledge.Result, len(candidates))
	for _, c := range candidates {
		hash := c.Chunk.ContentHash
		if hash == "" {
			hash = knowledge.ContentHash(c.Chunk.Content)
		}
		existing, ok := byHash[hash]
		if !ok || originRank(c.Origin) < originRank(existing.Origin) {
			byHash[hash] = c
		}
	}

	merged := make([]knowledge.Result, 0, len(byHash))
	for _, c := range byHash {
		merged = append(merged, c)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		si, sj := r.rankScore(merged[i]), r.rankScore(merged[j])
		if si != sj {
			return si > sj
		}
		return originRank(merged[i].Origin) < originRank(merged[j].Origin)
	})

	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

// rankScore combines similarity with the stored quality signals using
// the configured weights.
func (r *Retriever) rankScore(res knowledge.Result) float64 {
	return res.Similarity*r.cfg.RelevanceWeight +
		res.Chunk.AuthorityScore*r.cfg.AuthorityWeight +
		res.Chunk.UserFeedbackScore*r.cfg.FeedbackWeight
}

// originRank orders origins by trust: lower is preferred.
func originRank(o knowledge.Origin) int {
	switch o {
	case knowledge.OriginPersistent:
		return 0
	case knowledge.OriginSession:
		return 1
	default:
		return 2
	}
}

// bestSimilarity returns the highest similarity among candidates, or 0.
func bestSimilarity(candidates []knowledge.Result) float64 {
	best := 0.0
	for _, c := range candidates {
		if c.Similarity > best {
			best = c.Similarity
		}
	}
	return best
}

// resultChunks extracts the chunks from a result slice.
func resultChunks(results []knowledge.Result) []knowledge.Chunk {
	chunks := make([]knowledge.Chunk, len(results))
	for i := range results {
		chunks[i] = results[i].Chunk
	}
	return chunks
}

// cosineSimilarity computes the cosine of the angle between a and b.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
