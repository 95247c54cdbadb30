// Package session provides an ephemeral, per-session vector index.
//
// Each session owns its own in-memory index: entries are visible only to
// the session that added them and vanish when the session is cleared or
// purged for idleness. The similarity contract matches the persistent
// store (cosine similarity, ties broken by access count then recency) so
// the retriever can merge results from both without special cases.
package session

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ingnisage/workbench/internal/knowledge"
)

// entry is one chunk in a session index.
type entry struct {
	chunk        knowledge.Chunk
	accessCount  int64
	lastAccessed time.Time
}

// index is one session's private vector index.
type index struct {
	entries  []*entry
	byHash   map[string]*entry
	lastUsed time.Time
}

// Store holds per-session indexes. It is safe for concurrent use; each
// session's entries are only reachable through its own session id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*index
	logger   *slog.Logger

	// now is swappable for deterministic idle-purge tests.
	now func() time.Time
}

// NewStore creates an empty session store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*index),
		logger:   logger,
		now:      time.Now,
	}
}

// Add inserts chunks into the session's index, creating the index on
// first use. A chunk whose content hash already exists in the session
// absorbs the write by bumping its access count, mirroring the
// persistent store's dedup behavior.
func (s *Store) Add(sessionID string, chunks []knowledge.Chunk) error {
	if sessionID == "" || len(chunks) == 0 {
		return nil
	}

	for i := range chunks {
		if chunks[i].Content == "" {
			return knowledge.ErrEmptyContent
		}
		if chunks[i].ContentHash == "" {
			chunks[i].ContentHash = knowledge.ContentHash(chunks[i].Content)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	idx, ok := s.sessions[sessionID]
	if !ok {
		idx = &index{byHash: make(map[string]*entry)}
		s.sessions[sessionID] = idx
	}
	idx.lastUsed = now

	for i := range chunks {
		if existing, ok := idx.byHash[chunks[i].ContentHash]; ok {
			existing.accessCount++
			existing.lastAccessed = now
			continue
		}
		e := &entry{chunk: chunks[i], lastAccessed: now}
		idx.entries = append(idx.entries, e)
		idx.byHash[chunks[i].ContentHash] = e
	}
	return nil
}

// Search returns up to k entries from the session's index ordered by
// descending cosine similarity to queryEmbedding, ties broken by higher
// access count then newer last access. An unknown or empty session
// yields an empty result, never an error.
func (s *Store) Search(sessionID string, queryEmbedding []float32, k int) []knowledge.Result {
	if sessionID == "" || k <= 0 {
		return nil
	}

	s.mu.Lock()
	idx, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	idx.lastUsed = s.now()

	results := make([]knowledge.Result, 0, len(idx.entries))
	for _, e := range idx.entries {
		if len(e.chunk.Embedding) != len(queryEmbedding) {
			continue
		}
		c := e.chunk
		c.AccessCount = e.accessCount
		c.LastAccessed = e.lastAccessed
		results = append(results, knowledge.Result{
			Chunk:      c,
			Similarity: cosineSimilarity(queryEmbedding, e.chunk.Embedding),
			Origin:     knowledge.OriginSession,
		})
	}
	s.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].Chunk.AccessCount != results[j].Chunk.AccessCount {
			return results[i].Chunk.AccessCount > results[j].Chunk.AccessCount
		}
		return results[i].Chunk.LastAccessed.After(results[j].Chunk.LastAccessed)
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Clear destroys the session's index. Clearing an unknown session is a
// no-op.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Purge removes every session idle for longer than maxIdle and returns
// the number removed.
func (s *Store) Purge(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	purged := 0
	for id, idx := range s.sessions {
		if idx.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			purged++
		}
	}
	if purged > 0 {
		s.logger.Debug("purged idle sessions", "count", purged)
	}
	return purged
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// cosineSimilarity computes the cosine of the angle between a and b.
// Zero vectors yield zero similarity.
func cosineSimilarity(a, b []float32) float64 {
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
