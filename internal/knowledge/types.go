package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VectorDimension is the embedding dimension of the persistent store.
// The knowledge_chunks schema declares vector(1536); every embedding
// written or searched must match it.
const VectorDimension = 1536

// Source type constants for knowledge chunks. These form a closed set
// enforced by the schema; they determine ranking defaults and eligibility
// for source-filtered queries.
const (
	// SourceTypeQASite represents question-and-answer site content.
	SourceTypeQASite = "qa-site"

	// SourceTypeCodeHost represents code-hosting search results.
	SourceTypeCodeHost = "code-host"

	// SourceTypeOfficialDoc represents official documentation content.
	SourceTypeOfficialDoc = "official-doc"

	// SourceTypeInternal represents curated internal knowledge.
	SourceTypeInternal = "internal"

	// SourceTypeWiki represents wiki content.
	SourceTypeWiki = "wiki"
)

// ValidSourceType reports whether s is one of the known source types.
func ValidSourceType(s string) bool {
	switch s {
	case SourceTypeQASite, SourceTypeCodeHost, SourceTypeOfficialDoc,
		SourceTypeInternal, SourceTypeWiki:
		return true
	}
	return false
}

// Origin identifies where a retrieval result came from. Required for
// downstream evaluation and provenance display.
type Origin string

const (
	// OriginPersistent marks a hit served from the persistent cache.
	OriginPersistent Origin = "persistent-cache"

	// OriginSession marks a hit served from a session's ephemeral index.
	OriginSession Origin = "session-cache"

	// OriginLive marks a freshly fetched external result.
	OriginLive Origin = "live-fetch"
)

// Chunk is the unit of retrieval: a piece of text with provenance,
// cache-usage telemetry, and independent quality signals.
type Chunk struct {
	ID          uuid.UUID
	Content     string
	ContentHash string
	// Embedding may be nil until computed; when set, its length must equal
	// VectorDimension.
	Embedding  []float32
	SourceType string
	SourceURL  string
	Title      string

	AccessCount  int64
	LastAccessed time.Time
	FirstCached  time.Time

	// ExpiresAt nil means the chunk never expires (curated content).
	ExpiresAt *time.Time

	// Quality signals, combined at ranking time with configurable weights;
	// never stored pre-combined.
	RelevanceScore    float64
	AuthorityScore    float64
	UserFeedbackScore float64

	Metadata map[string]string
}

// Result is a single retrieval hit with its similarity score and origin.
type Result struct {
	Chunk      Chunk
	Similarity float64
	Origin     Origin
}

// PersistResult reports the outcome of upserting one chunk.
type PersistResult struct {
	ID uuid.UUID

	// Created is true when a new row was inserted, false when the chunk
	// collapsed onto an existing row by content hash.
	Created bool

	// AccessCount is the row's access count after the upsert.
	AccessCount int64
}

// ContentHash returns the deterministic deduplication key for content:
// the hex SHA-256 of the whitespace-normalized text. Two chunks whose
// content differs only in whitespace collapse to the same hash.
func ContentHash(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
