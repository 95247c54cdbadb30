package knowledge

import "errors"

// Persistence errors. Each is fatal for the single operation that hit it,
// never for the process; callers match with errors.Is.
var (
	// ErrDimensionMismatch indicates an embedding whose length does not
	// match the store's configured vector dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyContent indicates a chunk with no content, which can never
	// be persisted.
	ErrEmptyContent = errors.New("chunk content is empty")

	// ErrInvalidSourceType indicates a source type outside the closed set.
	ErrInvalidSourceType = errors.New("invalid source type")

	// ErrChunkNotFound indicates an access-recording target that no longer
	// exists (typically evicted between search and record).
	ErrChunkNotFound = errors.New("chunk not found")
)
