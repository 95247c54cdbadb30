// Package embedding turns text into vectors for similarity search.
package embedding

import (
	"context"
	"errors"
)

// Sentinel errors for embedding operations.
var (
	ErrMissingAPIKey = errors.New("embedding: API key is required")
	ErrEmptyInput    = errors.New("embedding: no texts to embed")
	ErrEmptyResponse = errors.New("embedding: provider returned no embeddings")
)

// Provider produces fixed-dimension embeddings for batches of text.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns one vector per input text, aligned with the input
	// slice. Inputs exceeding the provider's batch limit are split
	// transparently.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the width of the vectors Embed produces.
	Dimension() int
}

// batches splits texts into slices of at most size elements, preserving
// order. size must be positive.
func batches(texts []string, size int) [][]string {
	if len(texts) == 0 {
		return nil
	}
	out := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}
