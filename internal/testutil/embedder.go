package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/ingnisage/workbench/internal/knowledge"
)

// MockEmbedder is a deterministic embedding provider for tests. Identical
// input text always produces the identical unit vector, and distinct texts
// produce distinct vectors, so similarity ordering is stable across runs
// without network access.
type MockEmbedder struct {
	Dim int

	// Err, when set, is returned from every Embed call.
	Err error

	// Calls counts Embed invocations, for tests asserting batch behavior.
	Calls int
}

// NewMockEmbedder creates a mock provider with the standard dimension.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Dim: knowledge.VectorDimension}
}

// Embed derives one unit vector per input text from its SHA-256 digest.
func (m *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = deterministicVector(text, m.Dim)
	}
	return out, nil
}

// Dimension reports the vector width this provider produces.
func (m *MockEmbedder) Dimension() int {
	return m.Dim
}

// deterministicVector expands a text digest into a normalized vector by
// rehashing a counter-suffixed digest until dim values are filled.
func deterministicVector(text string, dim int) []float32 {
	v := make([]float32, dim)

	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := 0; i < dim; i++ {
		block := i / 4
		if i%4 == 0 && block > 0 {
			buf := make([]byte, len(seed)+8)
			copy(buf, seed[:])
			binary.BigEndian.PutUint64(buf[len(seed):], uint64(block))
			seed = sha256.Sum256(buf)
		}
		bits := binary.BigEndian.Uint64(seed[(i%4)*8 : (i%4)*8+8])
		// Map to (-1, 1).
		v[i] = float32(int64(bits)) / float32(math.MaxInt64)
		norm += float64(v[i]) * float64(v[i])
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
