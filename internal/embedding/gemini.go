package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// maxBatchSize is the most texts sent in a single EmbedContent request.
const maxBatchSize = 100

// Gemini embeds text through the Gemini embedding API, truncating vectors
// to the configured dimension via OutputDimensionality (Matryoshka
// Representation Learning keeps truncated prefixes meaningful).
type Gemini struct {
	client    *genai.Client
	model     string
	dimension int
	logger    *slog.Logger
}

// NewGemini creates a Gemini embedding provider. model names the
// embedding model (e.g. "gemini-embedding-001") and dimension the vector
// width requested from the API.
func NewGemini(ctx context.Context, apiKey, model string, dimension int, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{
		client:    client,
		model:     model,
		dimension: dimension,
		logger:    logger,
	}, nil
}

// Embed returns one vector per input text. Inputs beyond the API batch
// limit are split into sequential requests; a failed batch fails the
// whole call so results always align with the input.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	dim := int32(g.dimension)
	out := make([][]float32, 0, len(texts))

	for _, batch := range batches(texts, maxBatchSize) {
		contents := make([]*genai.Content, len(batch))
		for i, text := range batch {
			contents[i] = genai.NewContentFromText(text, genai.RoleUser)
		}

		resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding batch of %d: %w", len(batch), err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
				ErrEmptyResponse, len(resp.Embeddings), len(batch))
		}

		for _, emb := range resp.Embeddings {
			if len(emb.Values) == 0 {
				return nil, ErrEmptyResponse
			}
			out = append(out, emb.Values)
		}
	}

	g.logger.Debug("embedded texts", "count", len(texts), "model", g.model)
	return out, nil
}

// Dimension reports the vector width this provider produces.
func (g *Gemini) Dimension() int {
	return g.dimension
}
