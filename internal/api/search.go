package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ingnisage/workbench/internal/knowledge"
	"github.com/ingnisage/workbench/internal/retriever"
)

const (
	// maxQueryLength bounds the accepted query size in bytes.
	maxQueryLength = 1000

	// maxRequestBody bounds the request body size.
	maxRequestBody = 64 * 1024
)

// Searcher runs retrieval queries. Implemented by *retriever.Retriever.
type Searcher interface {
	Retrieve(ctx context.Context, req retriever.Request) (*retriever.Response, error)
}

// searchHandler holds dependencies for the search endpoint.
type searchHandler struct {
	searcher Searcher
	logger   *slog.Logger
}

// searchRequest is the POST /api/v1/search body.
type searchRequest struct {
	Query        string `json:"query"`
	SourceFilter string `json:"sourceFilter,omitempty"`
	MaxResults   int    `json:"maxResults,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	ForceRefresh bool   `json:"forceRefresh,omitempty"`
}

// searchResultItem is the JSON representation of one retrieval hit.
type searchResultItem struct {
	Content      string            `json:"content"`
	Title        string            `json:"title,omitempty"`
	SourceType   string            `json:"sourceType"`
	SourceURL    string            `json:"sourceUrl,omitempty"`
	Similarity   float64           `json:"similarity"`
	Origin       string            `json:"origin"`
	AccessCount  int64             `json:"accessCount"`
	LastAccessed string            `json:"lastAccessed,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// search handles POST /api/v1/search.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", h.logger)
		return
	}

	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, "missing_query", "query is required", h.logger)
		return
	}
	if len(req.Query) > maxQueryLength {
		WriteError(w, http.StatusBadRequest, "query_too_long", "query must be 1000 characters or fewer", h.logger)
		return
	}
	if req.SourceFilter != "" && !knowledge.ValidSourceType(req.SourceFilter) {
		WriteError(w, http.StatusBadRequest, "invalid_source", "unknown source type", h.logger)
		return
	}

	resp, err := h.searcher.Retrieve(r.Context(), retriever.Request{
		Query:        req.Query,
		SourceFilter: req.SourceFilter,
		MaxResults:   req.MaxResults,
		SessionID:    req.SessionID,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		switch {
		case errors.Is(err, retriever.ErrNoProvider):
			WriteError(w, http.StatusBadRequest, "no_provider", "no client for the requested source", h.logger)
		case errors.Is(err, knowledge.ErrInvalidSourceType):
			WriteError(w, http.StatusBadRequest, "invalid_source", "unknown source type", h.logger)
		default:
			h.logger.Error("retrieval failed", "error", err, "query_len", len(req.Query))
			WriteError(w, http.StatusInternalServerError, "retrieval_failed", "failed to run retrieval", h.logger)
		}
		return
	}

	items := make([]searchResultItem, len(resp.Results))
	for i, res := range resp.Results {
		items[i] = searchResultItem{
			Content:     res.Chunk.Content,
			Title:       res.Chunk.Title,
			SourceType:  res.Chunk.SourceType,
			SourceURL:   res.Chunk.SourceURL,
			Similarity:  res.Similarity,
			Origin:      string(res.Origin),
			AccessCount: res.Chunk.AccessCount,
			Metadata:    res.Chunk.Metadata,
		}
		if !res.Chunk.LastAccessed.IsZero() {
			items[i].LastAccessed = res.Chunk.LastAccessed.Format(time.RFC3339)
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"results": items,
		"refusal": resp.Refusal,
	}, h.logger)
}
