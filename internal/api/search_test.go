package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ingnisage/workbench/internal/knowledge"
	"github.com/ingnisage/workbench/internal/retriever"
)

// fakeSearcher returns a scripted response or error.
type fakeSearcher struct {
	resp     *retriever.Response
	err      error
	lastReq  retriever.Request
	received int
}

func (f *fakeSearcher) Retrieve(_ context.Context, req retriever.Request) (*retriever.Response, error) {
	f.received++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestSearchHandler(s Searcher) *searchHandler {
	return &searchHandler{
		searcher: s,
		logger:   slog.New(slog.DiscardHandler),
	}
}

func postSearch(t *testing.T, h *searchHandler, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", reader)
	h.search(w, r)
	return w
}

func TestSearch_Success(t *testing.T) {
	accessed := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	searcher := &fakeSearcher{
		resp: &retriever.Response{
			Results: []knowledge.Result{
				{
					Chunk: knowledge.Chunk{
						Content:      "Increase spark.executor.memory and reduce partition skew.",
						Title:        "Spark executor OOM",
						SourceType:   knowledge.SourceTypeQASite,
						SourceURL:    "https://example.com/q/42",
						AccessCount:  3,
						LastAccessed: accessed,
						Metadata:     map[string]string{"tags": "apache-spark"},
					},
					Similarity: 0.91,
					Origin:     knowledge.OriginPersistent,
				},
			},
		},
	}

	w := postSearch(t, newTestSearchHandler(searcher), map[string]any{
		"query":     "spark executor OutOfMemoryError",
		"sessionId": "sess-1",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("search() status = %d, want %d\nbody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Results []searchResultItem `json:"results"`
		Refusal bool               `json:"refusal"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Refusal {
		t.Error("search() refusal = true, want false")
	}
	if len(resp.Results) != 1 {
		t.Fatalf("search() results = %d, want 1", len(resp.Results))
	}

	item := resp.Results[0]
	if item.Origin != string(knowledge.OriginPersistent) {
		t.Errorf("origin = %q, want %q", item.Origin, knowledge.OriginPersistent)
	}
	if item.AccessCount != 3 {
		t.Errorf("accessCount = %d, want 3", item.AccessCount)
	}
	if item.LastAccessed != accessed.Format(time.RFC3339) {
		t.Errorf("lastAccessed = %q, want %q", item.LastAccessed, accessed.Format(time.RFC3339))
	}
	if item.Metadata["tags"] != "apache-spark" {
		t.Errorf("metadata tags = %q, want %q", item.Metadata["tags"], "apache-spark")
	}

	if searcher.lastReq.SessionID != "sess-1" {
		t.Errorf("forwarded sessionID = %q, want %q", searcher.lastReq.SessionID, "sess-1")
	}
}

func TestSearch_Refusal(t *testing.T) {
	searcher := &fakeSearcher{resp: &retriever.Response{Refusal: true}}

	w := postSearch(t, newTestSearchHandler(searcher), map[string]any{"query": "obscure topic"})

	if w.Code != http.StatusOK {
		t.Fatalf("search() status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Results []searchResultItem `json:"results"`
		Refusal bool               `json:"refusal"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Refusal {
		t.Error("search() refusal = false, want true")
	}
	if len(resp.Results) != 0 {
		t.Errorf("search() results = %d, want 0", len(resp.Results))
	}
}

func TestSearch_MissingQuery(t *testing.T) {
	searcher := &fakeSearcher{resp: &retriever.Response{}}

	w := postSearch(t, newTestSearchHandler(searcher), map[string]any{"sessionId": "s"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("search() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "missing_query") {
		t.Errorf("search() body = %s, want missing_query code", w.Body.String())
	}
	if searcher.received != 0 {
		t.Errorf("searcher called %d times, want 0", searcher.received)
	}
}

func TestSearch_QueryTooLong(t *testing.T) {
	searcher := &fakeSearcher{resp: &retriever.Response{}}

	w := postSearch(t, newTestSearchHandler(searcher), map[string]any{
		"query": strings.Repeat("x", maxQueryLength+1),
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("search() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "query_too_long") {
		t.Errorf("search() body = %s, want query_too_long code", w.Body.String())
	}
}

func TestSearch_InvalidJSON(t *testing.T) {
	w := postSearch(t, newTestSearchHandler(&fakeSearcher{}), "{not json")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("search() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "invalid_body") {
		t.Errorf("search() body = %s, want invalid_body code", w.Body.String())
	}
}

func TestSearch_InvalidSourceFilter(t *testing.T) {
	searcher := &fakeSearcher{resp: &retriever.Response{}}

	w := postSearch(t, newTestSearchHandler(searcher), map[string]any{
		"query":        "spark",
		"sourceFilter": "carrier-pigeon",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("search() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "invalid_source") {
		t.Errorf("search() body = %s, want invalid_source code", w.Body.String())
	}
	if searcher.received != 0 {
		t.Errorf("searcher called %d times, want 0", searcher.received)
	}
}

func TestSearch_NoProvider(t *testing.T) {
	searcher := &fakeSearcher{err: retriever.ErrNoProvider}

	w := postSearch(t, newTestSearchHandler(searcher), map[string]any{
		"query":        "spark",
		"sourceFilter": knowledge.SourceTypeInternal,
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("search() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "no_provider") {
		t.Errorf("search() body = %s, want no_provider code", w.Body.String())
	}
}

func TestSearch_RetrievalError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("connection reset")}

	w := postSearch(t, newTestSearchHandler(searcher), map[string]any{"query": "spark"})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("search() status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(w.Body.String(), "retrieval_failed") {
		t.Errorf("search() body = %s, want retrieval_failed code", w.Body.String())
	}
	// Internal error details must not leak to clients.
	if strings.Contains(w.Body.String(), "connection reset") {
		t.Errorf("search() body leaked internal error: %s", w.Body.String())
	}
}

func TestSearch_BodyTooLarge(t *testing.T) {
	big, _ := json.Marshal(map[string]string{
		"query":     "spark",
		"sessionId": strings.Repeat("a", maxRequestBody),
	})

	w := postSearch(t, newTestSearchHandler(&fakeSearcher{}), string(big))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("search() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
