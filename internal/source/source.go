// Package source fetches external knowledge and normalizes it into
// chunks.
//
// Each client performs one externally-facing call per fetch, tags its
// results with the matching source type, and reports failures through
// Error so callers can distinguish retriable upstream trouble from bad
// requests. Embeddings are attached centrally after fetching, never by
// the clients themselves.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ingnisage/workbench/internal/knowledge"
)

// userAgent identifies outbound requests from this engine.
const userAgent = "workbench/1.0 (+https://github.com/ingnisage/workbench)"

// Client is one external knowledge source. Implementations must be safe
// for concurrent use; a single Fetch performs one logical upstream
// query.
type Client interface {
	// Name is the rate-limiter tool key for this source.
	Name() string

	// SourceType is the knowledge source-type tag applied to fetched
	// chunks.
	SourceType() string

	// Fetch returns up to maxResults normalized chunks for query. The
	// returned chunks carry no embeddings.
	Fetch(ctx context.Context, query string, maxResults int) ([]knowledge.Chunk, error)
}

// Error is a failure talking to an upstream source. Retriable marks
// transient network and server trouble; permanent client errors (bad
// query, not found) are not retried.
type Error struct {
	Source    string
	Retriable bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retriable {
		kind = "retriable"
	}
	return fmt.Sprintf("source %s: %s: %v", e.Source, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetriable reports whether err is a retriable source error. Bare
// network errors and timeouts count as retriable even when unwrapped.
func IsRetriable(err error) bool {
	var srcErr *Error
	if errors.As(err, &srcErr) {
		return srcErr.Retriable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// retriableStatus reports whether an HTTP status should trigger a retry.
func retriableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// statusError wraps an unexpected HTTP status as a source Error.
func statusError(sourceName string, status int) *Error {
	return &Error{
		Source:    sourceName,
		Retriable: retriableStatus(status),
		Err:       fmt.Errorf("unexpected status %d", status),
	}
}

// newHTTPClient builds the standard outbound HTTP client for sources.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
