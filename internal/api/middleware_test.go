package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecoveryMiddleware_Panic(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	handler := recoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestRecoveryMiddleware_PanicAfterHeaders(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	handler := recoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("boom")
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	handler.ServeHTTP(w, r)

	// Headers already sent; the original status must stand.
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
}

func TestRateLimitMiddleware_PassesIdentifier(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	var gotTool, gotID string
	limiter := admitFunc(func(tool, id string) bool {
		gotTool, gotID = tool, id
		return true
	})

	called := false
	handler := rateLimitMiddleware(limiter, false, logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	handler.ServeHTTP(w, r)

	if !called {
		t.Fatal("next handler not called")
	}
	if gotTool != "http" {
		t.Errorf("tool = %q, want %q", gotTool, "http")
	}
	if gotID != "203.0.113.9" {
		t.Errorf("identifier = %q, want %q", gotID, "203.0.113.9")
	}
}

// admitFunc adapts a function to the Admitter interface.
type admitFunc func(tool, identifier string) bool

func (f admitFunc) Allow(tool, identifier string) bool { return f(tool, identifier) }

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xRealIP    string
		xff        string
		trustProxy bool
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.0.2.1:8080",
			want:       "192.0.2.1",
		},
		{
			name:       "headers ignored without trust",
			remoteAddr: "192.0.2.1:8080",
			xRealIP:    "203.0.113.5",
			want:       "192.0.2.1",
		},
		{
			name:       "x-real-ip trusted",
			remoteAddr: "10.0.0.1:8080",
			xRealIP:    "203.0.113.5",
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:       "first forwarded entry",
			remoteAddr: "10.0.0.1:8080",
			xff:        "203.0.113.5, 10.0.0.2",
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:       "invalid header falls back",
			remoteAddr: "192.0.2.1:8080",
			xRealIP:    "not-an-ip",
			trustProxy: true,
			want:       "192.0.2.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:8080",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggingWriter_DefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	lw := &loggingWriter{w: rec}

	if _, err := lw.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if lw.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want %d", lw.statusCode, http.StatusOK)
	}
	if lw.bytesWritten != 5 {
		t.Errorf("bytesWritten = %d, want 5", lw.bytesWritten)
	}
}
