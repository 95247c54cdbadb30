// Package ratelimit provides per-tool, per-identifier admission control
// for outbound source calls.
//
// Each (tool, identifier) pair gets its own token bucket sized from the
// tool's configured ceiling and window. Cleanup of stale entries happens
// inline during Allow calls, so no background goroutine is needed.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ingnisage/workbench/internal/config"
)

const (
	cleanupInterval = 5 * time.Minute
	staleThreshold  = 10 * time.Minute
)

// client holds a rate limiter and last-seen time for one (tool, identifier).
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces per-tool ceilings over rolling windows. A denied call
// consumes no tokens and does not count toward future windows.
//
// Limiter is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	clients     map[string]*client
	limits      map[string]config.RateLimit
	lastCleanup time.Time
	logger      *slog.Logger
}

// New creates a limiter from the per-tool configuration. Tools absent
// from the map are never limited.
func New(limits map[string]config.RateLimit, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		clients:     make(map[string]*client),
		limits:      limits,
		lastCleanup: time.Now(),
		logger:      logger,
	}
}

// Allow reports whether a call by identifier against tool is admitted.
// The first Ceiling calls within a window succeed; further calls are
// denied until tokens refill.
func (l *Limiter) Allow(tool, identifier string) bool {
	limit, ok := l.limits[tool]
	if !ok || limit.Ceiling <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	// Periodic cleanup of stale entries
	if now.Sub(l.lastCleanup) > cleanupInterval {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > staleThreshold {
				delete(l.clients, k)
			}
		}
		l.lastCleanup = now
	}

	key := tool + ":" + identifier
	c, exists := l.clients[key]
	if !exists {
		c = &client{limiter: newBucket(limit)}
		l.clients[key] = c
	}
	c.lastSeen = now

	allowed := c.limiter.Allow()
	if !allowed {
		l.logger.Debug("rate limit exceeded", "tool", tool, "identifier", identifier)
	}
	return allowed
}

// newBucket builds a token bucket admitting Ceiling calls per Window:
// burst equals the ceiling, refill spreads the ceiling over the window.
func newBucket(limit config.RateLimit) *rate.Limiter {
	window := limit.Window
	if window <= 0 {
		window = time.Minute
	}
	return rate.NewLimiter(rate.Limit(float64(limit.Ceiling)/window.Seconds()), limit.Ceiling)
}
