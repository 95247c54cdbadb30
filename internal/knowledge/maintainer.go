package knowledge

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger reclaims ephemeral session indexes that have gone idle.
// Implemented by the session store; defined here by the consumer.
type SessionPurger interface {
	Purge(maxIdle time.Duration) int
}

// Maintainer periodically evicts expired chunks from the persistent store
// and reclaims idle session indexes. Sweeps are idempotent: two sweeps
// with no time advance delete nothing further.
type Maintainer struct {
	store    *Store
	sessions SessionPurger // optional
	interval time.Duration
	maxIdle  time.Duration
	logger   *slog.Logger
}

// NewMaintainer creates a cache maintainer. sessions may be nil when no
// session store is wired (e.g. one-shot CLI queries).
func NewMaintainer(store *Store, sessions SessionPurger, interval, maxIdle time.Duration, logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{
		store:    store,
		sessions: sessions,
		interval: interval,
		maxIdle:  maxIdle,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, sweeping on each tick. Callers must
// track the goroutine with a WaitGroup.
func (m *Maintainer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single sweep and returns the number of evicted
// chunks. Store errors are logged, not returned: the next sweep retries.
func (m *Maintainer) RunOnce(ctx context.Context) int64 {
	evicted, err := m.store.EvictExpired(ctx, time.Now())
	if err != nil {
		m.logger.Warn("eviction sweep failed", "error", err)
	}

	if m.sessions != nil {
		if n := m.sessions.Purge(m.maxIdle); n > 0 {
			m.logger.Debug("purged idle sessions", "count", n)
		}
	}

	return evicted
}
