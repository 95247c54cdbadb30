package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig configures the backoff behavior for upstream calls.
type RetryConfig struct {
	MaxAttempts  int           // Total attempts including the first
	InitialDelay time.Duration // First backoff interval
	MaxDelay     time.Duration // Backoff cap
}

// DefaultRetryConfig returns the standard budget for source calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// withRetry executes fn with exponential backoff. Only retriable errors
// trigger further attempts; the final error is returned after the budget
// is exhausted. Context cancellation aborts the wait between attempts.
func withRetry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetriable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Debug("retrying after error",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxDelay)
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
