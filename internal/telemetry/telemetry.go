// Package telemetry emits per-invocation records for tool and source
// calls. The engine only produces these records; storage and aggregation
// live elsewhere.
package telemetry

import (
	"log/slog"
)

// Invocation is one tool or source call as observed by the engine.
type Invocation struct {
	Tool         string
	ArgsSummary  string
	Success      bool
	ErrorMessage string
	LatencyMS    int64
	SessionID    string
}

// Sink receives invocation records. Record must not block the calling
// request path; implementations that do real I/O should buffer.
type Sink interface {
	Record(inv Invocation)
}

// LogSink writes invocation records as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs each invocation.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Record logs one invocation at info level, failures at warn.
func (s *LogSink) Record(inv Invocation) {
	attrs := []any{
		"tool", inv.Tool,
		"args", inv.ArgsSummary,
		"success", inv.Success,
		"latency_ms", inv.LatencyMS,
	}
	if inv.SessionID != "" {
		attrs = append(attrs, "session_id", inv.SessionID)
	}
	if inv.ErrorMessage != "" {
		attrs = append(attrs, "error", inv.ErrorMessage)
	}

	if inv.Success {
		s.logger.Info("tool invocation", attrs...)
	} else {
		s.logger.Warn("tool invocation failed", attrs...)
	}
}

// NopSink discards all records.
type NopSink struct{}

// Record does nothing.
func (NopSink) Record(Invocation) {}
