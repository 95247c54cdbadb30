package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLogSink_Record(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Record(Invocation{
		Tool:        "qa_site",
		ArgsSummary: "spark executor oom",
		Success:     true,
		LatencyMS:   42,
		SessionID:   "sess-1",
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["tool"] != "qa_site" {
		t.Errorf("tool = %v, want qa_site", line["tool"])
	}
	if line["latency_ms"] != float64(42) {
		t.Errorf("latency_ms = %v, want 42", line["latency_ms"])
	}
	if line["session_id"] != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", line["session_id"])
	}
	if _, present := line["error"]; present {
		t.Error("error attribute present on successful invocation")
	}
}

func TestLogSink_Record_Failure(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	sink.Record(Invocation{
		Tool:         "code_host",
		Success:      false,
		ErrorMessage: "upstream 503",
	})

	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("failed invocation logged at %q, want WARN", out)
	}
	if !strings.Contains(out, "upstream 503") {
		t.Errorf("log output missing error message: %q", out)
	}
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	s.Record(Invocation{Tool: "anything"})
}
