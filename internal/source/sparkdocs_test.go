package source

import (
	"context"
	"strings"
	"testing"

	"github.com/ingnisage/workbench/internal/knowledge"
)

func TestSparkDocsClient_Deterministic(t *testing.T) {
	c := NewSparkDocsClient()
	ctx := context.Background()

	first, err := c.Fetch(ctx, "spark outofmemory executor", 5)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	second, err := c.Fetch(ctx, "spark outofmemory executor", 5)
	if err != nil {
		t.Fatalf("second Fetch() error: %v", err)
	}

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Fetch() returned %d and %d chunks, want 1 each", len(first), len(second))
	}
	if first[0].Content != second[0].Content {
		t.Error("identical queries produced different content")
	}
	if first[0].SourceURL != second[0].SourceURL {
		t.Error("identical queries produced different URLs")
	}
}

func TestSparkDocsClient_DistinctQueriesDistinctURLs(t *testing.T) {
	c := NewSparkDocsClient()
	ctx := context.Background()

	a, err := c.Fetch(ctx, "executor memory", 1)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	b, err := c.Fetch(ctx, "shuffle partitions", 1)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	if a[0].SourceURL == b[0].SourceURL {
		t.Error("distinct queries share a URL")
	}
}

func TestSparkDocsClient_ContractFields(t *testing.T) {
	c := NewSparkDocsClient()

	chunks, err := c.Fetch(context.Background(), "dynamic allocation", 3)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	chunk := chunks[0]

	if chunk.SourceType != knowledge.SourceTypeOfficialDoc {
		t.Errorf("source type = %q, want %q", chunk.SourceType, knowledge.SourceTypeOfficialDoc)
	}
	if !strings.HasPrefix(chunk.SourceURL, "https://spark.apache.org/docs/result-") {
		t.Errorf("source url = %q", chunk.SourceURL)
	}
	if chunk.Metadata["placeholder"] != "true" {
		t.Error("stand-in result not labeled as placeholder")
	}
	if !strings.Contains(chunk.Content, "dynamic allocation") {
		t.Error("content does not echo the query")
	}

	if got, err := c.Fetch(context.Background(), "x", 0); err != nil || got != nil {
		t.Errorf("Fetch(maxResults=0) = %v, %v; want nil, nil", got, err)
	}
}
