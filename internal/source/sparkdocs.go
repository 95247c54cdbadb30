package source

import (
	"context"
	"crypto/md5" // #nosec G401 -- used for stable URL slugs, not security
	"encoding/hex"
	"fmt"

	"github.com/ingnisage/workbench/internal/knowledge"
)

// SparkDocsClient is an acknowledged stand-in for a real Apache Spark
// documentation integration. It honors the full source contract, so
// callers never special-case it. Identical queries always produce
// identical chunks and URLs.
type SparkDocsClient struct{}

// NewSparkDocsClient creates the stand-in Spark documentation source.
func NewSparkDocsClient() *SparkDocsClient {
	return &SparkDocsClient{}
}

// Name implements Client.
func (c *SparkDocsClient) Name() string { return "official_doc" }

// SourceType implements Client.
func (c *SparkDocsClient) SourceType() string { return knowledge.SourceTypeOfficialDoc }

// Fetch implements Client with a single clearly-labeled stand-in result
// whose URL is derived from the query so distinct queries stay distinct.
func (c *SparkDocsClient) Fetch(_ context.Context, query string, maxResults int) ([]knowledge.Chunk, error) {
	if maxResults <= 0 {
		return nil, nil
	}

	slug := querySlug(query)
	return []knowledge.Chunk{{
		Content: fmt.Sprintf(
			"Apache Spark documentation related to: %s\n\nThis is a stand-in result; a production deployment would return the matching documentation content.",
			query),
		SourceType: knowledge.SourceTypeOfficialDoc,
		SourceURL:  fmt.Sprintf("https://spark.apache.org/docs/result-%s.html", slug),
		Title:      fmt.Sprintf("Apache Spark Documentation: %s", query),
		Metadata:   map[string]string{"placeholder": "true"},
	}}, nil
}

// querySlug derives a short stable slug from the query text.
func querySlug(query string) string {
	sum := md5.Sum([]byte(query)) // #nosec G401
	return hex.EncodeToString(sum[:])[:8]
}
