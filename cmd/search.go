package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ingnisage/workbench/internal/knowledge"
	"github.com/ingnisage/workbench/internal/retriever"
)

// runSearch executes a one-shot retrieval query and prints the results.
func runSearch() error {
	searchFlags := flag.NewFlagSet("search", flag.ContinueOnError)
	searchFlags.SetOutput(os.Stderr)

	sourceFilter := searchFlags.String("source", "", "Restrict to one source type")
	maxResults := searchFlags.Int("max", 0, "Maximum results to return")
	refresh := searchFlags.Bool("refresh", false, "Fetch live even when the cache is confident")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := searchFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing search flags: %w", err)
	}

	query := strings.TrimSpace(strings.Join(searchFlags.Args(), " "))
	if query == "" {
		return fmt.Errorf("usage: workbench search [flags] <query>")
	}
	if *sourceFilter != "" && !knowledge.ValidSourceType(*sourceFilter) {
		return fmt.Errorf("unknown source type: %s", *sourceFilter)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setupApp(ctx)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	resp, err := a.retriever.Retrieve(ctx, retriever.Request{
		Query:        query,
		SourceFilter: *sourceFilter,
		MaxResults:   *maxResults,
		ForceRefresh: *refresh,
	})
	if err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}

	printResults(resp)
	return nil
}

// printResults renders a retrieval response to stdout.
func printResults(resp *retriever.Response) {
	if resp.Refusal {
		fmt.Println("Insufficient information: no result cleared the confidence threshold.")
		return
	}

	for i, res := range resp.Results {
		fmt.Printf("%d. [%s] %.3f %s\n", i+1, res.Origin, res.Similarity, res.Chunk.Title)
		if res.Chunk.SourceURL != "" {
			fmt.Printf("   %s\n", res.Chunk.SourceURL)
		}
		fmt.Printf("   %s\n\n", snippet(res.Chunk.Content, 300))
	}
}

// snippet truncates content for terminal display.
func snippet(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
