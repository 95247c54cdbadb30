// Package cmd provides CLI commands for the workbench retrieval engine.
//
// Commands:
//   - serve: HTTP API server exposing the search endpoint
//   - search: one-shot retrieval query from the terminal
//   - sweep: run a single cache maintenance pass and exit
//
// Signal handling and graceful shutdown are implemented
// for all commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ingnisage/workbench/internal/log"
)

// Execute is the main entry point for the workbench CLI.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{
		Level: level,
		JSON:  os.Getenv("LOG_JSON") != "",
	}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "search":
		return runSearch()
	case "sweep":
		return runSweep()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Workbench - hybrid retrieval and caching engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  workbench serve [addr]      Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  workbench search <query>    Run a one-shot retrieval query")
	fmt.Println("  workbench sweep             Run one cache maintenance pass and exit")
	fmt.Println("  workbench --version         Show version information")
	fmt.Println("  workbench --help            Show this help")
	fmt.Println()
	fmt.Println("Search flags:")
	fmt.Println("  --source <type>             Restrict to one source type")
	fmt.Println("  --max <n>                   Maximum results to return")
	fmt.Println("  --refresh                   Fetch live even when the cache is confident")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY              Required: embedding API key")
	fmt.Println("  GITHUB_TOKEN                Optional: raises code-host search quota")
	fmt.Println("  DEBUG                       Optional: enable debug logging")
	fmt.Println("  LOG_JSON                    Optional: emit logs as JSON")
	fmt.Println()
	fmt.Println("Learn more: https://github.com/ingnisage/workbench")
}
