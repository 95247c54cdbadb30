package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ingnisage/workbench/internal/config"
	"github.com/ingnisage/workbench/internal/database"
	"github.com/ingnisage/workbench/internal/embedding"
	"github.com/ingnisage/workbench/internal/knowledge"
	"github.com/ingnisage/workbench/internal/ratelimit"
	"github.com/ingnisage/workbench/internal/retriever"
	"github.com/ingnisage/workbench/internal/session"
	"github.com/ingnisage/workbench/internal/source"
	"github.com/ingnisage/workbench/internal/telemetry"
)

// app holds the wired application components shared by the serve and
// search commands.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	store     *knowledge.Store
	sessions  *session.Store
	limiter   *ratelimit.Limiter
	retriever *retriever.Retriever
	logger    *slog.Logger
}

// setupApp loads configuration, runs migrations, and wires the full
// retrieval pipeline. Callers must Close the returned app.
func setupApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	logger := slog.Default()

	connURL := cfg.ConnURL()
	if err := database.Migrate(connURL, logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	embedder, err := embedding.NewGemini(ctx, apiKey, cfg.EmbedderModel, cfg.EmbedderDimension, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	store := knowledge.NewStore(knowledge.NewQueries(pool), cfg.EmbedderDimension, logger)
	sessions := session.NewStore(logger)
	limiter := ratelimit.New(cfg.RateLimits, logger)

	r := retriever.New(
		store,
		sessions,
		embedder,
		limiter,
		buildSources(ctx, cfg, logger),
		telemetry.NewLogSink(logger),
		cfg.Retrieval,
		logger,
	)

	return &app{
		cfg:       cfg,
		pool:      pool,
		store:     store,
		sessions:  sessions,
		limiter:   limiter,
		retriever: r,
		logger:    logger,
	}, nil
}

// buildSources constructs the live-fetch clients.
func buildSources(ctx context.Context, cfg *config.Config, logger *slog.Logger) []source.Client {
	retryCfg := source.RetryConfig{
		MaxAttempts:  cfg.Sources.MaxAttempts,
		InitialDelay: cfg.Sources.InitialDelay,
		MaxDelay:     cfg.Sources.MaxDelay,
	}
	httpClient := &http.Client{Timeout: cfg.Sources.HTTPTimeout}

	sources := []source.Client{
		source.NewStackExchangeClient(httpClient, logger,
			source.WithStackExchangeRetry(retryCfg)),
		source.NewGitHubClient(ctx, os.Getenv("GITHUB_TOKEN"), logger,
			source.WithGitHubRetry(retryCfg)),
	}

	// Without a configured documentation search endpoint, fall back to
	// the deterministic placeholder client.
	if cfg.Sources.DocsBaseURL != "" {
		sources = append(sources, source.NewDocsClient(cfg.Sources.DocsBaseURL, httpClient, logger,
			source.WithDocsRetry(retryCfg)))
	} else {
		sources = append(sources, source.NewSparkDocsClient())
	}

	return sources
}

// Close flushes pending persistence work and releases the pool.
func (a *app) Close() error {
	err := a.retriever.Close()
	a.pool.Close()
	return err
}
