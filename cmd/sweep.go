package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/ingnisage/workbench/internal/config"
	"github.com/ingnisage/workbench/internal/database"
	"github.com/ingnisage/workbench/internal/knowledge"
)

// runSweep runs a single cache maintenance pass and exits. It needs no
// embedder or live sources, only a database connection.
func runSweep() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	connURL := cfg.ConnURL()
	if err := database.Migrate(connURL, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, connURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	store := knowledge.NewStore(knowledge.NewQueries(pool), cfg.EmbedderDimension, logger)
	maintainer := knowledge.NewMaintainer(store, nil, cfg.SweepInterval, cfg.SessionMaxIdle, logger)

	evicted := maintainer.RunOnce(ctx)
	fmt.Printf("Evicted %d expired chunks.\n", evicted)
	return nil
}
