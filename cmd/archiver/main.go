// Package main is the entry point for the credit transaction archiver.
//
// The archiver is a run-to-completion job intended to be invoked on a
// schedule (cron, systemd timer). Each run exports transactions older than
// the retention window to compressed NDJSON files and prunes them from the
// live table.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"inkwell/internal/archive"
	"inkwell/internal/config"
	"inkwell/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("job", "archiver")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	archiver := archive.NewArchiver(db.NewLedgerRepo(pool, pool), cfg.Archive, logger)

	result, err := archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("archiver run: %w", err)
	}

	logger.Info("archiver run complete",
		"exported", result.Exported,
		"deleted", result.Deleted,
		"files", len(result.Files),
	)
	return nil
}
