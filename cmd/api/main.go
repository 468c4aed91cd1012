// Package main is the entry point for the Inkwell entitlement API server.
//
// It loads configuration, connects the Postgres pool, wires the credit
// accounting services and reflection orchestrator onto the HTTP chassis,
// and serves until interrupted.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"inkwell/internal/api/handlers"
	"inkwell/internal/auth"
	"inkwell/internal/config"
	"inkwell/internal/core"
	"inkwell/internal/credits"
	"inkwell/internal/db"
	"inkwell/internal/external"
	"inkwell/internal/reflection"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("inkwell API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	entitlementRepo := db.NewEntitlementRepo(pool)
	ledgerRepo := db.NewLedgerRepo(pool, pool)
	sessionRepo := db.NewSessionRepo(pool)

	// Domain services.
	policy := credits.RenewalPolicy{Allotment: cfg.Credits.MonthlyAllotment}
	entitlementSvc := credits.NewService(entitlementRepo, policy, logger)
	ledger := credits.NewLedger(entitlementRepo, ledgerRepo, policy, logger)
	generator := external.InsightClientFromConfig(cfg.Insight, logger)
	orchestrator := reflection.NewOrchestrator(entitlementSvc, ledger, generator, logger)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = auth.NewSessionAuthenticator(sessionRepo, logger)

	entitlementHandler := handlers.NewEntitlementHandler(entitlementSvc, ledger, logger)
	reflectionsHandler := handlers.NewReflectionsHandler(orchestrator, srv.Validator, logger)
	adminHandler := handlers.NewAdminHandler(ledger, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		ledger,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		cfg.Billing.PremiumPriceID,
		logger,
	)

	srv.V1Routes = []core.RouteRegistrar{
		entitlementHandler.RegisterRoutes,
		reflectionsHandler.RegisterRoutes,
		adminHandler.RegisterRoutes(cfg.Admin.TokenHash.Unmask()),
	}
	srv.PublicRoutes = []core.RouteRegistrar{
		func(r chi.Router) { webhookHandler.RegisterRoutes(r) },
	}
	srv.MountRoutes()

	return serve(ctx, srv, cfg, logger)
}

// serve runs the HTTP server until the context is cancelled or the listener
// fails, then drains in-flight requests.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
