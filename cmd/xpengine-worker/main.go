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
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize worker: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config
	slog.Info("starting xpengine worker",
		"environment", cfg.Environment,
		"profile", cfg.Profile,
		"storage_adapter", cfg.Storage.Adapter,
		"scheduler_enabled", cfg.Scheduler.Enabled)

	if err := app.Engine.RebuildLeaderboard(ctx); err != nil {
		slog.Warn("failed to rebuild leaderboard", "error", err)
	}

	if srv := app.MetricsServer; srv != nil {
		go func() {
			slog.Info("metrics listening", "address", srv.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
				stop()
			}
		}()
	}

	if err := app.Scheduler.Start(ctx); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("shutting down worker", "timeout", shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Scheduler.Stop(); err != nil {
		slog.Error("error stopping scheduler", "error", err)
	}
	if srv := app.MetricsServer; srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during metrics server shutdown", "error", err)
		}
	}
	slog.Info("worker stopped")
}
