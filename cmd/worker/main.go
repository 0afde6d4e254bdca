// Package main implements the standalone vista worker. It pops task IDs from
// the broker, runs them and serves a health endpoint for orchestrators.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/phrazzld/vista-api/internal/app"
	"github.com/phrazzld/vista-api/internal/config"
	"github.com/phrazzld/vista-api/internal/platform/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Printf("vista worker: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	components, err := app.New(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}
	defer func() {
		if err := components.Close(); err != nil {
			l.Error("error closing backends", slog.String("error", err.Error()))
		}
	}()

	pool := components.NewWorkerPool()
	pool.Start()
	l.Info("worker pool started",
		slog.Int("workers", cfg.Worker.Count),
		slog.String("broker", cfg.Broker.Backend))

	healthServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Worker.HealthPort)),
		Handler:           newHealthRouter(components.Store, components.Broker, l),
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthErr := make(chan error, 1)
	go func() {
		l.Info("starting health endpoint", slog.Int("port", cfg.Worker.HealthPort))
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			healthErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.Info("shutting down worker")
	case err := <-healthErr:
		l.Error("health endpoint failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		l.Warn("health endpoint shutdown failed", slog.String("error", err.Error()))
	}

	// Stop lets in-flight executions finish within the shutdown timeout.
	pool.Stop()
	l.Info("worker shutdown completed")
	return nil
}
