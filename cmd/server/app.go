package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/vista-api/internal/app"
	"github.com/phrazzld/vista-api/internal/config"
	"github.com/phrazzld/vista-api/internal/service"
	"github.com/phrazzld/vista-api/internal/task"
)

// application holds the gateway's dependencies and owns their shutdown.
type application struct {
	config     *config.Config
	logger     *slog.Logger
	components *app.Components
	tasks      *service.TaskService

	// pool is the embedded worker pool, nil unless worker.embedded is set.
	pool *task.WorkerPool

	janitorCancel context.CancelFunc
	janitorDone   sync.WaitGroup
}

// newApplication builds the backends and the gateway service.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	components, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &application{
		config:     cfg,
		logger:     logger,
		components: components,
		tasks:      components.NewTaskService(),
	}
	if cfg.Worker.Embedded {
		a.pool = components.NewWorkerPool()
	}
	return a, nil
}

// start launches the background work: the embedded pool and the store janitor.
func (a *application) start() {
	if a.pool != nil {
		a.pool.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.janitorCancel = cancel
	a.janitorDone.Add(1)
	go func() {
		defer a.janitorDone.Done()
		a.components.RunJanitor(ctx, app.DefaultPurgeInterval)
	}()
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *application) Run(ctx context.Context) error {
	a.start()
	err := a.startHTTPServer(ctx, a.setupRouter())
	if cerr := a.cleanup(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops workers, drains inline executions and closes the backends,
// in that order.
func (a *application) cleanup() error {
	if a.janitorCancel != nil {
		a.janitorCancel()
		a.janitorDone.Wait()
	}
	if a.pool != nil {
		a.pool.Stop()
	}

	var errs []error
	drainCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.tasks.Close(drainCtx); err != nil {
		a.logger.Warn("inline executions did not finish before shutdown", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.components.Close(); err != nil {
		a.logger.Error("error closing backends", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown completed")
	return errors.Join(errs...)
}
