package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/phrazzld/vista-api/internal/task"
)

// Dispatcher runs poll-triggered inline executions in the background,
// detached from the request that triggered them. At most one execution per
// task ID is in flight; Shutdown waits for running executions.
type Dispatcher struct {
	claimer task.Claimer
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

// NewDispatcher creates a Dispatcher that executes through claimer.
func NewDispatcher(claimer task.Claimer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		claimer:  claimer,
		logger:   logger.With(slog.String("component", "dispatcher")),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// ErrDispatcherClosed is returned by Dispatch after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// ErrAlreadyDispatched is returned by Dispatch while the task is in flight.
var ErrAlreadyDispatched = errors.New("task already dispatched")

// Dispatch starts a background claim-and-execute for taskID.
func (d *Dispatcher) Dispatch(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if _, ok := d.inflight[taskID]; ok {
		return ErrAlreadyDispatched
	}
	d.inflight[taskID] = struct{}{}
	d.wg.Add(1)

	go d.run(taskID)
	return nil
}

func (d *Dispatcher) run(taskID string) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, taskID)
		d.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("inline execution panicked",
				slog.String("task_id", taskID), slog.Any("panic", r))
		}
	}()

	log := d.logger.With(slog.String("task_id", taskID))
	final, err := d.claimer.ClaimAndExecute(d.ctx, taskID)
	switch {
	case errors.Is(err, task.ErrNotClaimed):
		log.Debug("inline execution skipped", slog.String("reason", err.Error()))
	case err != nil:
		log.Error("inline execution failed", slog.String("error", err.Error()))
	default:
		log.Info("inline execution finished", slog.String("status", string(final.Status)))
	}
}

// InFlight returns the number of running executions.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Shutdown stops accepting work and waits for running executions. If ctx
// ends first, running executions are cancelled, which fails their tasks,
// and Shutdown returns ctx.Err() once they have stopped.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
