package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/events"
	"github.com/phrazzld/vista-api/internal/store"
)

// DefaultProcessingTimeout bounds a single handler run when none is configured.
const DefaultProcessingTimeout = 10 * time.Minute

var (
	// ErrNotClaimed is returned when the task was not in the queued status,
	// usually because another executor claimed it first or it expired.
	ErrNotClaimed = errors.New("task not claimed")

	// ErrNoHandler is recorded on tasks whose type has no registered handler.
	ErrNoHandler = errors.New("no handler registered for task type")
)

// Executor claims queued tasks and runs them to a terminal status.
type Executor struct {
	store    store.TaskStore
	registry *Registry
	emitter  events.EventEmitter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewExecutor creates an Executor. emitter may be nil.
func NewExecutor(
	s store.TaskStore,
	registry *Registry,
	emitter events.EventEmitter,
	timeout time.Duration,
	logger *slog.Logger,
) *Executor {
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:    s,
		registry: registry,
		emitter:  emitter,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// Timeout returns the processing deadline applied to handlers.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

type outcome struct {
	result *Result
	err    error
}

// ClaimAndExecute moves the task from queued to processing and, only if that
// compare-and-swap won, runs its handler and records the result. It returns
// the final record, or an error wrapping ErrNotClaimed when the task was not
// claimable. Handler failures are recorded on the task, not returned.
func (e *Executor) ClaimAndExecute(ctx context.Context, taskID string) (*domain.Task, error) {
	claimed, err := store.Transition(ctx, e.store, taskID,
		domain.TaskStatusQueued, domain.TaskStatusProcessing, nil)
	if err != nil {
		if observed, ok := store.ObservedStatus(err); ok {
			return nil, fmt.Errorf("%w: task %s is %s", ErrNotClaimed, taskID, observed)
		}
		if store.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: task %s not found", ErrNotClaimed, taskID)
		}
		return nil, fmt.Errorf("claim task %s: %w", taskID, err)
	}
	e.emit(ctx, claimed, domain.TaskStatusQueued)

	log := e.logger.With(
		slog.String("task_id", claimed.ID),
		slog.String("task_type", string(claimed.Type)))
	log.InfoContext(ctx, "task claimed")

	res, runErr := e.run(ctx, claimed)

	// Record the outcome even if ctx was cancelled during the run
	writeCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		log.WarnContext(ctx, "task processing failed", slog.String("error", runErr.Error()))
		return e.finish(writeCtx, claimed.ID, domain.TaskStatusFailed, func(t *domain.Task) error {
			t.Error = failureMessage(runErr)
			return nil
		})
	}

	log.InfoContext(ctx, "task processing completed", slog.String("output_ref", res.OutputRef))
	return e.finish(writeCtx, claimed.ID, domain.TaskStatusCompleted, func(t *domain.Task) error {
		t.OutputRef = res.OutputRef
		t.ExtraResults = res.ExtraResults
		return nil
	})
}

// run invokes the handler under the processing deadline. Panics become
// ProcessingErrors; a handler still running at the deadline is abandoned.
func (e *Executor) run(ctx context.Context, t *domain.Task) (*Result, error) {
	h, ok := e.registry.Get(t.Type)
	if !ok {
		return nil, NewProcessingError(fmt.Sprintf("unsupported task type %q", t.Type), ErrNoHandler)
	}

	params := domain.Params{}
	if t.Params != nil {
		params = *t.Params
	}
	in := Input{
		TaskID:   t.ID,
		Type:     t.Type,
		InputRef: t.InputRef,
		Params:   params.WithDefaults(t.Type),
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("handler panicked",
					slog.String("task_id", t.ID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				done <- outcome{err: NewProcessingError(fmt.Sprintf("handler panicked: %v", r), nil)}
			}
		}()
		res, err := h.Process(runCtx, in)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && o.result == nil {
			return nil, NewProcessingError("handler returned no result", nil)
		}
		return o.result, o.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, NewProcessingError(
				fmt.Sprintf("processing timed out after %s", e.timeout), runCtx.Err())
		}
		return nil, NewProcessingError("processing interrupted by shutdown", runCtx.Err())
	}
}

// finish commits the terminal transition. Losing this compare-and-swap means
// the task was already failed elsewhere, e.g. by the stale-claim reaper.
func (e *Executor) finish(
	ctx context.Context,
	taskID string,
	to domain.TaskStatus,
	mutate store.UpdateFunc,
) (*domain.Task, error) {
	final, err := store.Transition(ctx, e.store, taskID, domain.TaskStatusProcessing, to, mutate)
	if err != nil {
		e.logger.WarnContext(ctx, "could not record task outcome",
			slog.String("task_id", taskID),
			slog.String("status", string(to)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("record %s for task %s: %w", to, taskID, err)
	}
	e.emit(ctx, final, domain.TaskStatusProcessing)
	return final, nil
}

// FailStale force-fails a task that has been processing for longer than
// maxAge. It reports whether the task was failed by this call.
func (e *Executor) FailStale(ctx context.Context, taskID string, maxAge time.Duration) (*domain.Task, bool, error) {
	var stale bool
	final, err := store.Transition(ctx, e.store, taskID,
		domain.TaskStatusProcessing, domain.TaskStatusFailed,
		func(t *domain.Task) error {
			if t.ProcessingStartedAt == nil || time.Since(*t.ProcessingStartedAt) <= maxAge {
				return errNotStale
			}
			stale = true
			t.Error = fmt.Sprintf("processing did not finish within %s", maxAge)
			return nil
		})
	if errors.Is(err, errNotStale) || errors.Is(err, store.ErrStatusConflict) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	e.logger.WarnContext(ctx, "stale processing task failed",
		slog.String("task_id", taskID),
		slog.Duration("max_age", maxAge))
	e.emit(ctx, final, domain.TaskStatusProcessing)
	return final, stale, nil
}

var errNotStale = errors.New("task is not stale")

func (e *Executor) emit(ctx context.Context, t *domain.Task, from domain.TaskStatus) {
	if e.emitter == nil {
		return
	}
	// Emit failures are logged by the emitter and never affect the task
	_ = e.emitter.EmitEvent(ctx, events.NewTaskEvent(t, from))
}

// failureMessage picks the client-safe text for a failed task.
func failureMessage(err error) string {
	var perr *ProcessingError
	if errors.As(err, &perr) {
		return perr.Message
	}
	return err.Error()
}
