package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/vista-api/internal/domain"
)

// DefaultTTL is the retention window applied to task records when none is configured.
const DefaultTTL = time.Hour

// DefaultKeyPrefix is the key namespace for task records in key/value backends.
const DefaultKeyPrefix = "task_storage:"

// UpdateFunc mutates a copy of the current record inside an atomic
// read-modify-write. Returning an error aborts the write and the error is
// passed through to the caller of Update.
type UpdateFunc func(task *domain.Task) error

// TaskStore persists task records keyed by task ID.
// Every write (re)starts the retention window of the record, and an expired
// record is reported exactly like one that never existed.
type TaskStore interface {
	// Create stores a new record. It fails with ErrTaskExists if the ID is taken.
	Create(ctx context.Context, task *domain.Task) error

	// Put overwrites the record for task.ID, creating it if necessary.
	Put(ctx context.Context, task *domain.Task) error

	// Get returns a copy of the record or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*domain.Task, error)

	// Update applies fn to the freshest copy of the record and commits only if
	// no other writer changed the record in between. Lost races are retried a
	// bounded number of times before ErrConflict is returned.
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Task, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error
}

// Transition moves a task from one status to another as a compare-and-swap.
// If the stored status is not from, nothing is written and a
// *StatusConflictError is returned. mutate may be nil; when present it runs
// after the status and timestamp were applied and may set outputs or params.
func Transition(
	ctx context.Context,
	s TaskStore,
	id string,
	from, to domain.TaskStatus,
	mutate UpdateFunc,
) (*domain.Task, error) {
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	return s.Update(ctx, id, func(task *domain.Task) error {
		if task.Status != from {
			return &StatusConflictError{TaskID: id, Expected: from, Actual: task.Status}
		}
		if err := task.TransitionTo(to, domain.NowUTC()); err != nil {
			return err
		}
		if mutate != nil {
			return mutate(task)
		}
		return nil
	})
}

// ObservedStatus extracts the status a lost compare-and-swap found.
func ObservedStatus(err error) (domain.TaskStatus, bool) {
	var conflict *StatusConflictError
	if errors.As(err, &conflict) {
		return conflict.Actual, true
	}
	return "", false
}
