package store

import (
	"errors"
	"fmt"

	"github.com/phrazzld/vista-api/internal/domain"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrConflict is returned when an optimistic update kept losing to
	// concurrent writers and gave up.
	ErrConflict = errors.New("concurrent modification")

	// ErrUnavailable is returned when the backing store cannot be reached.
	// FailoverStore reacts to it by redirecting to the local fallback.
	ErrUnavailable = errors.New("store unavailable")

	// ErrTaskNotFound indicates that the requested task does not exist or has expired.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrTaskExists indicates that a task with the same ID is already stored.
	ErrTaskExists = fmt.Errorf("%w: task", ErrDuplicate)
)

// StatusConflictError is returned by Transition when the stored status is not
// the expected one, i.e. the compare-and-swap lost.
type StatusConflictError struct {
	TaskID   string
	Expected domain.TaskStatus
	Actual   domain.TaskStatus
}

// Error implements the error interface.
func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("task %s: expected status %s, found %s", e.TaskID, e.Expected, e.Actual)
}

// ErrStatusConflict is the sentinel matched by every StatusConflictError.
var ErrStatusConflict = errors.New("status conflict")

// Is lets errors.Is(err, ErrStatusConflict) match.
func (e *StatusConflictError) Is(target error) bool {
	return target == ErrStatusConflict
}

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "task")
	Operation string // The operation that failed (e.g., "get", "update")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
