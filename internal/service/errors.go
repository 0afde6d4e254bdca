package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/store"
)

// Sentinel errors returned by TaskService.
//
// Error handling principles:
// 1. Expected conditions are returned as sentinels callers check with errors.Is
// 2. Unexpected errors are wrapped in TaskServiceError
// 3. The API layer maps both to HTTP status codes
var (
	// ErrTaskTypeMismatch is returned when a start request names a different
	// task type than the stored record. The record is left untouched.
	// API layer should map this to HTTP 400 Bad Request.
	ErrTaskTypeMismatch = errors.New("task type does not match stored task")
)

// TaskServiceError wraps unexpected errors from the task service with context.
type TaskServiceError struct {
	// Operation is the operation that failed (e.g., "create_task", "poll_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError wraps err for operation. Expected conditions
// (validation, not found, mismatch, invalid transition) are returned as is.
func NewTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if isExpected(err) {
		return err
	}
	return &TaskServiceError{Operation: operation, Message: message, Err: err}
}

func isExpected(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, store.ErrTaskNotFound) ||
		errors.Is(err, ErrTaskTypeMismatch)
}
