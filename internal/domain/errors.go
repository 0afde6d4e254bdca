package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity or request fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrUnsupportedTaskType is returned when a task type is not one of the
	// supported task types.
	ErrUnsupportedTaskType = fmt.Errorf("%w: unsupported task type", ErrValidation)

	// ErrInvalidImage is returned when an uploaded payload cannot be decoded as an image.
	ErrInvalidImage = fmt.Errorf("%w: payload is not a decodable image", ErrValidation)

	// ErrImageTooLarge is returned when an upload declares more pixels than allowed.
	ErrImageTooLarge = fmt.Errorf("%w: image dimensions too large", ErrInvalidImage)

	// ErrInvalidID is returned when a task ID is malformed or empty.
	ErrInvalidID = fmt.Errorf("%w: invalid ID", ErrValidation)

	// ErrInvalidTaskStatus is returned when a status value is not part of the lifecycle.
	ErrInvalidTaskStatus = fmt.Errorf("%w: invalid task status", ErrValidation)

	// ErrInvalidTransition is returned when a status change does not follow
	// uploaded -> queued -> processing -> {completed, failed}.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes a single invalid field. It wraps one of the
// sentinel errors above so callers can keep using errors.Is.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap returns the wrapped sentinel error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrValidation
	}
	return &ValidationError{Field: field, Message: message, Err: err}
}
