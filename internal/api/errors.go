package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/vista-api/internal/api/shared"
	"github.com/phrazzld/vista-api/internal/artifact"
	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/service"
	"github.com/phrazzld/vista-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var maxBytes *http.MaxBytesError
	var invalid validator.ValidationErrors

	switch {
	case err == nil:
		return http.StatusInternalServerError

	// Not found errors
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, artifact.ErrBadRef):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, service.ErrTaskTypeMismatch),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, shared.ErrEmptyBody),
		errors.Is(err, errMalformedRequest),
		errors.Is(err, shared.ErrMalformedBody),
		errors.As(err, &invalid):
		return http.StatusBadRequest

	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var maxBytes *http.MaxBytesError
	var invalid validator.ValidationErrors
	var fieldErr *domain.ValidationError

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, artifact.ErrBadRef), errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, service.ErrTaskTypeMismatch):
		return "Task type does not match the uploaded task"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "Task cannot be started in its current state"

	case errors.Is(err, domain.ErrUnsupportedTaskType):
		return fmt.Sprintf("Unsupported task type. Supported types: %s, %s",
			domain.TaskTypeDenoise, domain.TaskTypeVirtual)
	case errors.Is(err, domain.ErrImageTooLarge):
		return "Image dimensions are too large"
	case errors.Is(err, domain.ErrInvalidImage):
		return "Please upload an image file"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid task ID"
	case errors.As(err, &fieldErr):
		return fmt.Sprintf("Invalid %s: %s", fieldErr.Field, fieldErr.Message)
	case errors.As(err, &invalid):
		return SanitizeValidationError(invalid)
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"
	case errors.Is(err, errMalformedRequest), errors.Is(err, shared.ErrMalformedBody):
		return "Invalid request format"
	case errors.Is(err, domain.ErrValidation):
		return "Validation error"

	case errors.As(err, &maxBytes):
		return "Uploaded file is too large"
	case errors.Is(err, store.ErrUnavailable):
		return "Service temporarily unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator errors into a message naming the
// first offending field, without struct or package names.
func SanitizeValidationError(err error) string {
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) || len(invalid) == 0 {
		return "Validation error"
	}
	fe := invalid[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "uuid", "uuid4":
		return "must be a UUID"
	case "min", "gte", "gt":
		return "too small"
	case "max", "lte", "lt":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err and logs the
// redacted error. A non-empty message overrides the derived one.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}

	var opts []shared.ResponseOption
	if status == http.StatusConflict {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}
