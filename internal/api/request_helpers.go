package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/store"
)

// errMalformedRequest marks requests whose framing could not be parsed.
var errMalformedRequest = errors.New("malformed request")

// parseTaskID returns a task ID in canonical form. A malformed ID can never
// name a stored task, so it is reported as not found.
func parseTaskID(raw string) (string, error) {
	if raw == "" {
		return "", domain.NewValidationError("task_id", "is required", domain.ErrValidation)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v",
			store.ErrTaskNotFound,
			domain.NewValidationError("task_id", "has invalid format", domain.ErrInvalidID))
	}

	return id.String(), nil
}

// getPathTaskID extracts a task ID from the URL path parameters.
func getPathTaskID(r *http.Request, paramName string) (string, error) {
	return parseTaskID(chi.URLParam(r, paramName))
}

// getPathFilename extracts a bare artifact filename from the URL path.
func getPathFilename(r *http.Request, paramName string) (string, bool) {
	name := chi.URLParam(r, paramName)
	return name, name != ""
}
