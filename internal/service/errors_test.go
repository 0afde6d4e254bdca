package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/store"
)

func TestNewTaskServiceError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewTaskServiceError("poll_task", "x", nil))

	passthrough := []error{
		fmt.Errorf("wrapped: %w", store.ErrTaskNotFound),
		domain.ErrUnsupportedTaskType,
		fmt.Errorf("%w: denoise vs virtual", ErrTaskTypeMismatch),
		domain.ErrInvalidTransition,
	}
	for _, err := range passthrough {
		assert.Same(t, err, NewTaskServiceError("start_task", "failed", err), err.Error())
	}

	cause := errors.New("disk on fire")
	err := NewTaskServiceError("create_task", "failed to store original image", cause)
	var svcErr *TaskServiceError
	assert.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "create_task", svcErr.Operation)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "task service create_task failed: failed to store original image: disk on fire", err.Error())
}
