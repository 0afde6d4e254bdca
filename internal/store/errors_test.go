package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "generic", err: errors.New("boom"), want: false},
		{name: "ErrNotFound", err: ErrNotFound, want: true},
		{name: "ErrTaskNotFound", err: ErrTaskNotFound, want: true},
		{name: "wrapped", err: fmt.Errorf("get: %w", ErrTaskNotFound), want: true},
		{name: "store error", err: NewStoreError("task", "get", "missing", ErrTaskNotFound), want: true},
		{name: "duplicate", err: ErrTaskExists, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsNotFoundError(tc.err))
		})
	}
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	err := NewStoreError("task", "update", "write failed", ErrUnavailable)
	assert.Equal(t, "update operation on task failed: write failed: store unavailable", err.Error())
	assert.ErrorIs(t, err, ErrUnavailable)

	bare := NewStoreError("task", "get", "bad key", nil)
	assert.Equal(t, "get operation on task failed: bad key", bare.Error())
}

func TestStatusConflictError(t *testing.T) {
	t.Parallel()

	var err error = &StatusConflictError{
		TaskID:   "abc",
		Expected: domain.TaskStatusQueued,
		Actual:   domain.TaskStatusProcessing,
	}
	wrapped := fmt.Errorf("claim: %w", err)

	assert.ErrorIs(t, wrapped, ErrStatusConflict)
	got, ok := ObservedStatus(wrapped)
	assert.True(t, ok)
	assert.Equal(t, domain.TaskStatusProcessing, got)

	_, ok = ObservedStatus(errors.New("other"))
	assert.False(t, ok)
}
