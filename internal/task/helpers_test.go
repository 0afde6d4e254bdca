package task

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/platform/memory"
)

// setupTestLogger creates a logger for testing that discards output.
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// queuedTask stores a task in the queued status and returns it.
func queuedTask(t *testing.T, s *memory.TaskStore, taskType domain.TaskType) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(taskType, "/uploads/t_original.png", domain.NowUTC())
	require.NoError(t, err)
	require.NoError(t, task.TransitionTo(domain.TaskStatusQueued, domain.NowUTC()))
	require.NoError(t, s.Create(context.Background(), task))
	return task
}
