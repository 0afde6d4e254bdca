package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/vista-api/internal/domain"
)

// TaskEvent records one committed status transition of a task.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	TaskID   string            `json:"task_id"`
	TaskType domain.TaskType   `json:"task_type"`
	From     domain.TaskStatus `json:"from"`
	To       domain.TaskStatus `json:"to"`
	At       time.Time         `json:"at"`

	// Duration is the time spent in processing; set on terminal transitions.
	Duration time.Duration `json:"duration,omitempty"`
}

// NewTaskEvent builds the event for task having just moved from one status
// to its current one.
func NewTaskEvent(task *domain.Task, from domain.TaskStatus) *TaskEvent {
	e := &TaskEvent{
		ID:       uuid.New(),
		TaskID:   task.ID,
		TaskType: task.Type,
		From:     from,
		To:       task.Status,
		At:       time.Now().UTC(),
	}

	if task.ProcessingStartedAt != nil {
		switch {
		case task.CompletedAt != nil:
			e.Duration = task.CompletedAt.Sub(*task.ProcessingStartedAt)
		case task.FailedAt != nil:
			e.Duration = task.FailedAt.Sub(*task.ProcessingStartedAt)
		}
	}
	return e
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskEvent) error
}
