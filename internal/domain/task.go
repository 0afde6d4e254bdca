package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusUploaded   TaskStatus = "uploaded"
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// allowedTransitions lists the directed edges of the task lifecycle.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusUploaded:   {TaskStatusQueued},
	TaskStatusQueued:     {TaskStatusProcessing},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed},
}

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusUploaded, TaskStatusQueued, TaskStatusProcessing,
		TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskType identifies the kind of image work requested.
type TaskType string

// Supported task types
const (
	// TaskTypeDenoise upscales an image and removes clutter/noise.
	TaskTypeDenoise TaskType = "denoise"

	// TaskTypeVirtual stages a room with furniture selected for a style and budget.
	TaskTypeVirtual TaskType = "virtual"
)

// SupportedTaskTypes returns the closed set of task types, in queue rotation order.
func SupportedTaskTypes() []TaskType {
	return []TaskType{TaskTypeDenoise, TaskTypeVirtual}
}

// IsValid reports whether t is a supported task type.
func (t TaskType) IsValid() bool {
	return t == TaskTypeDenoise || t == TaskTypeVirtual
}

// Description returns a human readable summary of the work a task type performs.
func (t TaskType) Description() string {
	switch t {
	case TaskTypeDenoise:
		return "AI upscaling and clutter removal"
	case TaskTypeVirtual:
		return "virtual staging"
	default:
		return ""
	}
}

// ParseTaskType converts a raw string into a TaskType.
func ParseTaskType(raw string) (TaskType, error) {
	t := TaskType(strings.TrimSpace(raw))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q (supported: %s, %s)",
			ErrUnsupportedTaskType, raw, TaskTypeDenoise, TaskTypeVirtual)
	}
	return t, nil
}

// Default parameters for virtual staging when the client omits them.
const (
	DefaultStagingStyle    = "modern"
	DefaultStagingBudget   = 50000
	DefaultStagingRoomType = "living room"
)

// Params holds type-specific task attributes. Only virtual staging uses them today.
type Params struct {
	Style    string `json:"style,omitempty"`
	Budget   int    `json:"budget,omitempty"`
	RoomType string `json:"room_type,omitempty"`
}

// WithDefaults fills unset virtual staging parameters with their defaults.
// Other task types get their params back unchanged.
func (p Params) WithDefaults(t TaskType) Params {
	if t != TaskTypeVirtual {
		return p
	}
	if p.Style == "" {
		p.Style = DefaultStagingStyle
	}
	if p.Budget <= 0 {
		p.Budget = DefaultStagingBudget
	}
	if p.RoomType == "" {
		p.RoomType = DefaultStagingRoomType
	}
	return p
}

// ExtraResult is a secondary artifact produced alongside the main output,
// e.g. one selected piece of furniture with its own preview image.
type ExtraResult struct {
	ID       string  `json:"id"`
	Category string  `json:"category,omitempty"`
	Style    string  `json:"style,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Ref      string  `json:"ref,omitempty"`
}

// Task is one unit of requested image work.
type Task struct {
	ID           string        `json:"task_id"`
	Type         TaskType      `json:"task_type"`
	Status       TaskStatus    `json:"status"`
	Description  string        `json:"description,omitempty"`
	InputRef     string        `json:"input_ref"`
	OutputRef    string        `json:"output_ref,omitempty"`
	ImageWidth   int           `json:"image_width,omitempty"`
	ImageHeight  int           `json:"image_height,omitempty"`
	Params       *Params       `json:"params,omitempty"`
	Error        string        `json:"error,omitempty"`
	ExtraResults []ExtraResult `json:"extra_results,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	QueuedAt            *time.Time `json:"queued_at,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	FailedAt            *time.Time `json:"failed_at,omitempty"`

	// Version is incremented by the store on every write.
	Version int64 `json:"version"`
}

// NowUTC returns the current time in UTC at microsecond precision, which
// survives a round trip through every store backend unchanged.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewTask creates an uploaded task with a fresh ID.
func NewTask(taskType TaskType, inputRef string, now time.Time) (*Task, error) {
	return NewTaskWithID(uuid.NewString(), taskType, inputRef, now)
}

// NewTaskWithID creates an uploaded task with a caller-chosen ID, for callers
// that must name artifacts after the task before the record exists.
func NewTaskWithID(id string, taskType TaskType, inputRef string, now time.Time) (*Task, error) {
	task := &Task{
		ID:          id,
		Type:        taskType,
		Status:      TaskStatusUploaded,
		Description: taskType.Description(),
		InputRef:    inputRef,
		CreatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks the invariants of a task record.
func (t *Task) Validate() error {
	if _, err := uuid.Parse(t.ID); err != nil {
		return NewValidationError("task_id", "must be a UUID", ErrInvalidID)
	}
	if !t.Type.IsValid() {
		return NewValidationError("task_type", "is not supported", ErrUnsupportedTaskType)
	}
	if !t.Status.IsValid() {
		return NewValidationError("status", "is not a lifecycle status", ErrInvalidTaskStatus)
	}
	if t.InputRef == "" {
		return NewValidationError("input_ref", "is required", ErrValidation)
	}
	return nil
}

// TransitionTo moves the task to the next status and stamps the matching
// transition timestamp. It rejects edges that are not part of the lifecycle.
func (t *Task) TransitionTo(to TaskStatus, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	stamp := at
	switch to {
	case TaskStatusQueued:
		t.QueuedAt = &stamp
	case TaskStatusProcessing:
		t.ProcessingStartedAt = &stamp
	case TaskStatusCompleted:
		t.CompletedAt = &stamp
	case TaskStatusFailed:
		t.FailedAt = &stamp
	}
	t.Status = to
	return nil
}

// Clone returns a deep copy of the task so callers can mutate it without
// affecting the stored record.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Params != nil {
		p := *t.Params
		c.Params = &p
	}
	if t.ExtraResults != nil {
		c.ExtraResults = make([]ExtraResult, len(t.ExtraResults))
		copy(c.ExtraResults, t.ExtraResults)
	}
	c.QueuedAt = cloneTime(t.QueuedAt)
	c.ProcessingStartedAt = cloneTime(t.ProcessingStartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.FailedAt = cloneTime(t.FailedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
