package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/vista-api/internal/artifact"
	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/events"
	"github.com/phrazzld/vista-api/internal/queue"
	"github.com/phrazzld/vista-api/internal/store"
	"github.com/phrazzld/vista-api/internal/task"
)

// Poll messages reported alongside the status.
const (
	MessageProcessing = "task is being processed"
	MessageCompleted  = "task completed"
	MessageFailed     = "task failed"
	MessageWaiting    = "waiting for the task to be processed"
)

// OriginalSaver persists the decoded upload and returns its reference.
type OriginalSaver interface {
	SaveOriginal(taskID string, img image.Image) (string, error)
}

// Executor is the claim-and-execute path shared with the worker pool.
type Executor interface {
	task.Claimer
	FailStale(ctx context.Context, taskID string, maxAge time.Duration) (*domain.Task, bool, error)
	Timeout() time.Duration
}

// Config tunes TaskService.
type Config struct {
	// QueuePrefix is prepended to the task type to name its queue.
	QueuePrefix string
	// InlineFallback makes polls execute queued tasks nobody claimed.
	InlineFallback bool
	// StaleGrace is added to the executor timeout before a processing task
	// is considered abandoned.
	StaleGrace time.Duration
	// MaxImagePixels caps width*height of uploads. Zero uses artifact.DefaultMaxImagePixels.
	MaxImagePixels int64
}

// CreateTaskInput is an upload to turn into a task.
type CreateTaskInput struct {
	Type     string
	Filename string
	Image    io.Reader
}

// StartTaskInput asks for an uploaded task to be queued.
type StartTaskInput struct {
	TaskID string
	Type   string
	Params domain.Params
}

// PollResult is the client-facing view of a task's progress.
type PollResult struct {
	TaskID       string
	Type         domain.TaskType
	Status       domain.TaskStatus
	Message      string
	OutputRef    string
	OriginalRef  string
	ExtraResults []domain.ExtraResult
	Error        string
}

// HealthReport describes backend connectivity.
type HealthReport struct {
	Status   string           `json:"status"`
	Store    string           `json:"store"`
	Broker   string           `json:"broker"`
	Degraded bool             `json:"degraded"`
	Stats    *events.Snapshot `json:"stats,omitempty"`
}

// Option configures a TaskService.
type Option func(*TaskService)

// WithStats reports s in Health.
func WithStats(s *events.Stats) Option {
	return func(svc *TaskService) { svc.stats = s }
}

// WithEmitter publishes create and queue transitions to e.
func WithEmitter(e events.EventEmitter) Option {
	return func(svc *TaskService) { svc.emitter = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(svc *TaskService) { svc.now = now }
}

// TaskService implements the create, start and poll operations.
type TaskService struct {
	store      store.TaskStore
	broker     queue.Broker
	originals  OriginalSaver
	executor   Executor
	dispatcher *Dispatcher
	cfg        Config
	stats      *events.Stats
	emitter    events.EventEmitter
	now        func() time.Time
	logger     *slog.Logger
}

// NewTaskService creates a TaskService. executor may be nil, which disables
// the inline fallback and the stale task reaper.
func NewTaskService(
	s store.TaskStore,
	broker queue.Broker,
	originals OriginalSaver,
	executor Executor,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueuePrefix == "" {
		cfg.QueuePrefix = queue.DefaultPrefix
	}
	svc := &TaskService{
		store:     s,
		broker:    broker,
		originals: originals,
		executor:  executor,
		cfg:       cfg,
		now:       domain.NowUTC,
		logger:    logger.With(slog.String("component", "task_service")),
	}
	if cfg.InlineFallback && executor != nil {
		svc.dispatcher = NewDispatcher(executor, logger)
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Dispatcher returns the inline fallback runner, or nil when disabled.
func (s *TaskService) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// CreateTask validates the upload, stores the original and persists an
// uploaded record. Nothing is written when validation fails.
func (s *TaskService) CreateTask(ctx context.Context, in CreateTaskInput) (*domain.Task, error) {
	taskType, err := domain.ParseTaskType(in.Type)
	if err != nil {
		return nil, err
	}
	if in.Image == nil {
		return nil, domain.NewValidationError("image", "is required", domain.ErrInvalidImage)
	}
	img, err := artifact.DecodeImage(in.Image, s.cfg.MaxImagePixels)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ref, err := s.originals.SaveOriginal(id, img)
	if err != nil {
		return nil, NewTaskServiceError("create_task", "failed to store original image", err)
	}

	t, err := domain.NewTaskWithID(id, taskType, ref, s.now())
	if err != nil {
		return nil, err
	}
	t.ImageWidth = img.Bounds().Dx()
	t.ImageHeight = img.Bounds().Dy()

	if err := s.store.Create(ctx, t); err != nil {
		return nil, NewTaskServiceError("create_task", "failed to persist task", err)
	}

	s.emit(ctx, t, "")
	s.logger.InfoContext(ctx, "task created",
		slog.String("task_id", t.ID),
		slog.String("task_type", string(t.Type)),
		slog.String("filename", in.Filename),
		slog.Int("width", t.ImageWidth),
		slog.Int("height", t.ImageHeight))
	return t, nil
}

// StartTask moves an uploaded task to queued and pushes it to its queue.
// Starting a task that is already queued is a no-op that reports queued.
func (s *TaskService) StartTask(ctx context.Context, in StartTaskInput) (*domain.Task, error) {
	taskType, err := domain.ParseTaskType(in.Type)
	if err != nil {
		return nil, err
	}

	current, err := s.store.Get(ctx, in.TaskID)
	if err != nil {
		return nil, NewTaskServiceError("start_task", "failed to load task", err)
	}
	if current.Type != taskType {
		return nil, fmt.Errorf("%w: task %s is %s, request says %s",
			ErrTaskTypeMismatch, current.ID, current.Type, taskType)
	}
	switch current.Status {
	case domain.TaskStatusQueued:
		return current, nil
	case domain.TaskStatusUploaded:
	default:
		return nil, fmt.Errorf("%w: task %s is already %s",
			domain.ErrInvalidTransition, current.ID, current.Status)
	}

	// Decoration params only mean something to virtual staging
	var params domain.Params
	if taskType == domain.TaskTypeVirtual {
		params = in.Params.WithDefaults(taskType)
	}
	queued, err := store.Transition(ctx, s.store, current.ID,
		domain.TaskStatusUploaded, domain.TaskStatusQueued,
		func(t *domain.Task) error {
			if params != (domain.Params{}) {
				p := params
				t.Params = &p
			}
			return nil
		})
	if err != nil {
		if observed, ok := store.ObservedStatus(err); ok {
			// Lost the race to a concurrent start
			if observed == domain.TaskStatusQueued {
				return s.store.Get(ctx, current.ID)
			}
			return nil, fmt.Errorf("%w: task %s is already %s",
				domain.ErrInvalidTransition, current.ID, observed)
		}
		return nil, NewTaskServiceError("start_task", "failed to queue task", err)
	}

	s.emit(ctx, queued, domain.TaskStatusUploaded)

	name := queue.Name(s.cfg.QueuePrefix, queued.Type)
	if err := s.broker.Push(ctx, name, queued.ID); err != nil {
		// The record stays queued; the poll fallback picks it up
		s.logger.WarnContext(ctx, "failed to push task to queue",
			slog.String("task_id", queued.ID),
			slog.String("queue", name),
			slog.String("error", err.Error()))
	} else {
		s.logger.InfoContext(ctx, "task queued",
			slog.String("task_id", queued.ID),
			slog.String("queue", name))
	}
	return queued, nil
}

// PollTask reports a task's progress. A queued task that no worker has
// claimed is executed inline in the background and reported as processing.
// Once the dispatcher is shut down a queued task stays reported as queued.
func (s *TaskService) PollTask(ctx context.Context, taskID string) (*PollResult, error) {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, NewTaskServiceError("poll_task", "failed to load task", err)
	}

	if t.Status == domain.TaskStatusProcessing {
		t = s.reapIfStale(ctx, t)
	}

	res := &PollResult{TaskID: t.ID, Type: t.Type, Status: t.Status}
	switch t.Status {
	case domain.TaskStatusQueued:
		if s.dispatcher == nil {
			res.Message = MessageWaiting
			break
		}
		err := s.dispatcher.Dispatch(t.ID)
		if errors.Is(err, ErrDispatcherClosed) {
			// Nothing will run it from this process any more.
			res.Message = MessageWaiting
			break
		}
		if err == nil {
			s.logger.InfoContext(ctx, "inline execution scheduled", slog.String("task_id", t.ID))
		}
		res.Status = domain.TaskStatusProcessing
		res.Message = MessageProcessing
	case domain.TaskStatusProcessing:
		res.Message = MessageProcessing
	case domain.TaskStatusCompleted:
		res.Message = MessageCompleted
		res.OutputRef = t.OutputRef
		res.OriginalRef = t.InputRef
		res.ExtraResults = t.ExtraResults
	case domain.TaskStatusFailed:
		res.Message = MessageFailed
		res.Error = t.Error
	default:
		res.Message = MessageWaiting
	}
	return res, nil
}

// reapIfStale fails a processing task whose claim outlived the processing
// timeout plus grace and returns the freshest record.
func (s *TaskService) reapIfStale(ctx context.Context, t *domain.Task) *domain.Task {
	if s.executor == nil {
		return t
	}
	maxAge := s.executor.Timeout() + s.cfg.StaleGrace
	if t.ProcessingStartedAt == nil || s.now().Sub(*t.ProcessingStartedAt) <= maxAge {
		return t
	}
	failed, ok, err := s.executor.FailStale(ctx, t.ID, maxAge)
	if err != nil {
		s.logger.WarnContext(ctx, "stale task check failed",
			slog.String("task_id", t.ID), slog.String("error", err.Error()))
		return t
	}
	if ok {
		return failed
	}
	if fresh, err := s.store.Get(ctx, t.ID); err == nil {
		return fresh
	}
	return t
}

func (s *TaskService) emit(ctx context.Context, t *domain.Task, from domain.TaskStatus) {
	if s.emitter == nil {
		return
	}
	// Handler failures are logged by the emitter and never affect the request
	_ = s.emitter.EmitEvent(ctx, events.NewTaskEvent(t, from))
}

// GetTask returns the raw task record.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, NewTaskServiceError("get_task", "failed to load task", err)
	}
	return t, nil
}

// Health pings the store and broker. Store outages are reported as
// degraded since requests are served from the fallback store.
func (s *TaskService) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: "ok", Store: "ok", Broker: "ok"}

	if err := s.store.Ping(ctx); err != nil {
		report.Store = errorText(err)
		report.Status = "degraded"
	}
	if d, ok := s.store.(interface{ Degraded() bool }); ok && d.Degraded() {
		report.Degraded = true
		report.Status = "degraded"
	}
	if err := s.broker.Ping(ctx); err != nil {
		report.Broker = errorText(err)
		report.Status = "degraded"
	}
	if s.stats != nil {
		snap := s.stats.Snapshot()
		report.Stats = &snap
	}
	return report
}

func errorText(err error) string {
	switch {
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, queue.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// Close waits for inline executions to finish.
func (s *TaskService) Close(ctx context.Context) error {
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.Shutdown(ctx)
}
