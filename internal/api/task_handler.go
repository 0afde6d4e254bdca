package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/vista-api/internal/api/shared"
	"github.com/phrazzld/vista-api/internal/artifact"
	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/platform/logger"
	"github.com/phrazzld/vista-api/internal/service"
)

// DefaultMaxUploadBytes bounds an upload request body when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files.
const multipartMemory = 8 << 20

// TaskService is the gateway behaviour the HTTP layer needs.
type TaskService interface {
	CreateTask(ctx context.Context, in service.CreateTaskInput) (*domain.Task, error)
	StartTask(ctx context.Context, in service.StartTaskInput) (*domain.Task, error)
	PollTask(ctx context.Context, taskID string) (*service.PollResult, error)
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	Health(ctx context.Context) service.HealthReport
}

// ArtifactResolver maps public artifact references to local files.
type ArtifactResolver interface {
	Resolve(ref string) (string, error)
}

// TaskHandlerConfig tunes TaskHandler.
type TaskHandlerConfig struct {
	// MaxUploadBytes caps the upload request body.
	MaxUploadBytes int64
	// Backends describes the configured store and broker for /health.
	Backends map[string]string
}

// TaskHandler serves the task gateway endpoints.
type TaskHandler struct {
	tasks  TaskService
	files  ArtifactResolver
	cfg    TaskHandlerConfig
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(tasks TaskService, files ArtifactResolver, cfg TaskHandlerConfig, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &TaskHandler{
		tasks:  tasks,
		files:  files,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// Routes registers the gateway endpoints on r.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Post("/upload-image", h.UploadImage)
	r.Post("/process-task", h.ProcessTask)
	r.Get("/task/{taskID}/result", h.GetTaskResult)
	r.Get("/task/{taskID}", h.GetTask)
	r.Get("/health", h.Health)
	r.Get("/uploads/{filename}", h.ServeArtifact(artifact.UploadsPrefix))
	r.Get("/output/{filename}", h.ServeArtifact(artifact.OutputPrefix))
}

// log returns the request scoped logger, falling back to the handler's own.
func (h *TaskHandler) log(r *http.Request) *slog.Logger {
	if l := logger.FromContext(r.Context()); l != nil {
		return l.With(slog.String("component", "task_handler"))
	}
	return h.logger
}

// UploadImage handles POST /upload-image. It expects a multipart form with
// an image file and a task_type field and creates an uploaded task.
func (h *TaskHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.cfg.MaxUploadBytes {
		HandleAPIError(w, r, &http.MaxBytesError{Limit: h.cfg.MaxUploadBytes}, "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if !errors.As(err, &maxBytes) {
			err = fmt.Errorf("%w: %v", errMalformedRequest, err)
		}
		HandleAPIError(w, r, err, "")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	taskType := r.FormValue("task_type")
	if _, err := domain.ParseTaskType(taskType); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		HandleAPIError(w, r, domain.NewValidationError("image", "is required", domain.ErrInvalidImage), "")
		return
	}
	defer func() { _ = file.Close() }()

	t, err := h.tasks.CreateTask(r.Context(), service.CreateTaskInput{
		Type:     taskType,
		Filename: header.Filename,
		Image:    file,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	h.log(r).Info("image uploaded",
		slog.String("task_id", t.ID),
		slog.String("task_type", string(t.Type)),
		slog.Int64("size", header.Size))

	shared.RespondWithJSON(w, r, http.StatusOK, UploadResponse{
		Success:     true,
		TaskID:      t.ID,
		TaskType:    string(t.Type),
		OriginalURL: t.InputRef,
		Message:     "image uploaded",
		Status:      string(t.Status),
	})
}

// ProcessTask handles POST /process-task. It queues an uploaded task.
func (h *TaskHandler) ProcessTask(w http.ResponseWriter, r *http.Request) {
	var req ProcessTaskRequest
	if err := shared.DecodeAndValidate(r, &req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	taskID, err := parseTaskID(req.TaskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.tasks.StartTask(r.Context(), service.StartTaskInput{
		TaskID: taskID,
		Type:   req.TaskType,
		Params: req.params(),
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := ProcessTaskResponse{
		Success:  true,
		TaskID:   t.ID,
		TaskType: string(t.Type),
		Message:  t.Type.Description() + " task queued",
		Status:   string(t.Status),
	}
	if t.Type == domain.TaskTypeVirtual {
		resp.TaskParams = t.Params
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetTaskResult handles GET /task/{taskID}/result, the polling endpoint.
func (h *TaskHandler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathTaskID(r, "taskID")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	res, err := h.tasks.PollTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, pollToResponse(res))
}

// GetTask handles GET /task/{taskID} and returns the raw task record.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathTaskID(r, "taskID")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}

// Health handles GET /health. A degraded backend is reported, not failed.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.tasks.Health(r.Context())
	if report.Status != "ok" {
		h.log(r).Warn("health check degraded",
			slog.String("store", report.Store),
			slog.String("broker", report.Broker),
			slog.Bool("degraded", report.Degraded))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		HealthReport: report,
		Backends:     h.cfg.Backends,
	})
}

// ServeArtifact returns a handler serving files referenced under prefix.
func (h *TaskHandler) ServeArtifact(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := getPathFilename(r, "filename")
		if !ok {
			HandleAPIError(w, r, artifact.ErrBadRef, "")
			return
		}
		p, err := h.files.Resolve(prefix + name)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		http.ServeFile(w, r, p)
	}
}
