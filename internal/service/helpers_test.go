package service

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/vista-api/internal/artifact"
	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/events"
	"github.com/phrazzld/vista-api/internal/platform/memory"
	"github.com/phrazzld/vista-api/internal/processing"
	"github.com/phrazzld/vista-api/internal/queue"
	"github.com/phrazzld/vista-api/internal/task"
)

// testEnv wires a TaskService to in-memory backends and the real handlers.
type testEnv struct {
	store     *memory.TaskStore
	broker    *memory.Broker
	artifacts *artifact.Store
	registry  *task.Registry
	executor  *task.Executor
	stats     *events.Stats
	svc       *TaskService
}

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, cfg Config, handlers map[domain.TaskType]task.Handler) *testEnv {
	t.Helper()
	logger := setupTestLogger()
	dir := t.TempDir()

	artifacts, err := artifact.NewStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "output"), logger)
	require.NoError(t, err)

	registry := task.NewRegistry()
	registry.Register(domain.TaskTypeDenoise,
		processing.NewDenoiseHandler(artifacts, processing.DenoiseConfig{UpscaleFactor: 2, Sigma: 0.8}, logger))
	registry.Register(domain.TaskTypeVirtual,
		processing.NewVirtualStagingHandler(artifacts, nil, nil, logger))
	for tt, h := range handlers {
		registry.Register(tt, h)
	}

	stats := events.NewStats()
	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(stats)

	s := memory.NewTaskStore(time.Hour)
	broker := memory.NewBroker()
	executor := task.NewExecutor(s, registry, emitter, time.Minute, logger)
	svc := NewTaskService(s, broker, artifacts, executor, cfg, logger, WithStats(stats), WithEmitter(emitter))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
		_ = broker.Close()
	})

	return &testEnv{
		store:     s,
		broker:    broker,
		artifacts: artifacts,
		registry:  registry,
		executor:  executor,
		stats:     stats,
		svc:       svc,
	}
}

func defaultConfig() Config {
	return Config{QueuePrefix: queue.DefaultPrefix, InlineFallback: true, StaleGrace: time.Minute}
}

func pngReader(t *testing.T, w, h int) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 180, G: 170, B: 160, A: 255})))
	return &buf
}

func (e *testEnv) create(t *testing.T, taskType domain.TaskType) *domain.Task {
	t.Helper()
	created, err := e.svc.CreateTask(context.Background(), CreateTaskInput{
		Type:     string(taskType),
		Filename: "room.png",
		Image:    pngReader(t, 64, 48),
	})
	require.NoError(t, err)
	return created
}

// pollUntil polls until the task reports want or the deadline passes.
func (e *testEnv) pollUntil(t *testing.T, id string, want domain.TaskStatus) *PollResult {
	t.Helper()
	var last *PollResult
	require.Eventually(t, func() bool {
		res, err := e.svc.PollTask(context.Background(), id)
		if err != nil {
			return false
		}
		last = res
		return res.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return last
}
