package api

import (
	"context"
	"io"
	"sync"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/service"
)

// mockTaskService is a hand-written TaskService double. Each Fn field
// overrides the matching method; calls are recorded.
type mockTaskService struct {
	mu sync.Mutex

	CreateFn func(ctx context.Context, in service.CreateTaskInput) (*domain.Task, error)
	StartFn  func(ctx context.Context, in service.StartTaskInput) (*domain.Task, error)
	PollFn   func(ctx context.Context, id string) (*service.PollResult, error)
	GetFn    func(ctx context.Context, id string) (*domain.Task, error)
	HealthFn func(ctx context.Context) service.HealthReport

	created  []service.CreateTaskInput
	uploaded [][]byte
	started  []service.StartTaskInput
	polled   []string
}

func (m *mockTaskService) CreateTask(ctx context.Context, in service.CreateTaskInput) (*domain.Task, error) {
	data, _ := io.ReadAll(in.Image)
	m.mu.Lock()
	m.created = append(m.created, in)
	m.uploaded = append(m.uploaded, data)
	m.mu.Unlock()
	return m.CreateFn(ctx, in)
}

func (m *mockTaskService) StartTask(ctx context.Context, in service.StartTaskInput) (*domain.Task, error) {
	m.mu.Lock()
	m.started = append(m.started, in)
	m.mu.Unlock()
	return m.StartFn(ctx, in)
}

func (m *mockTaskService) PollTask(ctx context.Context, id string) (*service.PollResult, error) {
	m.mu.Lock()
	m.polled = append(m.polled, id)
	m.mu.Unlock()
	return m.PollFn(ctx, id)
}

func (m *mockTaskService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return m.GetFn(ctx, id)
}

func (m *mockTaskService) Health(ctx context.Context) service.HealthReport {
	if m.HealthFn == nil {
		return service.HealthReport{Status: "ok", Store: "ok", Broker: "ok"}
	}
	return m.HealthFn(ctx)
}
