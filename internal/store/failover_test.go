package store_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/platform/memory"
	"github.com/phrazzld/vista-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore delegates to a memory store unless it is switched off.
type flakyStore struct {
	*memory.TaskStore
	down atomic.Bool
}

func (f *flakyStore) Create(ctx context.Context, task *domain.Task) error {
	if f.down.Load() {
		return store.ErrUnavailable
	}
	return f.TaskStore.Create(ctx, task)
}

func (f *flakyStore) Put(ctx context.Context, task *domain.Task) error {
	if f.down.Load() {
		return store.ErrUnavailable
	}
	return f.TaskStore.Put(ctx, task)
}

func (f *flakyStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	if f.down.Load() {
		return nil, store.ErrUnavailable
	}
	return f.TaskStore.Get(ctx, id)
}

func (f *flakyStore) Update(ctx context.Context, id string, fn store.UpdateFunc) (*domain.Task, error) {
	if f.down.Load() {
		return nil, store.ErrUnavailable
	}
	return f.TaskStore.Update(ctx, id, fn)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.down.Load() {
		return store.ErrUnavailable
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.TaskTypeVirtual, "/uploads/a_original.png", domain.NowUTC())
	require.NoError(t, err)
	return task
}

func TestFailoverStore_UsesPrimaryWhenHealthy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := &flakyStore{TaskStore: memory.NewTaskStore(0)}
	fallback := memory.NewTaskStore(0)
	s := store.NewFailoverStore(primary, fallback, discardLogger())

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))

	assert.Equal(t, 1, primary.Len())
	assert.Equal(t, 0, fallback.Len())
	assert.False(t, s.Degraded())
	assert.NoError(t, s.Ping(ctx))
}

func TestFailoverStore_RedirectsDuringOutage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := &flakyStore{TaskStore: memory.NewTaskStore(0)}
	fallback := memory.NewTaskStore(0)
	s := store.NewFailoverStore(primary, fallback, discardLogger())

	primary.down.Store(true)

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))
	assert.True(t, s.Degraded())
	assert.Equal(t, 1, fallback.Len())

	_, err := store.Transition(ctx, s, task.ID, domain.TaskStatusUploaded, domain.TaskStatusQueued, nil)
	require.NoError(t, err)

	// Once the primary is back, records written during the outage stay readable
	primary.down.Store(false)
	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
	assert.False(t, s.Degraded())

	updated, err := store.Transition(ctx, s, task.ID, domain.TaskStatusQueued, domain.TaskStatusProcessing, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, updated.Status)
}

func TestFailoverStore_MissingEverywhere(t *testing.T) {
	t.Parallel()
	s := store.NewFailoverStore(memory.NewTaskStore(0), memory.NewTaskStore(0), discardLogger())

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}
