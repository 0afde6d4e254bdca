package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/store"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.TaskTypeVirtual, "/uploads/r_original.png", domain.NowUTC())
	require.NoError(t, err)
	return task
}

func TestTaskStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := setupRedis(t)
	s := NewTaskStore(client, "", 0, testLogger())

	task := newTask(t)
	task.Params = &domain.Params{Style: "modern", Budget: 6000, RoomType: "living room"}
	task.ExtraResults = []domain.ExtraResult{{ID: "sofa-1", Category: "sofa", Price: 1200}}
	require.NoError(t, s.Create(ctx, task))

	assert.True(t, mr.Exists("task_storage:"+task.ID))
	assert.Equal(t, store.DefaultTTL, mr.TTL("task_storage:"+task.ID))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	assert.ErrorIs(t, s.Create(ctx, task), store.ErrTaskExists)
}

func TestTaskStore_NotFound(t *testing.T) {
	t.Parallel()
	_, client := setupRedis(t)
	s := NewTaskStore(client, "", 0, testLogger())

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	_, err = s.Update(context.Background(), "missing", func(*domain.Task) error { return nil })
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_TTLExpiryAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := setupRedis(t)
	s := NewTaskStore(client, "", time.Hour, testLogger())

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))

	mr.FastForward(50 * time.Minute)
	_, err := store.Transition(ctx, s, task.ID, domain.TaskStatusUploaded, domain.TaskStatusQueued, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("task_storage:"+task.ID))

	mr.FastForward(time.Hour + time.Second)
	_, err = s.Get(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_UpdateBumpsVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client := setupRedis(t)
	s := NewTaskStore(client, "", 0, testLogger())

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))

	updated, err := s.Update(ctx, task.ID, func(t *domain.Task) error {
		t.Description = "changed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, task.Version+1, updated.Version)
	assert.Equal(t, "changed", updated.Description)
}

func TestTaskStore_ConcurrentClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client := setupRedis(t)
	s := NewTaskStore(client, "", 0, testLogger())

	task := newTask(t)
	task.Status = domain.TaskStatusQueued
	require.NoError(t, s.Put(ctx, task))

	const contenders = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transition(ctx, s, task.ID,
				domain.TaskStatusQueued, domain.TaskStatusProcessing, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, store.ErrStatusConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, conflicts)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.NotNil(t, got.ProcessingStartedAt)
}

func TestTaskStore_Unavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := setupRedis(t)
	s := NewTaskStore(client, "", 0, testLogger())

	mr.Close()

	_, err := s.Get(ctx, "any")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.ErrorIs(t, s.Put(ctx, newTask(t)), store.ErrUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), store.ErrUnavailable)
}
