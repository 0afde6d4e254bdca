package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.TaskTypeDenoise, "/uploads/x_original.png", domain.NowUTC())
	require.NoError(t, err)
	return task
}

func TestTaskStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewTaskStore(time.Hour)

	task := newTask(t)
	task.Params = &domain.Params{Style: "modern", Budget: 6000}
	require.NoError(t, s.Create(ctx, task))
	assert.Equal(t, int64(1), task.Version)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	// Returned copies are detached from the stored record
	got.Params.Budget = 1
	again, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 6000, again.Params.Budget)

	assert.ErrorIs(t, s.Create(ctx, task), store.ErrTaskExists)
}

func TestTaskStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := NewTaskStore(0)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestTaskStore_Expiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewTaskStore(time.Hour, WithClock(clock.Now))

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))

	clock.Advance(59 * time.Minute)
	_, err := s.Update(ctx, task.ID, func(t *domain.Task) error {
		t.Description = "touched"
		return nil
	})
	require.NoError(t, err)

	// The write restarted the retention window
	clock.Advance(59 * time.Minute)
	_, err = s.Get(ctx, task.ID)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = s.Get(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestTaskStore_Transition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewTaskStore(0)

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))

	queued, err := store.Transition(ctx, s, task.ID, domain.TaskStatusUploaded, domain.TaskStatusQueued,
		func(t *domain.Task) error {
			t.Params = &domain.Params{Style: "modern"}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, queued.Status)
	assert.NotNil(t, queued.QueuedAt)
	assert.Equal(t, "modern", queued.Params.Style)

	// The CAS loses once the status moved on, and nothing is written
	_, err = store.Transition(ctx, s, task.ID, domain.TaskStatusUploaded, domain.TaskStatusQueued, nil)
	assert.ErrorIs(t, err, store.ErrStatusConflict)
	observed, ok := store.ObservedStatus(err)
	assert.True(t, ok)
	assert.Equal(t, domain.TaskStatusQueued, observed)

	stored, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queued.Version, stored.Version)

	// Edges outside the lifecycle are rejected before touching the store
	_, err = store.Transition(ctx, s, task.ID, domain.TaskStatusQueued, domain.TaskStatusCompleted, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTaskStore_ConcurrentClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewTaskStore(0)

	task := newTask(t)
	task.Status = domain.TaskStatusQueued
	require.NoError(t, s.Put(ctx, task))

	const contenders = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transition(ctx, s, task.ID,
				domain.TaskStatusQueued, domain.TaskStatusProcessing, nil)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
