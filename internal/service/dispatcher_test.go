package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/vista-api/internal/domain"
)

// blockingClaimer blocks every execution until released or cancelled.
type blockingClaimer struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	release chan struct{}
}

func newBlockingClaimer() *blockingClaimer {
	return &blockingClaimer{started: make(chan string, 10), release: make(chan struct{})}
}

func (c *blockingClaimer) ClaimAndExecute(ctx context.Context, taskID string) (*domain.Task, error) {
	c.mu.Lock()
	c.calls = append(c.calls, taskID)
	c.mu.Unlock()
	c.started <- taskID
	select {
	case <-c.release:
		return &domain.Task{ID: taskID, Status: domain.TaskStatusCompleted}, nil
	case <-ctx.Done():
		return &domain.Task{ID: taskID, Status: domain.TaskStatusFailed}, nil
	}
}

func TestDispatcher_DeduplicatesInFlight(t *testing.T) {
	t.Parallel()
	claimer := newBlockingClaimer()
	d := NewDispatcher(claimer, setupTestLogger())

	assert.NoError(t, d.Dispatch("a"))
	<-claimer.started
	assert.ErrorIs(t, d.Dispatch("a"), ErrAlreadyDispatched, "same task must not run twice at once")
	assert.NoError(t, d.Dispatch("b"))
	<-claimer.started
	assert.Equal(t, 2, d.InFlight())

	close(claimer.release)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Zero(t, d.InFlight())
	assert.ErrorIs(t, d.Dispatch("c"), ErrDispatcherClosed, "shut down dispatcher accepts nothing")
}

func TestDispatcher_ShutdownTimeoutCancelsWork(t *testing.T) {
	t.Parallel()
	claimer := newBlockingClaimer()
	d := NewDispatcher(claimer, setupTestLogger())

	require.NoError(t, d.Dispatch("slow"))
	<-claimer.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, d.InFlight())
}
