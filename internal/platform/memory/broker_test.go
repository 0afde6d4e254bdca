package memory

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/vista-api/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_FIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBroker()

	require.NoError(t, b.Push(ctx, "q", "a"))
	require.NoError(t, b.Push(ctx, "q", "b"))
	assert.Equal(t, 2, b.Len("q"))

	id, err := b.Pop(ctx, "q", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = b.Pop(ctx, "q", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestBroker_PopTimesOut(t *testing.T) {
	t.Parallel()
	b := NewBroker()

	start := time.Now()
	_, err := b.Pop(context.Background(), "q", 20*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestBroker_PopWakesOnPush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBroker()

	got := make(chan string, 1)
	go func() {
		id, _ := b.Pop(ctx, "q", 5*time.Second)
		got <- id
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Push(ctx, "q", "late"))

	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestBroker_Close(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBroker()

	done := make(chan error, 1)
	go func() {
		_, err := b.Pop(ctx, "q", 5*time.Second)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Close())
	assert.ErrorIs(t, <-done, queue.ErrClosed)
	assert.ErrorIs(t, b.Push(ctx, "q", "x"), queue.ErrClosed)
	assert.ErrorIs(t, b.Ping(ctx), queue.ErrClosed)
}
