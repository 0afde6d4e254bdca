package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/queue"
)

func TestBroker_FIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client := setupRedis(t)
	b := NewBroker(client)
	name := queue.Name("", domain.TaskTypeDenoise)

	require.NoError(t, b.Push(ctx, name, "first"))
	require.NoError(t, b.Push(ctx, name, "second"))

	n, err := b.Len(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	id, err := b.Pop(ctx, name, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", id)

	id, err = b.Pop(ctx, name, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", id)
}

func TestBroker_PopEmpty(t *testing.T) {
	t.Parallel()
	_, client := setupRedis(t)
	b := NewBroker(client)

	_, err := b.Pop(context.Background(), "task_queue:virtual", 100*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestBroker_Unavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := setupRedis(t)
	b := NewBroker(client)

	mr.Close()

	assert.ErrorIs(t, b.Push(ctx, "q", "x"), queue.ErrUnavailable)
	_, err := b.Pop(ctx, "q", 100*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrUnavailable)
	assert.ErrorIs(t, b.Ping(ctx), queue.ErrUnavailable)
}
