package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/vista-api/internal/queue"
)

// Broker implements queue.Broker on Redis lists.
type Broker struct {
	client goredis.UniversalClient
}

var _ queue.Broker = (*Broker)(nil)

// NewBroker creates a Broker on a client it does not own.
func NewBroker(client goredis.UniversalClient) *Broker {
	return &Broker{client: client}
}

func wrapQueueErr(op, name string, err error) error {
	if isConnError(err) {
		return fmt.Errorf("%s %s: %w: %v", op, name, queue.ErrUnavailable, err)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}

// Push implements queue.Broker with LPUSH.
func (b *Broker) Push(ctx context.Context, name, taskID string) error {
	if err := b.client.LPush(ctx, name, taskID).Err(); err != nil {
		return wrapQueueErr("push", name, err)
	}
	return nil
}

// Pop implements queue.Broker with BRPOP, so together with Push the list
// behaves as a FIFO.
func (b *Broker) Pop(ctx context.Context, name string, timeout time.Duration) (string, error) {
	res, err := b.client.BRPop(ctx, timeout, name).Result()
	if errors.Is(err, goredis.Nil) {
		return "", queue.ErrEmpty
	}
	if err != nil {
		return "", wrapQueueErr("pop", name, err)
	}
	// BRPOP replies with [list, value]
	if len(res) != 2 {
		return "", fmt.Errorf("pop %s: unexpected reply %v", name, res)
	}
	return res[1], nil
}

// Len returns the number of entries waiting in the named queue.
func (b *Broker) Len(ctx context.Context, name string) (int64, error) {
	n, err := b.client.LLen(ctx, name).Result()
	if err != nil {
		return 0, wrapQueueErr("len", name, err)
	}
	return n, nil
}

// Ping implements queue.Broker.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return wrapQueueErr("ping", "redis", err)
	}
	return nil
}

// Close implements queue.Broker. The client is shared with the task store
// and is closed by its owner, so there is nothing to release here.
func (b *Broker) Close() error {
	return nil
}
