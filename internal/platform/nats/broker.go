// Package nats implements queue.Broker on core NATS queue groups. Every
// worker subscribes to a queue's subject in the same group, so each
// published task ID reaches exactly one worker. IDs published while no
// worker is subscribed are dropped by NATS; the gateway's poll fallback
// picks those tasks up.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/phrazzld/vista-api/internal/queue"
)

// DefaultQueueGroup is the queue group shared by all workers.
const DefaultQueueGroup = "vista-workers"

// Broker implements queue.Broker over a NATS connection.
type Broker struct {
	nc     *nats.Conn
	group  string
	owned  bool
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	closed bool
}

var _ queue.Broker = (*Broker)(nil)

// Connect dials url and returns a Broker that owns the connection.
func Connect(url string, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("vista"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w: %v", queue.ErrUnavailable, err)
	}
	b := NewBroker(nc, DefaultQueueGroup, logger)
	b.owned = true
	return b, nil
}

// NewBroker creates a Broker on a connection it does not own.
func NewBroker(nc *nats.Conn, group string, logger *slog.Logger) *Broker {
	if group == "" {
		group = DefaultQueueGroup
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		nc:     nc,
		group:  group,
		logger: logger.With(slog.String("component", "nats_broker")),
		subs:   make(map[string]*nats.Subscription),
	}
}

func (b *Broker) wrap(op, name string, err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrConnectionDraining) || !b.nc.IsConnected() {
		return fmt.Errorf("%s %s: %w: %v", op, name, queue.ErrUnavailable, err)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}

// Push implements queue.Broker by publishing the ID on the queue's subject.
func (b *Broker) Push(_ context.Context, name, taskID string) error {
	if b.isClosed() {
		return queue.ErrClosed
	}
	if err := b.nc.Publish(name, []byte(taskID)); err != nil {
		return b.wrap("push", name, err)
	}
	return nil
}

// Pop implements queue.Broker. The first Pop on a queue joins its queue group.
func (b *Broker) Pop(ctx context.Context, name string, timeout time.Duration) (string, error) {
	sub, err := b.subscription(name)
	if err != nil {
		return "", err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := sub.NextMsgWithContext(waitCtx)
	switch {
	case err == nil:
		return string(msg.Data), nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return "", queue.ErrEmpty
	case errors.Is(err, nats.ErrBadSubscription) && b.isClosed():
		return "", queue.ErrClosed
	default:
		return "", b.wrap("pop", name, err)
	}
}

func (b *Broker) subscription(name string) (*nats.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, queue.ErrClosed
	}
	if sub, ok := b.subs[name]; ok {
		return sub, nil
	}
	sub, err := b.nc.QueueSubscribeSync(name, b.group)
	if err != nil {
		return nil, b.wrap("subscribe", name, err)
	}
	b.subs[name] = sub
	b.logger.Debug("joined queue group", slog.String("queue", name), slog.String("group", b.group))
	return sub, nil
}

// Ping implements queue.Broker with a server round trip.
func (b *Broker) Ping(ctx context.Context) error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("ping nats: %w: status %s", queue.ErrUnavailable, b.nc.Status())
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		return b.wrap("ping", "nats", err)
	}
	return nil
}

// Close unsubscribes from every queue and closes the connection if owned.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	if b.owned {
		b.nc.Close()
	}
	return errors.Join(errs...)
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
