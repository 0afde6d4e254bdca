package memory

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/vista-api/internal/queue"
)

type fifo struct {
	items []string
	// ready is closed and replaced whenever an item is pushed.
	ready chan struct{}
}

// Broker is an in-process queue.Broker with unbounded FIFO queues.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*fifo
	closed chan struct{}
	once   sync.Once
}

var _ queue.Broker = (*Broker)(nil)

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string]*fifo),
		closed: make(chan struct{}),
	}
}

// get returns the named queue, creating it on first use. Callers must hold b.mu.
func (b *Broker) get(name string) *fifo {
	q, ok := b.queues[name]
	if !ok {
		q = &fifo{ready: make(chan struct{})}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Push implements queue.Broker.
func (b *Broker) Push(ctx context.Context, name, taskID string) error {
	if b.isClosed() {
		return queue.ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.get(name)
	q.items = append(q.items, taskID)
	close(q.ready)
	q.ready = make(chan struct{})
	return nil
}

// Pop implements queue.Broker.
func (b *Broker) Pop(ctx context.Context, name string, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if b.isClosed() {
			return "", queue.ErrClosed
		}

		b.mu.Lock()
		q := b.get(name)
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			b.mu.Unlock()
			return id, nil
		}
		ready := q.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-timer.C:
			return "", queue.ErrEmpty
		case <-ctx.Done():
			return "", ctx.Err()
		case <-b.closed:
			return "", queue.ErrClosed
		}
	}
}

// Len returns the number of entries waiting in the named queue.
func (b *Broker) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.get(name).items)
}

// Ping implements queue.Broker.
func (b *Broker) Ping(ctx context.Context) error {
	if b.isClosed() {
		return queue.ErrClosed
	}
	return nil
}

// Close implements queue.Broker. Blocked Pop calls return ErrClosed.
func (b *Broker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}
