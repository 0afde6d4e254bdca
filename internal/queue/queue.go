// Package queue defines the broker contract used to hand task IDs from the
// request gateway to the worker pool. Implementations live under
// internal/platform (redis, memory, nats, kafka).
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/vista-api/internal/domain"
)

// DefaultPrefix is prepended to the task type to form a queue name.
const DefaultPrefix = "task_queue:"

var (
	// ErrEmpty is returned by Pop when no message arrived before the timeout.
	ErrEmpty = errors.New("queue empty")

	// ErrUnavailable is returned when the broker cannot be reached.
	ErrUnavailable = errors.New("broker unavailable")

	// ErrClosed is returned by operations on a broker after Close.
	ErrClosed = errors.New("broker closed")
)

// Broker is a set of named FIFO queues carrying task IDs.
// Delivery is at-most-once: a popped ID is gone even if the consumer
// crashes before handling it.
type Broker interface {
	// Push appends taskID to the tail of the named queue.
	Push(ctx context.Context, queue, taskID string) error

	// Pop removes and returns the head of the named queue, waiting up to
	// timeout for an entry. It returns ErrEmpty when the wait expires.
	Pop(ctx context.Context, queue string, timeout time.Duration) (string, error)

	// Ping checks connectivity to the broker.
	Ping(ctx context.Context) error

	// Close releases the broker's connections.
	Close() error
}

// Name returns the queue name for a task type.
func Name(prefix string, t domain.TaskType) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + string(t)
}

// Names returns the queue names of every supported task type, in rotation order.
func Names(prefix string) []string {
	types := domain.SupportedTaskTypes()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, Name(prefix, t))
	}
	return names
}
