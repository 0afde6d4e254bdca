package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter delivers events synchronously to handlers registered
// in the same process.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

var _ EventEmitter = (*InMemoryEventEmitter)(nil)

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{logger: logger.With(slog.String("component", "event_emitter"))}
}

// RegisterHandler adds handler. Handlers see events in registration order.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	e.mu.Unlock()
}

// EmitEvent hands event to every handler, even after one fails or panics,
// and returns the joined handler errors.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskEvent) error {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	var errs []error
	for i, h := range handlers {
		if err := e.deliver(ctx, h, event); err != nil {
			e.logger.Error("event handler failed",
				slog.String("error", err.Error()),
				slog.Int("handler_index", i),
				slog.String("task_id", event.TaskID),
				slog.String("to", string(event.To)))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *InMemoryEventEmitter) deliver(ctx context.Context, h EventHandler, event *TaskEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("event handler panicked: %v", p)
		}
	}()
	return h.HandleEvent(ctx, event)
}
