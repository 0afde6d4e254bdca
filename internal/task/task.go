package task

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/phrazzld/vista-api/internal/domain"
)

// Input is what a handler receives for one task.
type Input struct {
	TaskID   string
	Type     domain.TaskType
	InputRef string
	Params   domain.Params
}

// Result is what a successful handler returns.
type Result struct {
	OutputRef    string
	ExtraResults []domain.ExtraResult
}

// Handler performs the image transformation for one task type.
// Implementations must honor ctx cancellation; a result returned after the
// deadline is discarded.
type Handler interface {
	Process(ctx context.Context, in Input) (*Result, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, in Input) (*Result, error)

// Process implements Handler.
func (f HandlerFunc) Process(ctx context.Context, in Input) (*Result, error) {
	return f(ctx, in)
}

// ProcessingError is a handler failure whose Message is safe to store on the
// task record and show to clients.
type ProcessingError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewProcessingError creates a ProcessingError.
func NewProcessingError(message string, err error) *ProcessingError {
	return &ProcessingError{Message: message, Err: err}
}

// Registry maps task types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.TaskType]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.TaskType]Handler)}
}

// Register installs h for t, replacing any previous handler.
func (r *Registry) Register(t domain.TaskType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Get returns the handler for t.
func (r *Registry) Get(t domain.TaskType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered task types in sorted order.
func (r *Registry) Types() []domain.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]domain.TaskType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
