package store

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/phrazzld/vista-api/internal/domain"
)

// FailoverStore wraps a shared primary store with a process-local fallback.
// Calls go to the primary; when it reports ErrUnavailable the call is
// served by the fallback instead. Reads that miss in the primary also
// consult the fallback so records written during an outage stay visible.
type FailoverStore struct {
	primary  TaskStore
	fallback TaskStore
	logger   *slog.Logger
	degraded atomic.Bool
}

var _ TaskStore = (*FailoverStore)(nil)

// NewFailoverStore creates a FailoverStore.
func NewFailoverStore(primary, fallback TaskStore, logger *slog.Logger) *FailoverStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "failover_store")),
	}
}

// Degraded reports whether the last primary call found the primary unreachable.
func (s *FailoverStore) Degraded() bool {
	return s.degraded.Load()
}

// observe records the outcome of a primary call and reports whether the
// caller should retry against the fallback.
func (s *FailoverStore) observe(ctx context.Context, op string, err error) bool {
	if errors.Is(err, ErrUnavailable) {
		if s.degraded.CompareAndSwap(false, true) {
			s.logger.WarnContext(ctx, "primary task store unavailable, using local fallback",
				slog.String("operation", op),
				slog.String("error", err.Error()))
		}
		return true
	}
	if s.degraded.CompareAndSwap(true, false) {
		s.logger.InfoContext(ctx, "primary task store reachable again",
			slog.String("operation", op))
	}
	return false
}

// Create implements TaskStore.
func (s *FailoverStore) Create(ctx context.Context, task *domain.Task) error {
	err := s.primary.Create(ctx, task)
	if s.observe(ctx, "create", err) {
		return s.fallback.Create(ctx, task)
	}
	return err
}

// Put implements TaskStore.
func (s *FailoverStore) Put(ctx context.Context, task *domain.Task) error {
	err := s.primary.Put(ctx, task)
	if s.observe(ctx, "put", err) {
		return s.fallback.Put(ctx, task)
	}
	return err
}

// Get implements TaskStore.
func (s *FailoverStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	task, err := s.primary.Get(ctx, id)
	if s.observe(ctx, "get", err) || errors.Is(err, ErrNotFound) {
		return s.fallback.Get(ctx, id)
	}
	return task, err
}

// Update implements TaskStore.
func (s *FailoverStore) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Task, error) {
	task, err := s.primary.Update(ctx, id, fn)
	if s.observe(ctx, "update", err) || errors.Is(err, ErrNotFound) {
		return s.fallback.Update(ctx, id, fn)
	}
	return task, err
}

// Ping reports the primary's connectivity. The fallback is always reachable.
func (s *FailoverStore) Ping(ctx context.Context) error {
	err := s.primary.Ping(ctx)
	s.observe(ctx, "ping", err)
	return err
}
