package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/store"
)

type entry struct {
	task      *domain.Task
	expiresAt time.Time
}

// TaskStore is a mutex-guarded map of task records with optional expiry.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]entry
	ttl   time.Duration
	now   func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// Option configures a TaskStore.
type Option func(*TaskStore)

// WithClock replaces the clock used for expiry, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *TaskStore) { s.now = now }
}

// NewTaskStore creates an empty store. A ttl of zero keeps records forever.
func NewTaskStore(ttl time.Duration, opts ...Option) *TaskStore {
	s := &TaskStore{
		tasks: make(map[string]entry),
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup returns the live entry for id, evicting it if it has expired.
// Callers must hold s.mu.
func (s *TaskStore) lookup(id string) (entry, bool) {
	e, ok := s.tasks[id]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.tasks, id)
		return entry{}, false
	}
	return e, true
}

// write stores a copy of task with a bumped version. Callers must hold s.mu.
func (s *TaskStore) write(task *domain.Task) *domain.Task {
	stored := task.Clone()
	stored.Version++
	e := entry{task: stored}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.tasks[stored.ID] = e
	return stored
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(task.ID); ok {
		return store.ErrTaskExists
	}
	task.Version = s.write(task).Version
	return nil
}

// Put implements store.TaskStore.
func (s *TaskStore) Put(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task.Version = s.write(task).Version
	return nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(id)
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return e.task.Clone(), nil
}

// Update implements store.TaskStore. The lock is held across fn, so updates
// never conflict.
func (s *TaskStore) Update(ctx context.Context, id string, fn store.UpdateFunc) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(id)
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	working := e.task.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	return s.write(working).Clone(), nil
}

// Ping implements store.TaskStore.
func (s *TaskStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of live records.
func (s *TaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.tasks {
		if _, ok := s.lookup(id); ok {
			n++
		}
	}
	return n
}
