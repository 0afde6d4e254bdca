package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/store"
)

// maxUpdateAttempts bounds the WATCH retry loop of Update.
const maxUpdateAttempts = 16

// TaskStore implements store.TaskStore on Redis strings with expiry.
type TaskStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore. Empty prefix and zero ttl fall back to
// store.DefaultKeyPrefix and store.DefaultTTL.
func NewTaskStore(
	client goredis.UniversalClient,
	prefix string,
	ttl time.Duration,
	logger *slog.Logger,
) *TaskStore {
	if prefix == "" {
		prefix = store.DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "redis_task_store")),
	}
}

func (s *TaskStore) key(id string) string {
	return s.prefix + id
}

// wrap maps a Redis error onto the store error vocabulary.
func (s *TaskStore) wrap(op string, err error) error {
	if isConnError(err) {
		return store.NewStoreError("task", op, "redis unreachable",
			fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return store.NewStoreError("task", op, "redis command failed", err)
}

func encode(task *domain.Task) ([]byte, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	return data, nil
}

func decode(data []byte) (*domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task record: %w", err)
	}
	return &task, nil
}

// Create implements store.TaskStore using SET NX.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	stored := task.Clone()
	stored.Version++
	data, err := encode(stored)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(task.ID), data, s.ttl).Result()
	if err != nil {
		return s.wrap("create", err)
	}
	if !ok {
		return store.ErrTaskExists
	}

	task.Version = stored.Version
	s.logger.DebugContext(ctx, "task record created",
		slog.String("task_id", task.ID),
		slog.String("status", string(task.Status)))
	return nil
}

// Put implements store.TaskStore.
func (s *TaskStore) Put(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	stored := task.Clone()
	stored.Version++
	data, err := encode(stored)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key(task.ID), data, s.ttl).Err(); err != nil {
		return s.wrap("put", err)
	}
	task.Version = stored.Version
	return nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return decode(data)
}

// Update implements store.TaskStore with WATCH/MULTI/EXEC. A concurrent write
// to the key aborts the transaction and the callback runs again on the new
// value.
func (s *TaskStore) Update(ctx context.Context, id string, fn store.UpdateFunc) (*domain.Task, error) {
	key := s.key(id)
	var updated *domain.Task

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return store.ErrTaskNotFound
		}
		if err != nil {
			return err
		}

		task, err := decode(data)
		if err != nil {
			return err
		}
		if err := fn(task); err != nil {
			return err
		}
		task.Version++

		encoded, err := encode(task)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = task
		return nil
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, goredis.TxFailedErr):
			s.logger.DebugContext(ctx, "task update lost race, retrying",
				slog.String("task_id", id),
				slog.Int("attempt", attempt))
			continue
		case isConnError(err):
			return nil, s.wrap("update", err)
		default:
			// Callback and not-found errors pass through untouched
			return nil, err
		}
	}

	return nil, store.NewStoreError("task", "update",
		fmt.Sprintf("gave up after %d attempts", maxUpdateAttempts), store.ErrConflict)
}

// Ping implements store.TaskStore.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.wrap("ping", err)
	}
	return nil
}
