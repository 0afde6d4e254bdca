package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/platform/logger"
	"github.com/phrazzld/vista-api/internal/store"
)

// TaskStore implements store.TaskStore using PostgreSQL.
type TaskStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore. A zero ttl falls back to store.DefaultTTL.
func NewTaskStore(db *sql.DB, ttl time.Duration) *TaskStore {
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	return &TaskStore{
		db:  db,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *TaskStore) fail(ctx context.Context, op, id string, err error) error {
	mapped := MapError(err)
	logger.FromContextOrDefault(ctx).Error("task store operation failed",
		slog.String("operation", op),
		slog.String("task_id", id),
		slog.String("error", err.Error()))
	return store.NewStoreError("task", op, "database error", mapped)
}

// Create implements store.TaskStore. A row whose retention window elapsed
// is replaced as if it never existed.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	stored := task.Clone()
	stored.Version++
	record, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}

	now := s.now()
	query := `
		INSERT INTO tasks (id, task_type, status, record, version, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET task_type = EXCLUDED.task_type, status = EXCLUDED.status, record = EXCLUDED.record,
		    version = EXCLUDED.version, expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at
		WHERE tasks.expires_at <= $7
	`
	result, err := s.db.ExecContext(ctx, query,
		stored.ID, string(stored.Type), string(stored.Status), record, stored.Version, now.Add(s.ttl), now)
	if err != nil {
		return s.fail(ctx, "create", task.ID, err)
	}
	if err := CheckRowsAffected(result, "task"); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrTaskExists
		}
		return err
	}

	task.Version = stored.Version
	return nil
}

// Put implements store.TaskStore.
func (s *TaskStore) Put(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	stored := task.Clone()
	stored.Version++
	record, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}

	now := s.now()
	query := `
		INSERT INTO tasks (id, task_type, status, record, version, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, record = EXCLUDED.record, version = EXCLUDED.version,
		    expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		stored.ID, string(stored.Type), string(stored.Status), record, stored.Version, now.Add(s.ttl), now); err != nil {
		return s.fail(ctx, "put", task.ID, err)
	}

	task.Version = stored.Version
	return nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	task, _, err := s.selectTask(ctx, s.db, id, s.now(), false)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// selectTask reads a live record through q, which is either the pool or a
// transaction. forUpdate locks the row until the transaction ends.
func (s *TaskStore) selectTask(
	ctx context.Context,
	q store.DBTX,
	id string,
	now time.Time,
	forUpdate bool,
) (*domain.Task, int64, error) {
	query := `SELECT record, version FROM tasks WHERE id = $1 AND expires_at > $2`
	op := "get"
	if forUpdate {
		query += ` FOR UPDATE`
		op = "update"
	}

	var (
		record  []byte
		version int64
	)
	err := q.QueryRowContext(ctx, query, id, now).Scan(&record, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, 0, s.fail(ctx, op, id, err)
	}

	var task domain.Task
	if err := json.Unmarshal(record, &task); err != nil {
		return nil, 0, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &task, version, nil
}

// Update implements store.TaskStore. The row is locked with SELECT ... FOR
// UPDATE for the duration of fn, and the write is additionally guarded by
// the version read under that lock.
func (s *TaskStore) Update(ctx context.Context, id string, fn store.UpdateFunc) (*domain.Task, error) {
	var updated *domain.Task

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		now := s.now()

		task, version, err := s.selectTask(ctx, tx, id, now, true)
		if err != nil {
			return err
		}
		if err := fn(task); err != nil {
			return err
		}
		task.Version = version + 1

		encoded, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", id, err)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = $1, record = $2, version = $3, expires_at = $4, updated_at = $5
			WHERE id = $6 AND version = $7
		`, string(task.Status), encoded, task.Version, now.Add(s.ttl), now, id, version)
		if err != nil {
			return s.fail(ctx, "update", id, err)
		}
		if err := CheckRowsAffected(result, "task"); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.NewStoreError("task", "update", "version changed", store.ErrConflict)
			}
			return err
		}

		updated = task
		return nil
	})
	if err != nil {
		if IsConnectionError(err) && !errors.Is(err, store.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return nil, err
	}
	return updated, nil
}

// Ping implements store.TaskStore.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// PurgeExpired deletes rows whose retention window has elapsed. Expired rows
// are already invisible to readers; this only reclaims space.
func (s *TaskStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, s.fail(ctx, "purge", "", err)
	}
	return result.RowsAffected()
}
