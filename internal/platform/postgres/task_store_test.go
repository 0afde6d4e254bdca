package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/store"
)

func newMockStore(t *testing.T) (*TaskStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewTaskStore(db, time.Hour)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s, mock
}

func sampleTask(t *testing.T, status domain.TaskStatus) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.TaskTypeVirtual, "/uploads/p_original.png", domain.NowUTC())
	require.NoError(t, err)
	task.Status = status
	task.Version = 3
	return task
}

func recordOf(t *testing.T, task *domain.Task) []byte {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return data
}

func TestTaskStore_Get(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	task := sampleTask(t, domain.TaskStatusQueued)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record, version FROM tasks WHERE id = $1 AND expires_at > $2`)).
		WithArgs(task.ID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"record", "version"}).AddRow(recordOf(t, task), task.Version))

	got, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_GetNotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record, version FROM tasks`)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_CreateExisting(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	task := sampleTask(t, domain.TaskStatusUploaded)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tasks`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Create(context.Background(), task)
	assert.ErrorIs(t, err, store.ErrTaskExists)
	assert.Equal(t, int64(3), task.Version)
}

func TestTaskStore_Create(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	task := sampleTask(t, domain.TaskStatusUploaded)
	task.Version = 0

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tasks`)).
		WithArgs(task.ID, "virtual", "uploaded", sqlmock.AnyArg(), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), task))
	assert.Equal(t, int64(1), task.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_UpdateTransition(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	task := sampleTask(t, domain.TaskStatusQueued)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record, version FROM tasks WHERE id = $1 AND expires_at > $2 FOR UPDATE`)).
		WithArgs(task.ID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"record", "version"}).AddRow(recordOf(t, task), task.Version))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tasks`)).
		WithArgs("processing", sqlmock.AnyArg(), int64(4), sqlmock.AnyArg(), sqlmock.AnyArg(), task.ID, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := store.Transition(context.Background(), s, task.ID,
		domain.TaskStatusQueued, domain.TaskStatusProcessing, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, updated.Status)
	assert.Equal(t, int64(4), updated.Version)
	assert.NotNil(t, updated.ProcessingStartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_UpdateStatusConflictRollsBack(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	task := sampleTask(t, domain.TaskStatusProcessing)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record, version FROM tasks`)).
		WillReturnRows(sqlmock.NewRows([]string{"record", "version"}).AddRow(recordOf(t, task), task.Version))
	mock.ExpectRollback()

	_, err := store.Transition(context.Background(), s, task.ID,
		domain.TaskStatusQueued, domain.TaskStatusProcessing, nil)
	assert.ErrorIs(t, err, store.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_UpdateNotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record, version FROM tasks`)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.Update(context.Background(), "gone", func(*domain.Task) error { return nil })
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_ConnectionLoss(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record, version FROM tasks`)).
		WillReturnError(refused)
	mock.ExpectBegin().WillReturnError(refused)

	_, err := s.Get(context.Background(), "any")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, err = s.Update(context.Background(), "any", func(*domain.Task) error { return nil })
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestTaskStore_PurgeExpired(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tasks WHERE expires_at <= $1`)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
