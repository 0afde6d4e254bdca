package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/store"
)

// TestTaskStore_Integration runs against a real database when DATABASE_URL is set.
func TestTaskStore_Integration(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db, slog.New(slog.NewTextHandler(io.Discard, nil))))

	s := NewTaskStore(db, time.Hour)
	task, err := domain.NewTask(domain.TaskTypeDenoise, "/uploads/i_original.png", domain.NowUTC())
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, task))
	assert.ErrorIs(t, s.Create(ctx, task), store.ErrTaskExists)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	queued, err := store.Transition(ctx, s, task.ID, domain.TaskStatusUploaded, domain.TaskStatusQueued, nil)
	require.NoError(t, err)
	assert.Equal(t, task.Version+1, queued.Version)

	_, err = store.Transition(ctx, s, task.ID, domain.TaskStatusUploaded, domain.TaskStatusQueued, nil)
	assert.ErrorIs(t, err, store.ErrStatusConflict)
}
