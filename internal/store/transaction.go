package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/vista-api/internal/platform/logger"
)

// TxFn runs inside a transaction. Returning an error rolls the transaction back.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction runs fn in a transaction on db and commits if it returns
// nil. A panic in fn rolls back and is re-raised.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	log := logger.FromContextOrDefault(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback after panic failed", slog.String("error", rbErr.Error()))
		}
		panic(p)
	}()

	if err := fn(ctx, tx); err != nil {
		return rollback(ctx, log, tx, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// rollback aborts tx after cause and returns cause, joined with the rollback
// failure if there was one. Lost compare-and-swaps are routine and only
// logged at debug level.
func rollback(ctx context.Context, log *slog.Logger, tx *sql.Tx, cause error) error {
	rbErr := tx.Rollback()
	if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		log.Error("transaction rollback failed",
			slog.String("rollback_error", rbErr.Error()),
			slog.String("cause", cause.Error()))
		return errors.Join(cause, fmt.Errorf("rollback failed: %w", rbErr))
	}

	level := slog.LevelWarn
	if errors.Is(cause, ErrStatusConflict) || errors.Is(cause, ErrNotFound) {
		level = slog.LevelDebug
	}
	log.Log(ctx, level, "transaction rolled back", slog.String("cause", cause.Error()))
	return cause
}
