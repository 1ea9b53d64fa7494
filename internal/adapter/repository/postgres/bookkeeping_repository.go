package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// BookkeepingRepository implements domain.FlushBookkeepingRepository:
// per-batch flush attempt counts that survive a process restart, so a batch
// cannot dodge its retry ceiling by riding through a crash.
type BookkeepingRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewBookkeepingRepository creates a new flush bookkeeping repository.
func NewBookkeepingRepository(db *sql.DB, logger *slog.Logger) *BookkeepingRepository {
	return &BookkeepingRepository{db: db, logger: logger.With("component", "bookkeeping_repository")}
}

// RecordAttempt atomically increments and returns the attempt count for a
// batch id.
func (r *BookkeepingRepository) RecordAttempt(ctx context.Context, batchID string, lastErr string) (int, error) {
	query := `
		INSERT INTO flush_attempts (batch_id, attempts, last_error, updated_at)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (batch_id) DO UPDATE SET
			attempts   = flush_attempts.attempts + 1,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
		RETURNING attempts;
	`

	var attempts int
	if err := r.db.QueryRowContext(ctx, query, batchID, lastErr).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to record flush attempt: %w", err)
	}
	return attempts, nil
}

// ClearBatch removes bookkeeping for a completed or abandoned batch.
func (r *BookkeepingRepository) ClearBatch(ctx context.Context, batchID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM flush_attempts WHERE batch_id = $1;`, batchID); err != nil {
		return fmt.Errorf("failed to clear flush bookkeeping: %w", err)
	}
	return nil
}
