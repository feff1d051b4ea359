package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"whalescope/internal/models"
)

// GetBackfillStatus returns the job row, defaulting to idle when none
// exists yet.
func (r *Repository) GetBackfillStatus(ctx context.Context, whaleID string) (models.BackfillStatus, error) {
	st := models.BackfillStatus{WhaleID: whaleID, Status: models.BackfillIdle}
	err := r.db.QueryRow(ctx, `
		SELECT status, progress, COALESCE(message, ''), updated_at
		FROM backfill_status
		WHERE whale_id = $1`, whaleID).
		Scan(&st.Status, &st.Progress, &st.Message, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	return st, nil
}

// TryMarkBackfillRunning atomically claims the job. Returns false if a
// run is already in flight, so concurrent triggers collapse into one.
func (r *Repository) TryMarkBackfillRunning(ctx context.Context, whaleID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO backfill_status (whale_id, status, progress, message, updated_at)
		VALUES ($1, $2, 0, '', now())
		ON CONFLICT (whale_id) DO UPDATE SET
			status = $2, progress = 0, message = '', updated_at = now()
			WHERE backfill_status.status <> $2`,
		whaleID, models.BackfillRunning)
	if err != nil {
		return false, fmt.Errorf("failed to claim backfill: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateBackfillProgress advances the progress percentage of a running job.
func (r *Repository) UpdateBackfillProgress(ctx context.Context, whaleID string, progress float64, message string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE backfill_status
		SET progress = $2, message = $3, updated_at = now()
		WHERE whale_id = $1 AND status = $4`,
		whaleID, progress, message, models.BackfillRunning)
	return err
}

// FinishBackfill records the terminal state of a run.
func (r *Repository) FinishBackfill(ctx context.Context, whaleID, status, message string) error {
	progress := 100.0
	if status == models.BackfillError {
		progress = 0
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO backfill_status (whale_id, status, progress, message, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (whale_id) DO UPDATE SET
			status = $2, progress = $3, message = $4, updated_at = now()`,
		whaleID, status, progress, message)
	return err
}
