package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"whalescope/internal/models"
)

// GetCheckpoint returns the ingestion cursor for a (whale, source) pair.
// A missing row yields a zero-valued checkpoint, which collectors treat
// as "start from scratch".
func (r *Repository) GetCheckpoint(ctx context.Context, whaleID, source string) (models.IngestionCheckpoint, error) {
	cp := models.IngestionCheckpoint{WhaleID: whaleID, Source: source}
	err := r.db.QueryRow(ctx, `
		SELECT last_block_height, last_tx_id, last_fill_time, last_position_time, updated_at
		FROM ingestion_checkpoints
		WHERE whale_id = $1 AND source = $2`, whaleID, source).
		Scan(&cp.LastBlockHeight, &cp.LastTxID, &cp.LastFillTime, &cp.LastPositionTime, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return cp, err
	}
	return cp, nil
}
