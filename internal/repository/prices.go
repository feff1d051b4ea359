package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"whalescope/internal/faults"
	"whalescope/internal/models"
)

// UpsertPricePoints persists a fetched series so later lookups for the
// same window never re-hit the upstream.
func (r *Repository) UpsertPricePoints(ctx context.Context, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range points {
		_, err := tx.Exec(ctx, `
			INSERT INTO price_history (asset_symbol, timestamp, price_usd)
			VALUES ($1, $2, $3)
			ON CONFLICT (asset_symbol, timestamp) DO UPDATE SET price_usd = EXCLUDED.price_usd`,
			p.Asset, p.Timestamp, p.PriceUSD)
		if err != nil {
			return fmt.Errorf("failed to upsert price point: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetPriceSeries returns stored points for an asset inside a window,
// oldest first.
func (r *Repository) GetPriceSeries(ctx context.Context, asset string, from, to time.Time) ([]models.PricePoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT asset_symbol, timestamp, price_usd
		FROM price_history
		WHERE asset_symbol = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC`, asset, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.Asset, &p.Timestamp, &p.PriceUSD); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPriceAt returns the stored point nearest to ts within the tolerance.
func (r *Repository) GetPriceAt(ctx context.Context, asset string, ts time.Time, tolerance time.Duration) (float64, error) {
	var price float64
	err := r.db.QueryRow(ctx, `
		SELECT price_usd
		FROM price_history
		WHERE asset_symbol = $1 AND timestamp BETWEEN $2 AND $3
		ORDER BY ABS(EXTRACT(EPOCH FROM (timestamp - $4))) ASC
		LIMIT 1`,
		asset, ts.Add(-tolerance), ts.Add(tolerance), ts).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, faults.ErrNotFound
	}
	return price, err
}
