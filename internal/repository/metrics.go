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

// ReplaceDailyRange rewrites a whale's daily metrics from `from` onward
// in one transaction. A full rebuild passes the whale's first trade date.
func (r *Repository) ReplaceDailyRange(ctx context.Context, whaleID string, from time.Time, rows []models.WalletMetricsDaily) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "DELETE FROM wallet_metrics_daily WHERE whale_id = $1 AND date >= $2", whaleID, from)
	if err != nil {
		return fmt.Errorf("failed to clear daily metrics: %w", err)
	}

	for _, m := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO wallet_metrics_daily (whale_id, date, portfolio_value_usd, roi_percent,
				realized_pnl_usd, unrealized_pnl_usd, volume_1d_usd, trades_1d, win_rate_percent)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (whale_id, date) DO UPDATE SET
				portfolio_value_usd = EXCLUDED.portfolio_value_usd,
				roi_percent = EXCLUDED.roi_percent,
				realized_pnl_usd = EXCLUDED.realized_pnl_usd,
				unrealized_pnl_usd = EXCLUDED.unrealized_pnl_usd,
				volume_1d_usd = EXCLUDED.volume_1d_usd,
				trades_1d = EXCLUDED.trades_1d,
				win_rate_percent = EXCLUDED.win_rate_percent`,
			whaleID, m.Date, m.PortfolioValueUSD, m.ROIPercent,
			m.RealizedPnLUSD, m.UnrealizedPnLUSD, m.Volume1dUSD, m.Trades1d, m.WinRatePercent)
		if err != nil {
			return fmt.Errorf("failed to insert daily metrics for %s: %w", m.Date.Format("2006-01-02"), err)
		}
	}

	return tx.Commit(ctx)
}

// GetDailySeries returns the last `days` daily rows oldest first. Zero
// days means the full history.
func (r *Repository) GetDailySeries(ctx context.Context, whaleID string, days int) ([]models.WalletMetricsDaily, error) {
	query := `
		SELECT whale_id, date, COALESCE(portfolio_value_usd, 0), COALESCE(roi_percent, 0),
			COALESCE(realized_pnl_usd, 0), COALESCE(unrealized_pnl_usd, 0),
			COALESCE(volume_1d_usd, 0), COALESCE(trades_1d, 0), win_rate_percent
		FROM wallet_metrics_daily
		WHERE whale_id = $1`
	args := []interface{}{whaleID}
	if days > 0 {
		query += " AND date >= $2"
		args = append(args, time.Now().UTC().AddDate(0, 0, -days))
	}
	query += " ORDER BY date ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WalletMetricsDaily
	for rows.Next() {
		var m models.WalletMetricsDaily
		err := rows.Scan(&m.WhaleID, &m.Date, &m.PortfolioValueUSD, &m.ROIPercent,
			&m.RealizedPnLUSD, &m.UnrealizedPnLUSD, &m.Volume1dUSD, &m.Trades1d, &m.WinRatePercent)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestDailyDate returns the newest snapshot date, or faults.ErrNotFound
// when the whale has no history yet.
func (r *Repository) LatestDailyDate(ctx context.Context, whaleID string) (time.Time, error) {
	var d time.Time
	err := r.db.QueryRow(ctx,
		"SELECT MAX(date) FROM wallet_metrics_daily WHERE whale_id = $1 HAVING MAX(date) IS NOT NULL",
		whaleID).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, faults.ErrNotFound
	}
	return d, err
}

// UpsertCurrent writes the headline metrics row used by list sorting.
func (r *Repository) UpsertCurrent(ctx context.Context, m models.CurrentWalletMetrics) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO current_wallet_metrics (whale_id, portfolio_value_usd, roi_percent,
			realized_pnl_usd, unrealized_pnl_usd, volume_30d_usd, trades_30d, win_rate_percent, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (whale_id) DO UPDATE SET
			portfolio_value_usd = EXCLUDED.portfolio_value_usd,
			roi_percent = EXCLUDED.roi_percent,
			realized_pnl_usd = EXCLUDED.realized_pnl_usd,
			unrealized_pnl_usd = EXCLUDED.unrealized_pnl_usd,
			volume_30d_usd = EXCLUDED.volume_30d_usd,
			trades_30d = EXCLUDED.trades_30d,
			win_rate_percent = EXCLUDED.win_rate_percent,
			updated_at = now()`,
		m.WhaleID, m.PortfolioValueUSD, m.ROIPercent,
		m.RealizedPnLUSD, m.UnrealizedPnLUSD, m.Volume30dUSD, m.Trades30d, m.WinRatePercent)
	if err != nil {
		return fmt.Errorf("failed to upsert current metrics: %w", err)
	}
	return nil
}

// GetCurrent returns the headline metrics row, or faults.ErrNotFound.
func (r *Repository) GetCurrent(ctx context.Context, whaleID string) (*models.CurrentWalletMetrics, error) {
	var m models.CurrentWalletMetrics
	err := r.db.QueryRow(ctx, `
		SELECT whale_id, COALESCE(portfolio_value_usd, 0), COALESCE(roi_percent, 0),
			COALESCE(realized_pnl_usd, 0), COALESCE(unrealized_pnl_usd, 0),
			COALESCE(volume_30d_usd, 0), COALESCE(trades_30d, 0), win_rate_percent, updated_at
		FROM current_wallet_metrics
		WHERE whale_id = $1`, whaleID).
		Scan(&m.WhaleID, &m.PortfolioValueUSD, &m.ROIPercent,
			&m.RealizedPnLUSD, &m.UnrealizedPnLUSD, &m.Volume30dUSD, &m.Trades30d, &m.WinRatePercent, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
