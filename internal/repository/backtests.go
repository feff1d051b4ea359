package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"whalescope/internal/models"
)

// SaveBacktestRun persists the summary of a completed simulation.
func (r *Repository) SaveBacktestRun(ctx context.Context, run *models.BacktestRun) error {
	assets, err := json.Marshal(run.AssetSymbols)
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO backtest_runs (whale_id, initial_deposit_usd, position_size_pct, fee_bps,
			slippage_bps, leverage, asset_symbols, trades_copied, win_rate_percent,
			max_drawdown_percent, max_drawdown_usd, net_pnl_usd, roi_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`,
		run.WhaleID, run.InitialDepositUSD, run.PositionSizePct, run.FeeBps,
		run.SlippageBps, run.Leverage, assets, run.TradesCopied, run.WinRatePercent,
		run.MaxDrawdownPct, run.MaxDrawdownUSD, run.NetPnLUSD, run.ROIPercent,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save backtest run: %w", err)
	}
	return nil
}

// ListBacktestRuns returns the most recent runs for a whale.
func (r *Repository) ListBacktestRuns(ctx context.Context, whaleID string, limit int) ([]models.BacktestRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, whale_id, created_at, COALESCE(initial_deposit_usd, 0), COALESCE(position_size_pct, 0),
			COALESCE(fee_bps, 0), COALESCE(slippage_bps, 0), COALESCE(leverage, 1), asset_symbols,
			COALESCE(trades_copied, 0), win_rate_percent, COALESCE(max_drawdown_percent, 0),
			COALESCE(max_drawdown_usd, 0), COALESCE(net_pnl_usd, 0), COALESCE(roi_percent, 0)
		FROM backtest_runs
		WHERE whale_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, whaleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BacktestRun
	for rows.Next() {
		var run models.BacktestRun
		var assets []byte
		err := rows.Scan(&run.ID, &run.WhaleID, &run.CreatedAt, &run.InitialDepositUSD, &run.PositionSizePct,
			&run.FeeBps, &run.SlippageBps, &run.Leverage, &assets,
			&run.TradesCopied, &run.WinRatePercent, &run.MaxDrawdownPct,
			&run.MaxDrawdownUSD, &run.NetPnLUSD, &run.ROIPercent)
		if err != nil {
			return nil, err
		}
		if len(assets) > 0 {
			_ = json.Unmarshal(assets, &run.AssetSymbols)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
