package repository

import (
	"context"
	"fmt"

	"whalescope/internal/models"
)

// ReplaceHoldings swaps a whale's holdings snapshot in one transaction so
// readers never observe a half-applied refresh.
func (r *Repository) ReplaceHoldings(ctx context.Context, whaleID string, holdings []models.Holding) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM holdings WHERE whale_id = $1", whaleID); err != nil {
		return fmt.Errorf("failed to clear holdings: %w", err)
	}

	for _, h := range holdings {
		_, err := tx.Exec(ctx, `
			INSERT INTO holdings (whale_id, asset_symbol, asset_name, chain_id, amount,
				value_usd, portfolio_percent, cost_basis_usd, avg_unit_cost_usd, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
			whaleID, h.AssetSymbol, h.AssetName, h.ChainID, h.Amount,
			h.ValueUSD, h.PortfolioPercent, h.CostBasisUSD, h.AvgUnitCostUSD)
		if err != nil {
			return fmt.Errorf("failed to insert holding %s: %w", h.AssetSymbol, err)
		}
	}

	return tx.Commit(ctx)
}

// ListHoldings returns a whale's holdings largest first.
func (r *Repository) ListHoldings(ctx context.Context, whaleID string) ([]models.Holding, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, whale_id, asset_symbol, COALESCE(asset_name, ''), COALESCE(chain_id, 0),
			amount, value_usd, portfolio_percent, cost_basis_usd, avg_unit_cost_usd, updated_at
		FROM holdings
		WHERE whale_id = $1
		ORDER BY value_usd DESC NULLS LAST, asset_symbol ASC`, whaleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Holding
	for rows.Next() {
		var h models.Holding
		err := rows.Scan(&h.ID, &h.WhaleID, &h.AssetSymbol, &h.AssetName, &h.ChainID,
			&h.Amount, &h.ValueUSD, &h.PortfolioPercent, &h.CostBasisUSD, &h.AvgUnitCostUSD, &h.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
