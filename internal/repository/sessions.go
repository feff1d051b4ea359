package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"whalescope/internal/faults"
	"whalescope/internal/models"
)

const sessionColumns = `id, whale_id, run_id, active, position_pct, fee_bps, slippage_bps,
	leverage, initial_deposit_usd, equity_usd, net_pnl_usd, processed_trades,
	last_seen_at, notifications, errors, created_at, updated_at`

func scanSession(row pgx.Row) (*models.CopierSession, error) {
	var s models.CopierSession
	err := row.Scan(&s.ID, &s.WhaleID, &s.RunID, &s.Active, &s.PositionPct, &s.FeeBps, &s.SlippageBps,
		&s.Leverage, &s.InitialUSD, &s.EquityUSD, &s.NetPnLUSD, &s.ProcessedTrades,
		&s.LastSeenAt, &s.Notifications, &s.Errors, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) CreateCopierSession(ctx context.Context, s *models.CopierSession) error {
	if s.Notifications == nil {
		s.Notifications = []string{}
	}
	if s.Errors == nil {
		s.Errors = []string{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO copier_sessions (id, whale_id, run_id, active, position_pct,
			fee_bps, slippage_bps, leverage, initial_deposit_usd, equity_usd, net_pnl_usd,
			processed_trades, last_seen_at, notifications, errors, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING created_at, updated_at`,
		s.ID, s.WhaleID, s.RunID, s.Active, s.PositionPct,
		s.FeeBps, s.SlippageBps, s.Leverage, s.InitialUSD, s.EquityUSD, s.NetPnLUSD,
		s.ProcessedTrades, s.LastSeenAt, s.Notifications, s.Errors,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create copier session: %w", err)
	}
	return nil
}

func (r *Repository) UpdateCopierSession(ctx context.Context, s *models.CopierSession) error {
	_, err := r.db.Exec(ctx, `
		UPDATE copier_sessions
		SET active = $2, equity_usd = $3, net_pnl_usd = $4, processed_trades = $5,
			last_seen_at = $6, notifications = $7, errors = $8, updated_at = now()
		WHERE id = $1`,
		s.ID, s.Active, s.EquityUSD, s.NetPnLUSD, s.ProcessedTrades,
		s.LastSeenAt, s.Notifications, s.Errors)
	return err
}

func (r *Repository) GetCopierSession(ctx context.Context, id string) (*models.CopierSession, error) {
	return scanSession(r.db.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM copier_sessions WHERE id = $1", id))
}

// ListActiveSessions returns active sessions, optionally for one whale.
func (r *Repository) ListActiveSessions(ctx context.Context, whaleID string) ([]models.CopierSession, error) {
	query := "SELECT " + sessionColumns + " FROM copier_sessions WHERE active"
	args := []interface{}{}
	if whaleID != "" {
		query += " AND whale_id = $1"
		args = append(args, whaleID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CopierSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
