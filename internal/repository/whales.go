package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"whalescope/internal/faults"
	"whalescope/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const whaleColumns = `w.id, w.address, w.chain_id, c.slug, w.type, w.labels,
	COALESCE(w.external_explorer_url, ''), w.first_seen_at, w.last_active_at, w.created_at, w.updated_at`

func scanWhale(row pgx.Row) (*models.Whale, error) {
	var w models.Whale
	var labelsJSON []byte
	err := row.Scan(&w.ID, &w.Address, &w.ChainID, &w.ChainSlug, &w.Type, &labelsJSON,
		&w.ExplorerURL, &w.FirstSeenAt, &w.LastActiveAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(labelsJSON, &w.Labels); err != nil {
		w.Labels = nil
	}
	return &w, nil
}

func (r *Repository) CreateWhale(ctx context.Context, chainSlug, address string, labels []string, whaleType string) (*models.Whale, error) {
	chainID, err := r.GetChainBySlug(ctx, chainSlug)
	if err != nil {
		return nil, fmt.Errorf("unknown chain %s: %w", chainSlug, faults.ErrNotFound)
	}
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, _ := json.Marshal(labels)
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err = r.db.Exec(ctx, `
		INSERT INTO whales (id, address, chain_id, type, labels, external_explorer_url, first_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (address, chain_id) DO NOTHING`,
		id, address, chainID, whaleType, labelsJSON, explorerURL(chainSlug, address), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert whale: %w", err)
	}
	// Re-read so a conflicting concurrent insert still returns the row.
	return r.GetWhaleByAddress(ctx, chainSlug, address)
}

func explorerURL(chainSlug, address string) string {
	switch chainSlug {
	case models.ChainEVM:
		return "https://etherscan.io/address/" + address
	case models.ChainUTXO:
		return "https://mempool.space/address/" + address
	case models.ChainPerp:
		return "https://app.hyperliquid.xyz/explorer/address/" + address
	}
	return ""
}

func (r *Repository) GetWhale(ctx context.Context, id string) (*models.Whale, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+whaleColumns+`
		FROM whales w JOIN chains c ON c.id = w.chain_id
		WHERE w.id = $1`, id)
	w, err := scanWhale(row)
	if err == pgx.ErrNoRows {
		return nil, faults.ErrNotFound
	}
	return w, err
}

func (r *Repository) GetWhaleByAddress(ctx context.Context, chainSlug, address string) (*models.Whale, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+whaleColumns+`
		FROM whales w JOIN chains c ON c.id = w.chain_id
		WHERE c.slug = $1 AND LOWER(w.address) = LOWER($2)`, chainSlug, address)
	w, err := scanWhale(row)
	if err == pgx.ErrNoRows {
		return nil, faults.ErrNotFound
	}
	return w, err
}

func (r *Repository) ListWhalesByChain(ctx context.Context, chainSlug string) ([]models.Whale, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+whaleColumns+`
		FROM whales w JOIN chains c ON c.id = w.chain_id
		WHERE c.slug = $1
		ORDER BY w.created_at ASC`, chainSlug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var whales []models.Whale
	for rows.Next() {
		w, err := scanWhale(rows)
		if err != nil {
			return nil, err
		}
		whales = append(whales, *w)
	}
	return whales, rows.Err()
}

func (r *Repository) ListAllWhales(ctx context.Context) ([]models.Whale, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+whaleColumns+`
		FROM whales w JOIN chains c ON c.id = w.chain_id
		ORDER BY w.created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var whales []models.Whale
	for rows.Next() {
		w, err := scanWhale(rows)
		if err != nil {
			return nil, err
		}
		whales = append(whales, *w)
	}
	return whales, rows.Err()
}

// WhaleFilter narrows ListWhales. Zero values mean "no filter".
type WhaleFilter struct {
	Chain          string
	Type           string
	MinROI         *float64
	ActivityWindow time.Duration
	Search         string
	SortBy         string // roi | volume | last_active | created
	SortDir        string // asc | desc
	Limit          int
	Offset         int
}

// WhaleSummary is a whale joined with its current metrics.
type WhaleSummary struct {
	models.Whale
	Metrics *models.CurrentWalletMetrics `json:"metrics,omitempty"`
}

func (r *Repository) ListWhales(ctx context.Context, f WhaleFilter) ([]WhaleSummary, int, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Chain != "" {
		conds = append(conds, "c.slug = "+arg(f.Chain))
	}
	if f.Type != "" {
		conds = append(conds, "w.type = "+arg(f.Type))
	}
	if f.MinROI != nil {
		conds = append(conds, "COALESCE(m.roi_percent, 0) >= "+arg(*f.MinROI))
	}
	if f.ActivityWindow > 0 {
		conds = append(conds, "w.last_active_at >= "+arg(time.Now().UTC().Add(-f.ActivityWindow)))
	}
	if f.Search != "" {
		conds = append(conds, "(w.address ILIKE "+arg("%"+f.Search+"%")+" OR w.labels::text ILIKE "+arg("%"+f.Search+"%")+")")
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	orderCol := map[string]string{
		"roi":         "COALESCE(m.roi_percent, 0)",
		"volume":      "COALESCE(m.volume_30d_usd, 0)",
		"last_active": "w.last_active_at",
		"created":     "w.created_at",
	}[f.SortBy]
	if orderCol == "" {
		orderCol = "COALESCE(m.roi_percent, 0)"
	}
	dir := "DESC"
	if strings.EqualFold(f.SortDir, "asc") {
		dir = "ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	base := `
		FROM whales w
		JOIN chains c ON c.id = w.chain_id
		LEFT JOIN current_wallet_metrics m ON m.whale_id = w.id
		` + where

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + whaleColumns + `,
		m.portfolio_value_usd, m.roi_percent, m.realized_pnl_usd, m.unrealized_pnl_usd,
		m.volume_30d_usd, m.trades_30d, m.win_rate_percent, m.updated_at ` +
		base +
		fmt.Sprintf(" ORDER BY %s %s NULLS LAST LIMIT %s OFFSET %s",
			orderCol, dir, arg(limit), arg(f.Offset))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []WhaleSummary
	for rows.Next() {
		var s WhaleSummary
		var labelsJSON []byte
		var m models.CurrentWalletMetrics
		var pv, rlz, unrlz, vol *float64
		var roi, winRate *float64
		var trades *int
		var updatedAt *time.Time
		err := rows.Scan(&s.ID, &s.Address, &s.ChainID, &s.ChainSlug, &s.Type, &labelsJSON,
			&s.ExplorerURL, &s.FirstSeenAt, &s.LastActiveAt, &s.CreatedAt, &s.UpdatedAt,
			&pv, &roi, &rlz, &unrlz, &vol, &trades, &winRate, &updatedAt)
		if err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(labelsJSON, &s.Labels); err != nil {
			s.Labels = nil
		}
		if updatedAt != nil {
			m.WhaleID = s.ID
			m.UpdatedAt = *updatedAt
			if pv != nil {
				m.PortfolioValueUSD = *pv
			}
			if roi != nil {
				m.ROIPercent = *roi
			}
			if rlz != nil {
				m.RealizedPnLUSD = *rlz
			}
			if unrlz != nil {
				m.UnrealizedPnLUSD = *unrlz
			}
			if vol != nil {
				m.Volume30dUSD = *vol
			}
			if trades != nil {
				m.Trades30d = *trades
			}
			m.WinRatePercent = winRate
			s.Metrics = &m
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// UpdateWhale patches labels and/or type.
func (r *Repository) UpdateWhale(ctx context.Context, id string, labels []string, whaleType *string) (*models.Whale, error) {
	if labels != nil {
		labelsJSON, _ := json.Marshal(labels)
		if _, err := r.db.Exec(ctx,
			"UPDATE whales SET labels = $1, updated_at = now() WHERE id = $2", labelsJSON, id); err != nil {
			return nil, err
		}
	}
	if whaleType != nil {
		if _, err := r.db.Exec(ctx,
			"UPDATE whales SET type = $1, updated_at = now() WHERE id = $2", *whaleType, id); err != nil {
			return nil, err
		}
	}
	return r.GetWhale(ctx, id)
}

func (r *Repository) SetWhaleType(ctx context.Context, id, whaleType string) error {
	_, err := r.db.Exec(ctx,
		"UPDATE whales SET type = $1, updated_at = now() WHERE id = $2", whaleType, id)
	return err
}

// AddWhaleLabel appends a label if absent.
func (r *Repository) AddWhaleLabel(ctx context.Context, id, label string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE whales SET labels = labels || to_jsonb($1::text), updated_at = now()
		WHERE id = $2 AND NOT labels @> to_jsonb($1::text)`, label, id)
	return err
}

func (r *Repository) TouchLastActive(ctx context.Context, id string, ts time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE whales SET
			last_active_at = GREATEST(COALESCE(last_active_at, $2), $2),
			first_seen_at = LEAST(COALESCE(first_seen_at, $2), $2),
			updated_at = now()
		WHERE id = $1`, id, ts)
	return err
}

// DeleteWhale removes the whale; owned rows cascade at the schema level.
func (r *Repository) DeleteWhale(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM whales WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return faults.ErrNotFound
	}
	return nil
}

// WipeWhaleHistory deletes trades, events, holdings, metrics, and
// checkpoints for a whale while keeping the whale row. Used by perp reset.
func (r *Repository) WipeWhaleHistory(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		"DELETE FROM trades WHERE whale_id = $1",
		"DELETE FROM events WHERE whale_id = $1",
		"DELETE FROM holdings WHERE whale_id = $1",
		"DELETE FROM wallet_metrics_daily WHERE whale_id = $1",
		"DELETE FROM current_wallet_metrics WHERE whale_id = $1",
		"DELETE FROM ingestion_checkpoints WHERE whale_id = $1",
	} {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to wipe whale history: %w", err)
		}
	}
	return tx.Commit(ctx)
}
