package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"whalescope/internal/models"
)

func insertEventTx(ctx context.Context, tx pgx.Tx, ev *models.Event) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO events (whale_id, timestamp, chain_id, type, summary, value_usd, tx_hash, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		ev.WhaleID, ev.Timestamp, ev.ChainID, ev.Type, ev.Summary, ev.ValueUSD, ev.TxHash, ev.Details,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// EventFilter narrows RecentEvents.
type EventFilter struct {
	Chain       string
	Type        string
	MinValueUSD float64
	Since       time.Time
}

// RecentEvents returns the newest significant events joined to their
// whale, shaped as websocket frames so the REST feed and the live feed
// carry the same payload.
func (r *Repository) RecentEvents(ctx context.Context, f EventFilter, limit int) ([]models.LiveEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	conds := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Chain != "" {
		conds = append(conds, "c.slug = "+arg(f.Chain))
	}
	if f.Type != "" {
		conds = append(conds, "e.type = "+arg(f.Type))
	}
	if f.MinValueUSD > 0 {
		conds = append(conds, "e.value_usd >= "+arg(f.MinValueUSD))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "e.timestamp >= "+arg(f.Since))
	}

	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.timestamp, COALESCE(c.slug, ''), e.type, COALESCE(e.summary, ''),
			COALESCE(e.value_usd, 0), COALESCE(e.tx_hash, ''), e.details,
			w.address, w.labels
		FROM events e
		JOIN whales w ON w.id = e.whale_id
		LEFT JOIN chains c ON c.id = e.chain_id
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY e.timestamp DESC, e.id DESC
		LIMIT `+arg(limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LiveEvent
	for rows.Next() {
		var (
			id     int64
			ev     models.LiveEvent
			labels []string
		)
		err := rows.Scan(&id, &ev.Timestamp, &ev.Chain, &ev.Type, &ev.Summary,
			&ev.ValueUSD, &ev.TxHash, &ev.Details, &ev.Wallet.Address, &labels)
		if err != nil {
			return nil, err
		}
		ev.ID = fmt.Sprintf("%d", id)
		ev.Wallet.Chain = ev.Chain
		if len(labels) > 0 {
			ev.Wallet.Label = labels[0]
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
