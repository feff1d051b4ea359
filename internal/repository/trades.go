package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"whalescope/internal/models"
)

// BatchItem pairs a normalized trade with the event it should emit when
// (and only when) the trade is newly inserted. Replayed duplicates upsert
// the trade row and emit nothing.
type BatchItem struct {
	Trade models.Trade
	Event *models.Event
}

// TradeBatch is the unit of work a collector commits per tick: trade
// upserts, standalone events, and the checkpoint advance, all in one
// transaction.
type TradeBatch struct {
	WhaleID    string
	Source     string
	Items      []BatchItem
	Events     []models.Event // events with no backing trade (position snapshots)
	Checkpoint models.IngestionCheckpoint
}

// SaveTradeBatch commits a batch atomically and returns the events that
// were actually persisted (for post-commit broadcast) plus the number of
// newly inserted trades.
func (r *Repository) SaveTradeBatch(ctx context.Context, batch TradeBatch) ([]models.Event, int, error) {
	if len(batch.Items) == 0 && len(batch.Events) == 0 {
		// Still advance the checkpoint so empty ticks record progress.
		if batch.Checkpoint.WhaleID == "" {
			return nil, 0, nil
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	inserted := 0
	var emitted []models.Event

	for _, item := range batch.Items {
		t := item.Trade
		var isNew bool
		if t.TxHash != nil && *t.TxHash != "" {
			// xmax = 0 distinguishes a fresh insert from a conflict update.
			err = tx.QueryRow(ctx, `
				INSERT INTO trades (whale_id, timestamp, chain_id, source, platform, direction,
					base_asset, quote_asset, amount_base, amount_quote, value_usd, pnl_usd,
					pnl_percent, open_price, close_price, tx_hash, external_url, catalog_version, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now())
				ON CONFLICT (whale_id, tx_hash) WHERE tx_hash IS NOT NULL DO UPDATE SET
					value_usd = COALESCE(EXCLUDED.value_usd, trades.value_usd),
					pnl_usd = COALESCE(EXCLUDED.pnl_usd, trades.pnl_usd),
					pnl_percent = COALESCE(EXCLUDED.pnl_percent, trades.pnl_percent),
					close_price = COALESCE(EXCLUDED.close_price, trades.close_price)
				RETURNING (xmax = 0)`,
				t.WhaleID, t.Timestamp, t.ChainID, t.Source, t.Platform, t.Direction,
				t.BaseAsset, t.QuoteAsset, t.AmountBase, t.AmountQuote, t.ValueUSD, t.PnLUSD,
				t.PnLPercent, t.OpenPrice, t.ClosePrice, t.TxHash, t.ExternalURL, t.CatalogVersion,
			).Scan(&isNew)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO trades (whale_id, timestamp, chain_id, source, platform, direction,
					base_asset, quote_asset, amount_base, amount_quote, value_usd, pnl_usd,
					pnl_percent, open_price, close_price, tx_hash, external_url, catalog_version, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now())`,
				t.WhaleID, t.Timestamp, t.ChainID, t.Source, t.Platform, t.Direction,
				t.BaseAsset, t.QuoteAsset, t.AmountBase, t.AmountQuote, t.ValueUSD, t.PnLUSD,
				t.PnLPercent, t.OpenPrice, t.ClosePrice, t.TxHash, t.ExternalURL, t.CatalogVersion,
			)
			isNew = true
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to upsert trade: %w", err)
		}
		if !isNew {
			continue
		}
		inserted++
		if item.Event != nil {
			ev := *item.Event
			if err := insertEventTx(ctx, tx, &ev); err != nil {
				return nil, 0, err
			}
			emitted = append(emitted, ev)
		}
	}

	for _, ev := range batch.Events {
		e := ev
		if err := insertEventTx(ctx, tx, &e); err != nil {
			return nil, 0, err
		}
		emitted = append(emitted, e)
	}

	if batch.Checkpoint.WhaleID != "" {
		cp := batch.Checkpoint
		// GREATEST keeps advances strictly monotonic even under replay.
		_, err = tx.Exec(ctx, `
			INSERT INTO ingestion_checkpoints (whale_id, source, last_block_height, last_tx_id, last_fill_time, last_position_time, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (whale_id, source) DO UPDATE SET
				last_block_height = GREATEST(ingestion_checkpoints.last_block_height, EXCLUDED.last_block_height),
				last_tx_id = CASE WHEN EXCLUDED.last_tx_id <> '' THEN EXCLUDED.last_tx_id ELSE ingestion_checkpoints.last_tx_id END,
				last_fill_time = GREATEST(ingestion_checkpoints.last_fill_time, EXCLUDED.last_fill_time),
				last_position_time = COALESCE(EXCLUDED.last_position_time, ingestion_checkpoints.last_position_time),
				updated_at = now()`,
			cp.WhaleID, cp.Source, cp.LastBlockHeight, cp.LastTxID, cp.LastFillTime, cp.LastPositionTime,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to advance checkpoint: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return emitted, inserted, nil
}

// TradeFilter narrows QueryTrades.
type TradeFilter struct {
	Source    string
	Direction string
	From      time.Time
	To        time.Time
}

// QueryTrades returns one cursor page of a whale's trades ordered
// (timestamp DESC, id DESC), plus the next cursor and the filtered total.
func (r *Repository) QueryTrades(ctx context.Context, whaleID string, f TradeFilter, cursor string, limit int) ([]models.Trade, string, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	conds := []string{"whale_id = $1"}
	args := []interface{}{whaleID}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Source != "" {
		conds = append(conds, "source = "+arg(f.Source))
	}
	if f.Direction != "" {
		conds = append(conds, "direction = "+arg(f.Direction))
	}
	if !f.From.IsZero() {
		conds = append(conds, "timestamp >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "timestamp <= "+arg(f.To))
	}

	where := strings.Join(conds, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM trades WHERE "+where, args...).Scan(&total); err != nil {
		return nil, "", 0, err
	}

	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", 0, err
		}
		conds = append(conds, fmt.Sprintf("(timestamp, id) < (%s, %s)", arg(ts), arg(id)))
		where = strings.Join(conds, " AND ")
	}

	query := `
		SELECT id, whale_id, timestamp, COALESCE(chain_id, 0), source, COALESCE(platform, ''), direction,
			COALESCE(base_asset, ''), quote_asset, amount_base, amount_quote, value_usd, pnl_usd,
			pnl_percent, open_price, close_price, tx_hash, COALESCE(external_url, ''), COALESCE(catalog_version, ''), created_at
		FROM trades
		WHERE ` + where + `
		ORDER BY timestamp DESC, id DESC
		LIMIT ` + arg(limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", 0, err
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		err := rows.Scan(&t.ID, &t.WhaleID, &t.Timestamp, &t.ChainID, &t.Source, &t.Platform, &t.Direction,
			&t.BaseAsset, &t.QuoteAsset, &t.AmountBase, &t.AmountQuote, &t.ValueUSD, &t.PnLUSD,
			&t.PnLPercent, &t.OpenPrice, &t.ClosePrice, &t.TxHash, &t.ExternalURL, &t.CatalogVersion, &t.CreatedAt)
		if err != nil {
			return nil, "", 0, err
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", 0, err
	}

	nextCursor := ""
	if len(trades) > limit {
		trades = trades[:limit]
		last := trades[len(trades)-1]
		nextCursor = encodeCursor(last.Timestamp, last.ID)
	}
	return trades, nextCursor, total, nil
}

// ListTradesAsc returns all of a whale's trades oldest first, optionally
// bounded by a window and asset filter. Used by the metrics engine and
// the copier backtest.
func (r *Repository) ListTradesAsc(ctx context.Context, whaleID string, from, to time.Time, assets []string) ([]models.Trade, error) {
	conds := []string{"whale_id = $1"}
	args := []interface{}{whaleID}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !from.IsZero() {
		conds = append(conds, "timestamp >= "+arg(from))
	}
	if !to.IsZero() {
		conds = append(conds, "timestamp <= "+arg(to))
	}
	if len(assets) > 0 {
		conds = append(conds, "base_asset = ANY("+arg(assets)+")")
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, whale_id, timestamp, COALESCE(chain_id, 0), source, COALESCE(platform, ''), direction,
			COALESCE(base_asset, ''), quote_asset, amount_base, amount_quote, value_usd, pnl_usd,
			pnl_percent, open_price, close_price, tx_hash, COALESCE(external_url, ''), COALESCE(catalog_version, ''), created_at
		FROM trades
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY timestamp ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		err := rows.Scan(&t.ID, &t.WhaleID, &t.Timestamp, &t.ChainID, &t.Source, &t.Platform, &t.Direction,
			&t.BaseAsset, &t.QuoteAsset, &t.AmountBase, &t.AmountQuote, &t.ValueUSD, &t.PnLUSD,
			&t.PnLPercent, &t.OpenPrice, &t.ClosePrice, &t.TxHash, &t.ExternalURL, &t.CatalogVersion, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListTradesSince returns trades strictly newer than the given timestamp,
// oldest first. Used by live copier sessions.
func (r *Repository) ListTradesSince(ctx context.Context, whaleID string, since time.Time, limit int) ([]models.Trade, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, whale_id, timestamp, COALESCE(chain_id, 0), source, COALESCE(platform, ''), direction,
			COALESCE(base_asset, ''), quote_asset, amount_base, amount_quote, value_usd, pnl_usd,
			pnl_percent, open_price, close_price, tx_hash, COALESCE(external_url, ''), COALESCE(catalog_version, ''), created_at
		FROM trades
		WHERE whale_id = $1 AND timestamp > $2
		ORDER BY timestamp ASC, id ASC
		LIMIT $3`, whaleID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		err := rows.Scan(&t.ID, &t.WhaleID, &t.Timestamp, &t.ChainID, &t.Source, &t.Platform, &t.Direction,
			&t.BaseAsset, &t.QuoteAsset, &t.AmountBase, &t.AmountQuote, &t.ValueUSD, &t.PnLUSD,
			&t.PnLPercent, &t.OpenPrice, &t.ClosePrice, &t.TxHash, &t.ExternalURL, &t.CatalogVersion, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DistinctAssets lists the base assets a whale has traded.
func (r *Repository) DistinctAssets(ctx context.Context, whaleID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT base_asset FROM trades
		WHERE whale_id = $1 AND base_asset IS NOT NULL AND base_asset <> ''
		ORDER BY base_asset ASC`, whaleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// TradeStats30d returns USD volume and trade count over the trailing 30
// days for the classifier and current metrics.
func (r *Repository) TradeStats30d(ctx context.Context, whaleID string) (float64, int, error) {
	var volume float64
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(value_usd), 0), COUNT(*)
		FROM trades
		WHERE whale_id = $1 AND timestamp >= now() - interval '30 days'`, whaleID).
		Scan(&volume, &count)
	return volume, count, err
}

// LatestTradeTime returns the timestamp of a whale's newest trade, or
// the zero time when none exist.
func (r *Repository) LatestTradeTime(ctx context.Context, whaleID string) (time.Time, error) {
	var ts *time.Time
	err := r.db.QueryRow(ctx,
		"SELECT MAX(timestamp) FROM trades WHERE whale_id = $1", whaleID).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return ts.UTC(), nil
}
