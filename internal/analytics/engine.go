package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"whalescope/internal/faults"
	"whalescope/internal/market"
	"whalescope/internal/models"
	"whalescope/internal/telemetry"
)

// MetricsStore is the persistence the engine reads and writes through.
type MetricsStore interface {
	ListTradesAsc(ctx context.Context, whaleID string, from, to time.Time, assets []string) ([]models.Trade, error)
	ReplaceDailyRange(ctx context.Context, whaleID string, from time.Time, rows []models.WalletMetricsDaily) error
	GetDailySeries(ctx context.Context, whaleID string, days int) ([]models.WalletMetricsDaily, error)
	LatestDailyDate(ctx context.Context, whaleID string) (time.Time, error)
	UpsertCurrent(ctx context.Context, m models.CurrentWalletMetrics) error
	TradeStats30d(ctx context.Context, whaleID string) (float64, int, error)
	ReplaceHoldings(ctx context.Context, whaleID string, holdings []models.Holding) error
	FinishBackfill(ctx context.Context, whaleID, status, message string) error
}

// PriceSource yields historical series for day-boundary snapshots.
type PriceSource interface {
	Series(ctx context.Context, asset string, from, to time.Time) ([]models.PricePoint, error)
}

type rebuildState struct {
	running bool
	pending bool
}

// Engine derives wallet metrics from the trade log. Rebuilds for the
// same whale are serialized; a request arriving mid-rebuild coalesces
// into one follow-up run.
type Engine struct {
	store  MetricsStore
	prices PriceSource

	mu     sync.Mutex
	states map[string]*rebuildState
}

func NewEngine(store MetricsStore, prices PriceSource) *Engine {
	return &Engine{store: store, prices: prices, states: make(map[string]*rebuildState)}
}

// RebuildFull recomputes the whole daily series for a whale.
func (e *Engine) RebuildFull(ctx context.Context, whaleID string) error {
	return e.serialized(ctx, whaleID, "full", func() error {
		return e.rebuild(ctx, whaleID, time.Time{})
	})
}

// UpdateIncremental refreshes rows from the latest snapshot date
// onward. A whale with no history falls back to a full rebuild.
func (e *Engine) UpdateIncremental(ctx context.Context, whaleID string) error {
	return e.serialized(ctx, whaleID, "incremental", func() error {
		latest, err := e.store.LatestDailyDate(ctx, whaleID)
		if errors.Is(err, faults.ErrNotFound) {
			return e.rebuild(ctx, whaleID, time.Time{})
		}
		if err != nil {
			return err
		}
		return e.rebuild(ctx, whaleID, latest)
	})
}

// EnsureHistory rebuilds on demand when a whale has no daily series
// yet, so history endpoints never serve a blank chart for a whale with
// trades.
func (e *Engine) EnsureHistory(ctx context.Context, whaleID string) error {
	_, err := e.store.LatestDailyDate(ctx, whaleID)
	if errors.Is(err, faults.ErrNotFound) {
		return e.serialized(ctx, whaleID, "on_demand", func() error {
			return e.rebuild(ctx, whaleID, time.Time{})
		})
	}
	return err
}

func (e *Engine) serialized(ctx context.Context, whaleID, trigger string, run func() error) error {
	e.mu.Lock()
	st, ok := e.states[whaleID]
	if !ok {
		st = &rebuildState{}
		e.states[whaleID] = st
	}
	if st.running {
		st.pending = true
		e.mu.Unlock()
		return nil
	}
	st.running = true
	e.mu.Unlock()

	telemetry.RebuildsTotal.WithLabelValues(trigger).Inc()
	err := run()

	e.mu.Lock()
	again := st.pending
	st.pending = false
	st.running = false
	e.mu.Unlock()

	if again && ctx.Err() == nil {
		return e.serialized(ctx, whaleID, trigger, run)
	}
	return err
}

// rebuild replays the full trade log and writes snapshots for dates on
// or after writeFrom (zero time writes everything). Replaying from
// scratch keeps the incremental path on the same accounting as the
// full one.
func (e *Engine) rebuild(ctx context.Context, whaleID string, writeFrom time.Time) error {
	trades, err := e.store.ListTradesAsc(ctx, whaleID, time.Time{}, time.Time{}, nil)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	firstDay := trades[0].Timestamp.UTC().Truncate(24 * time.Hour)
	today := time.Now().UTC().Truncate(24 * time.Hour)

	series, err := e.loadPriceSeries(ctx, trades, firstDay, today)
	if err != nil {
		log.Warn().Err(err).Str("whale", whaleID).Msg("price series incomplete, snapshots will skip unpriced assets")
	}

	rows, holdings, err := e.computeDaily(whaleID, trades, series, firstDay, today)
	if err != nil {
		if errors.Is(err, faults.ErrInvariant) {
			if ferr := e.store.FinishBackfill(ctx, whaleID, models.BackfillError, err.Error()); ferr != nil {
				log.Warn().Err(ferr).Str("whale", whaleID).Msg("failed to record rebuild error")
			}
		}
		return err
	}

	from := firstDay
	if !writeFrom.IsZero() {
		from = writeFrom
		kept := rows[:0]
		for _, row := range rows {
			if !row.Date.Before(writeFrom) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	if err := e.store.ReplaceDailyRange(ctx, whaleID, from, rows); err != nil {
		return err
	}
	if holdings != nil {
		if err := e.store.ReplaceHoldings(ctx, whaleID, holdings); err != nil {
			return err
		}
	}
	return e.refreshCurrent(ctx, whaleID, rows)
}

func (e *Engine) loadPriceSeries(ctx context.Context, trades []models.Trade, from, to time.Time) (map[string][]models.PricePoint, error) {
	assets := map[string]bool{}
	for _, t := range trades {
		if t.BaseAsset != "" {
			assets[t.BaseAsset] = true
		}
	}

	out := make(map[string][]models.PricePoint, len(assets))
	var firstErr error
	for asset := range assets {
		pts, err := e.prices.Series(ctx, asset, from, to.Add(24*time.Hour))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[asset] = pts
	}
	return out, firstErr
}

// computeDaily replays trades chronologically, snapshotting at each day
// boundary from the first trade through today inclusive. For spot wallets
// it also materializes the open lots as holdings; perp holdings come from
// the exchange snapshot instead and are left untouched (nil).
func (e *Engine) computeDaily(whaleID string, trades []models.Trade, series map[string][]models.PricePoint, firstDay, today time.Time) ([]models.WalletMetricsDaily, []models.Holding, error) {
	ledger := NewLedger()
	idx := 0
	var rows []models.WalletMetricsDaily
	prices := map[string]float64{}

	for day := firstDay; !day.After(today); day = day.AddDate(0, 0, 1) {
		dayEnd := day.Add(24*time.Hour - time.Nanosecond)

		var volume1d float64
		trades1d := 0
		for idx < len(trades) && !trades[idx].Timestamp.After(dayEnd) {
			t := trades[idx]
			if err := ledger.Apply(t); err != nil {
				return nil, nil, err
			}
			trades1d++
			if t.ValueUSD != nil {
				volume1d += *t.ValueUSD
			}
			idx++
		}

		prices = map[string]float64{}
		for _, asset := range ledger.OpenAssets() {
			if p, ok := market.InterpolateAt(series[asset], dayEnd); ok {
				prices[asset] = p
			}
		}

		value := ledger.ValueAt(prices)
		rows = append(rows, models.WalletMetricsDaily{
			WhaleID:           whaleID,
			Date:              day,
			PortfolioValueUSD: value,
			ROIPercent:        ledger.ROIAt(value),
			RealizedPnLUSD:    ledger.RealizedPnLUSD,
			UnrealizedPnLUSD:  ledger.UnrealizedAt(prices),
			Volume1dUSD:       volume1d,
			Trades1d:          trades1d,
			WinRatePercent:    ledger.WinRate(),
		})
	}

	for _, t := range trades {
		if t.Source == models.SourcePerp {
			return rows, nil, nil
		}
	}
	chainID := trades[len(trades)-1].ChainID
	holdings := ledger.Holdings(whaleID, chainID, prices)
	if holdings == nil {
		holdings = []models.Holding{}
	}
	return rows, holdings, nil
}

func (e *Engine) refreshCurrent(ctx context.Context, whaleID string, rows []models.WalletMetricsDaily) error {
	if len(rows) == 0 {
		return nil
	}
	last := rows[len(rows)-1]

	volume30d, trades30d, err := e.store.TradeStats30d(ctx, whaleID)
	if err != nil {
		return err
	}
	return e.store.UpsertCurrent(ctx, models.CurrentWalletMetrics{
		WhaleID:           whaleID,
		PortfolioValueUSD: last.PortfolioValueUSD,
		ROIPercent:        last.ROIPercent,
		RealizedPnLUSD:    last.RealizedPnLUSD,
		UnrealizedPnLUSD:  last.UnrealizedPnLUSD,
		Volume30dUSD:      volume30d,
		Trades30d:         trades30d,
		WinRatePercent:    last.WinRatePercent,
	})
}
