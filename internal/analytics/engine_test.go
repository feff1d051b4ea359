package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whalescope/internal/faults"
	"whalescope/internal/models"
)

type metricsStoreStub struct {
	mu      sync.Mutex
	trades  []models.Trade
	rows    []models.WalletMetricsDaily
	current *models.CurrentWalletMetrics

	holdings         []models.Holding
	holdingsReplaced bool

	backfillStatus  string
	backfillMessage string
}

func (s *metricsStoreStub) ListTradesAsc(ctx context.Context, whaleID string, from, to time.Time, assets []string) ([]models.Trade, error) {
	return s.trades, nil
}

func (s *metricsStoreStub) ReplaceDailyRange(ctx context.Context, whaleID string, from time.Time, rows []models.WalletMetricsDaily) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, r := range s.rows {
		if r.Date.Before(from) {
			kept = append(kept, r)
		}
	}
	s.rows = append(kept, rows...)
	return nil
}

func (s *metricsStoreStub) GetDailySeries(ctx context.Context, whaleID string, days int) ([]models.WalletMetricsDaily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, nil
}

func (s *metricsStoreStub) LatestDailyDate(ctx context.Context, whaleID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rows) == 0 {
		return time.Time{}, faults.ErrNotFound
	}
	return s.rows[len(s.rows)-1].Date, nil
}

func (s *metricsStoreStub) UpsertCurrent(ctx context.Context, m models.CurrentWalletMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &m
	return nil
}

func (s *metricsStoreStub) TradeStats30d(ctx context.Context, whaleID string) (float64, int, error) {
	var volume float64
	for _, t := range s.trades {
		if t.ValueUSD != nil {
			volume += *t.ValueUSD
		}
	}
	return volume, len(s.trades), nil
}

func (s *metricsStoreStub) ReplaceHoldings(ctx context.Context, whaleID string, holdings []models.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdings = holdings
	s.holdingsReplaced = true
	return nil
}

func (s *metricsStoreStub) FinishBackfill(ctx context.Context, whaleID, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backfillStatus = status
	s.backfillMessage = message
	return nil
}

type flatPriceSource struct {
	price float64
}

func (p *flatPriceSource) Series(ctx context.Context, asset string, from, to time.Time) ([]models.PricePoint, error) {
	return []models.PricePoint{
		{Asset: asset, Timestamp: from, PriceUSD: p.price},
		{Asset: asset, Timestamp: to, PriceUSD: p.price},
	}, nil
}

func daysAgo(n int) time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -n)
}

func tradeAt(ts time.Time, direction, asset string, amount, value float64) models.Trade {
	t := models.Trade{Timestamp: ts, Direction: direction, BaseAsset: asset}
	if amount != 0 {
		t.AmountBase = &amount
	}
	if value != 0 {
		t.ValueUSD = &value
	}
	return t
}

func TestRebuildFullOneRowPerDay(t *testing.T) {
	t.Parallel()

	store := &metricsStoreStub{trades: []models.Trade{
		tradeAt(daysAgo(3).Add(time.Hour), models.DirDeposit, "", 0, 10_000),
		tradeAt(daysAgo(3).Add(2*time.Hour), models.DirBuy, "BTC", 0.1, 5_000),
		tradeAt(daysAgo(1).Add(time.Hour), models.DirSell, "BTC", 0.1, 6_000),
	}}
	e := NewEngine(store, &flatPriceSource{price: 50_000})

	require.NoError(t, e.RebuildFull(context.Background(), "w1"))

	// First trade 3 days ago through today inclusive.
	require.Len(t, store.rows, 4)
	for i := 1; i < len(store.rows); i++ {
		require.Equal(t, 24*time.Hour, store.rows[i].Date.Sub(store.rows[i-1].Date))
	}

	// Day of the buy: 5000 cash out, 0.1 BTC at 50k spot.
	d0 := store.rows[0]
	require.Equal(t, 2, d0.Trades1d)
	require.InDelta(t, 15_000, d0.Volume1dUSD, 1e-9)
	require.InDelta(t, 10_000, d0.PortfolioValueUSD, 1e-9)

	// After the sell: 11k cash, +1k realized.
	last := store.rows[len(store.rows)-1]
	require.InDelta(t, 11_000, last.PortfolioValueUSD, 1e-9)
	require.InDelta(t, 1_000, last.RealizedPnLUSD, 1e-9)
	require.InDelta(t, 10, last.ROIPercent, 1e-9)

	require.NotNil(t, store.current)
	require.InDelta(t, 11_000, store.current.PortfolioValueUSD, 1e-9)
	require.Equal(t, 3, store.current.Trades30d)

	// The round trip closed the BTC position, so the holdings snapshot
	// is refreshed to empty.
	require.True(t, store.holdingsReplaced)
	require.Empty(t, store.holdings)
}

func TestRebuildMaterializesSpotHoldings(t *testing.T) {
	t.Parallel()

	store := &metricsStoreStub{trades: []models.Trade{
		tradeAt(daysAgo(1), models.DirDeposit, "", 0, 10_000),
		tradeAt(daysAgo(1).Add(time.Hour), models.DirBuy, "BTC", 0.1, 5_000),
	}}
	e := NewEngine(store, &flatPriceSource{price: 60_000})

	require.NoError(t, e.RebuildFull(context.Background(), "w1"))
	require.Len(t, store.holdings, 1)

	h := store.holdings[0]
	require.Equal(t, "BTC", h.AssetSymbol)
	require.InDelta(t, 0.1, *h.Amount, 1e-9)
	require.InDelta(t, 5_000, *h.CostBasisUSD, 1e-9)
	require.InDelta(t, 50_000, *h.AvgUnitCostUSD, 1e-9)
	require.InDelta(t, 6_000, *h.ValueUSD, 1e-9)
}

func TestRebuildLeavesPerpHoldingsAlone(t *testing.T) {
	t.Parallel()

	long := tradeAt(daysAgo(1), models.DirLong, "ETH", 1, 3_000)
	long.Source = models.SourcePerp
	store := &metricsStoreStub{trades: []models.Trade{
		tradeAt(daysAgo(2), models.DirDeposit, "", 0, 10_000),
		long,
	}}
	e := NewEngine(store, &flatPriceSource{price: 3_000})

	require.NoError(t, e.RebuildFull(context.Background(), "w1"))
	require.False(t, store.holdingsReplaced)
}

func TestIncrementalMatchesFullAccounting(t *testing.T) {
	t.Parallel()

	store := &metricsStoreStub{trades: []models.Trade{
		tradeAt(daysAgo(5), models.DirDeposit, "", 0, 1_000),
		tradeAt(daysAgo(4), models.DirBuy, "ETH", 1, 500),
	}}
	e := NewEngine(store, &flatPriceSource{price: 500})

	require.NoError(t, e.RebuildFull(context.Background(), "w1"))
	full := make([]models.WalletMetricsDaily, len(store.rows))
	copy(full, store.rows)

	// New trade lands; incremental rewrites from the latest snapshot on.
	store.trades = append(store.trades, tradeAt(daysAgo(0).Add(time.Hour), models.DirSell, "ETH", 1, 700))
	require.NoError(t, e.UpdateIncremental(context.Background(), "w1"))

	require.Len(t, store.rows, len(full))
	for i := 0; i < len(full)-1; i++ {
		require.Equal(t, full[i].PortfolioValueUSD, store.rows[i].PortfolioValueUSD, "day %d diverged", i)
	}
	last := store.rows[len(store.rows)-1]
	require.InDelta(t, 1_200, last.PortfolioValueUSD, 1e-9)
	require.InDelta(t, 200, last.RealizedPnLUSD, 1e-9)
}

func TestIncrementalFallsBackToFull(t *testing.T) {
	t.Parallel()

	store := &metricsStoreStub{trades: []models.Trade{
		tradeAt(daysAgo(1), models.DirDeposit, "", 0, 1_000),
	}}
	e := NewEngine(store, &flatPriceSource{price: 1})

	require.NoError(t, e.UpdateIncremental(context.Background(), "w1"))
	require.Len(t, store.rows, 2)
}

func TestRebuildRecordsInvariantFailure(t *testing.T) {
	t.Parallel()

	// Withdrawing more than ever deposited breaks the books; the error
	// must land in the backfill status so operators see it.
	store := &metricsStoreStub{trades: []models.Trade{
		tradeAt(daysAgo(2), models.DirDeposit, "", 0, 100),
		tradeAt(daysAgo(1), models.DirWithdraw, "", 0, 5_000),
	}}
	e := NewEngine(store, &flatPriceSource{price: 1})

	err := e.RebuildFull(context.Background(), "w1")
	require.ErrorIs(t, err, faults.ErrInvariant)
	require.Equal(t, models.BackfillError, store.backfillStatus)
	require.Contains(t, store.backfillMessage, "negative equity")
}

func TestEnsureHistoryOnlyRebuildsWhenEmpty(t *testing.T) {
	t.Parallel()

	store := &metricsStoreStub{trades: []models.Trade{
		tradeAt(daysAgo(1), models.DirDeposit, "", 0, 1_000),
	}}
	e := NewEngine(store, &flatPriceSource{price: 1})

	require.NoError(t, e.EnsureHistory(context.Background(), "w1"))
	require.NotEmpty(t, store.rows)

	rows := len(store.rows)
	store.trades = nil
	require.NoError(t, e.EnsureHistory(context.Background(), "w1"))
	require.Len(t, store.rows, rows)
}
