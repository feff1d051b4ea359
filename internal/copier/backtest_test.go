package copier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whalescope/internal/models"
)

type tradeSourceStub struct {
	trades []models.Trade
}

func (s *tradeSourceStub) ListTradesAsc(ctx context.Context, whaleID string, from, to time.Time, assets []string) ([]models.Trade, error) {
	return s.trades, nil
}

type priceSourceStub struct {
	points []models.PricePoint
}

func (s *priceSourceStub) Series(ctx context.Context, asset string, from, to time.Time) ([]models.PricePoint, error) {
	return s.points, nil
}

func perpTrade(ts time.Time, direction string, price float64) models.Trade {
	p := price
	t := models.Trade{
		Timestamp: ts,
		Source:    models.SourcePerp,
		Direction: direction,
		BaseAsset: "BTC",
	}
	switch direction {
	case models.DirLong, models.DirShort:
		t.OpenPrice = &p
	default:
		t.ClosePrice = &p
	}
	return t
}

func TestBacktestRoundTripFeesOnce(t *testing.T) {
	t.Parallel()

	// $1000 deposit, full sizing, 10 bps fee + 10 bps slippage, one
	// long that gains 10%. Gross $100, costs $1 + $1, net $98.
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	bt := NewBacktester(&tradeSourceStub{trades: []models.Trade{
		perpTrade(base, models.DirLong, 50_000),
		perpTrade(base.Add(2*time.Hour), models.DirCloseLong, 55_000),
	}}, &priceSourceStub{})

	res, err := bt.Run(context.Background(), BacktestRequest{
		WhaleID:           "w1",
		InitialDepositUSD: 1_000,
		FeeBps:            10,
		SlippageBps:       10,
	})
	require.NoError(t, err)

	require.Equal(t, 2, res.Summary.TradesCopied)
	require.InDelta(t, 98, res.Summary.NetPnLUSD, 1e-9)
	require.InDelta(t, 9.8, res.Summary.ROIPercent, 1e-9)
	require.NotNil(t, res.Summary.WinRatePercent)
	require.InDelta(t, 100, *res.Summary.WinRatePercent, 1e-9)

	exit := res.Trades[1]
	require.InDelta(t, 100, exit.GrossPnLUSD, 1e-9)
	require.InDelta(t, 1, exit.FeeUSD, 1e-9)
	require.InDelta(t, 1, exit.SlippageUSD, 1e-9)
	require.InDelta(t, 1_098, exit.EquityAfter, 1e-9)
}

func TestBacktestShortProfitsOnDrop(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	bt := NewBacktester(&tradeSourceStub{trades: []models.Trade{
		perpTrade(base, models.DirShort, 50_000),
		perpTrade(base.Add(time.Hour), models.DirCloseShort, 45_000),
	}}, &priceSourceStub{})

	res, err := bt.Run(context.Background(), BacktestRequest{
		WhaleID:           "w1",
		InitialDepositUSD: 10_000,
	})
	require.NoError(t, err)

	// Short 10k notional from 50k to 45k: +10%.
	require.InDelta(t, 1_000, res.Summary.NetPnLUSD, 1e-9)
}

func TestBacktestLeverageScalesNotional(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	bt := NewBacktester(&tradeSourceStub{trades: []models.Trade{
		perpTrade(base, models.DirLong, 2_000),
		perpTrade(base.Add(time.Hour), models.DirCloseLong, 2_100),
	}}, &priceSourceStub{})

	res, err := bt.Run(context.Background(), BacktestRequest{
		WhaleID:           "w1",
		InitialDepositUSD: 1_000,
		PositionPct:       50,
		Leverage:          4,
	})
	require.NoError(t, err)

	// 50% of equity at 4x: $2000 notional, price +5% -> +$100.
	require.InDelta(t, 2_000, res.Trades[0].NotionalUSD, 1e-9)
	require.InDelta(t, 100, res.Summary.NetPnLUSD, 1e-9)
}

func TestBacktestUnpricedTradesSkipped(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	unpriced := models.Trade{Timestamp: base, Direction: models.DirBuy, BaseAsset: "MYSTERY"}

	bt := NewBacktester(&tradeSourceStub{trades: []models.Trade{unpriced}}, &priceSourceStub{})
	res, err := bt.Run(context.Background(), BacktestRequest{WhaleID: "w1", InitialDepositUSD: 1_000})
	require.NoError(t, err)

	require.Equal(t, 0, res.Summary.TradesCopied)
	require.InDelta(t, 0, res.Summary.NetPnLUSD, 1e-9)
}

func TestBacktestRejectsNonPositiveDeposit(t *testing.T) {
	t.Parallel()

	bt := NewBacktester(&tradeSourceStub{}, &priceSourceStub{})
	_, err := bt.Run(context.Background(), BacktestRequest{WhaleID: "w1"})
	require.Error(t, err)
}

func TestKellyFraction(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		wins, losses int
		sumW, sumL   float64
		want         float64
	}{
		{"no closes", 0, 0, 0, 0, 0},
		{"no wins", 0, 5, 0, 500, 0},
		{"no losses clips high", 5, 0, 500, 0, 50},
		{"coin flip even payoff", 5, 5, 500, 500, 0},
		// w=0.6, r=avgWin/avgLoss=2 -> (0.6 - 0.4/2) * 100
		{"favorable", 6, 4, 1200, 400, 40},
	}
	for _, tc := range cases {
		got := kellyFraction(tc.wins, tc.losses, tc.sumW, tc.sumL)
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	curve := []EquityPoint{
		{Timestamp: ts, EquityUSD: 1_000},
		{Timestamp: ts.Add(time.Minute), EquityUSD: 1_500},
		{Timestamp: ts.Add(2 * time.Minute), EquityUSD: 900},
		{Timestamp: ts.Add(3 * time.Minute), EquityUSD: 1_200},
	}

	pct, usd := maxDrawdown(curve, 1_000)
	if usd != 600 {
		t.Fatalf("usd=%v want 600", usd)
	}
	if pct != 40 {
		t.Fatalf("pct=%v want 40", pct)
	}
}
