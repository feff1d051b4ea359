package analytics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whalescope/internal/faults"
	"whalescope/internal/models"
)

func trade(direction, asset string, amount, value float64) models.Trade {
	t := models.Trade{
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		BaseAsset: asset,
		Direction: direction,
	}
	if amount != 0 {
		t.AmountBase = &amount
	}
	if value != 0 {
		t.ValueUSD = &value
	}
	return t
}

func TestLedgerSpotRoundTrip(t *testing.T) {
	t.Parallel()

	// Deposit 10k, buy 1 BTC at 50k (cash goes negative, equity does
	// not), sell at 60k. ROI against net deposits is +100%.
	l := NewLedger()
	require.NoError(t, l.Apply(trade(models.DirDeposit, "", 0, 10_000)))
	require.NoError(t, l.Apply(trade(models.DirBuy, "BTC", 1, 50_000)))
	require.InDelta(t, -40_000, l.Cash, 1e-9)

	require.NoError(t, l.Apply(trade(models.DirSell, "BTC", 1, 60_000)))
	require.InDelta(t, 20_000, l.Cash, 1e-9)
	require.InDelta(t, 10_000, l.RealizedPnLUSD, 1e-9)
	require.InDelta(t, 100, l.ROIAt(l.ValueAt(nil)), 1e-9)

	rate := l.WinRate()
	require.NotNil(t, rate)
	require.InDelta(t, 100, *rate, 1e-9)
}

func TestLedgerZeroDepositROI(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	require.NoError(t, l.Apply(trade(models.DirBuy, "ETH", 10, 0)))
	require.Equal(t, 0.0, l.ROIAt(123_456))
}

func TestLedgerNegativeEquityInvariant(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	require.NoError(t, l.Apply(trade(models.DirDeposit, "", 0, 1_000)))

	err := l.Apply(trade(models.DirWithdraw, "", 0, 5_000))
	require.Error(t, err)
	require.True(t, errors.Is(err, faults.ErrInvariant))
}

func TestLedgerPerpLifecycle(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	require.NoError(t, l.Apply(trade(models.DirDeposit, "", 0, 10_000)))

	// Opening a perp does not move cash; margin stays counted in cash.
	require.NoError(t, l.Apply(trade(models.DirLong, "ETH", 5, 15_000)))
	require.InDelta(t, 10_000, l.Cash, 1e-9)

	// Unrealized marks against entry price 3000.
	unreal := l.UnrealizedAt(map[string]float64{"ETH": 3_200})
	require.InDelta(t, 1_000, unreal, 1e-9)

	// Exchange-reported PnL wins over price math.
	close := trade(models.DirCloseLong, "ETH", 5, 16_000)
	pnl := 950.0
	close.PnLUSD = &pnl
	require.NoError(t, l.Apply(close))
	require.InDelta(t, 10_950, l.Cash, 1e-9)
	require.InDelta(t, 950, l.RealizedPnLUSD, 1e-9)
	require.Equal(t, 1, l.ClosedCount)
	require.Equal(t, 1, l.WinCount)
}

func TestLedgerShortCloseFromPrices(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	require.NoError(t, l.Apply(trade(models.DirDeposit, "", 0, 10_000)))
	require.NoError(t, l.Apply(trade(models.DirShort, "BTC", 1, 50_000)))

	close := trade(models.DirCloseShort, "BTC", 1, 45_000)
	exit := 45_000.0
	close.ClosePrice = &exit
	require.NoError(t, l.Apply(close))

	// Short from 50k closed at 45k: +5k.
	require.InDelta(t, 5_000, l.RealizedPnLUSD, 1e-9)
	require.InDelta(t, 15_000, l.Cash, 1e-9)
}

func TestLedgerUnpricedTradesCountOnly(t *testing.T) {
	t.Parallel()

	// A sell with no USD value still closes the position count but
	// never invents realized PnL.
	l := NewLedger()
	require.NoError(t, l.Apply(trade(models.DirBuy, "PEPE", 1_000_000, 0)))
	require.NoError(t, l.Apply(trade(models.DirSell, "PEPE", 1_000_000, 0)))

	require.Equal(t, 1, l.ClosedCount)
	require.Equal(t, 0, l.WinCount)
	require.Equal(t, 0.0, l.RealizedPnLUSD)
	require.Equal(t, 0.0, l.Cash)
}

func TestLedgerFIFOPartialClose(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	require.NoError(t, l.Apply(trade(models.DirDeposit, "", 0, 100_000)))
	require.NoError(t, l.Apply(trade(models.DirBuy, "ETH", 10, 20_000))) // 2000/unit
	require.NoError(t, l.Apply(trade(models.DirBuy, "ETH", 10, 30_000))) // 3000/unit

	// Selling 15 consumes the whole first lot and half the second.
	require.NoError(t, l.Apply(trade(models.DirSell, "ETH", 15, 45_000)))
	// Cost consumed: 10*2000 + 5*3000 = 35000. Realized = 45000-35000.
	require.InDelta(t, 10_000, l.RealizedPnLUSD, 1e-9)

	// 5 ETH at 3000 cost remains open.
	value := l.ValueAt(map[string]float64{"ETH": 3_000})
	require.InDelta(t, 100_000+10_000, value, 1e-9)
}

func TestLedgerHoldings(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	require.NoError(t, l.Apply(trade(models.DirDeposit, "", 0, 50_000)))
	require.NoError(t, l.Apply(trade(models.DirBuy, "BTC", 0.5, 25_000)))

	holdings := l.Holdings("whale-1", 1, map[string]float64{"BTC": 60_000})
	require.Len(t, holdings, 1)

	h := holdings[0]
	require.Equal(t, "BTC", h.AssetSymbol)
	require.InDelta(t, 0.5, *h.Amount, 1e-9)
	require.InDelta(t, 25_000, *h.CostBasisUSD, 1e-9)
	require.InDelta(t, 50_000, *h.AvgUnitCostUSD, 1e-9)
	require.InDelta(t, 30_000, *h.ValueUSD, 1e-9)
}
