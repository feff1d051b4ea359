package copier

import (
	"context"
	"fmt"
	"math"
	"time"

	"whalescope/internal/market"
	"whalescope/internal/models"
)

// TradeSource feeds historical trades into the simulator.
type TradeSource interface {
	ListTradesAsc(ctx context.Context, whaleID string, from, to time.Time, assets []string) ([]models.Trade, error)
}

// PriceSource marks open positions to market between trades.
type PriceSource interface {
	Series(ctx context.Context, asset string, from, to time.Time) ([]models.PricePoint, error)
}

// BacktestRequest is the simulator configuration.
type BacktestRequest struct {
	WhaleID           string
	InitialDepositUSD float64
	PositionPct       float64 // percent of equity per copied trade
	FeeBps            float64
	SlippageBps       float64
	Leverage          float64
	Assets            []string
	From              time.Time
	To                time.Time
}

// CopiedTrade is one simulated copy of a whale trade.
type CopiedTrade struct {
	Timestamp   time.Time `json:"timestamp"`
	Asset       string    `json:"asset"`
	Direction   string    `json:"direction"`
	NotionalUSD float64   `json:"notional_usd"`
	FeeUSD      float64   `json:"fee_usd"`
	SlippageUSD float64   `json:"slippage_usd"`
	GrossPnLUSD float64   `json:"gross_pnl_usd"`
	NetPnLUSD   float64   `json:"net_pnl_usd"`
	EquityAfter float64   `json:"equity_after_usd"`
	Note        string    `json:"note,omitempty"`
}

// EquityPoint is one sample of the minute-resolution equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	EquityUSD float64   `json:"equity_usd"`
}

// BacktestResult bundles the summary, trade log, and equity curve.
type BacktestResult struct {
	Summary     models.BacktestRun `json:"summary"`
	Trades      []CopiedTrade      `json:"trades"`
	EquityCurve []EquityPoint      `json:"equity_curve"`

	RecommendedPositionPct float64 `json:"recommended_position_pct"`
}

// simPosition is one open simulated position.
type simPosition struct {
	asset      string
	short      bool
	qty        float64
	entryPrice float64
	notional   float64
	fee        float64
	slippage   float64
}

const (
	equityCurveStep = time.Minute
	maxCurvePoints  = 20000
)

// Backtester replays a whale's history against a simulated deposit.
type Backtester struct {
	trades TradeSource
	prices PriceSource
}

func NewBacktester(trades TradeSource, prices PriceSource) *Backtester {
	return &Backtester{trades: trades, prices: prices}
}

// Run executes the simulation. Fees and slippage are charged once per
// round trip, computed on the entry notional.
func (b *Backtester) Run(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	if req.InitialDepositUSD <= 0 {
		return nil, fmt.Errorf("initial deposit must be positive")
	}
	if req.Leverage <= 0 {
		req.Leverage = 1
	}
	if req.PositionPct <= 0 {
		req.PositionPct = 100
	}

	whaleTrades, err := b.trades.ListTradesAsc(ctx, req.WhaleID, req.From, req.To, req.Assets)
	if err != nil {
		return nil, err
	}

	sim := &simulation{
		req:       req,
		equity:    req.InitialDepositUSD,
		positions: make(map[string]*simPosition),
		series:    make(map[string][]models.PricePoint),
	}

	if len(whaleTrades) > 0 {
		sim.loadSeries(ctx, b.prices, whaleTrades)
	}

	var lastTs time.Time
	for _, t := range whaleTrades {
		if !lastTs.IsZero() {
			sim.sampleCurve(lastTs, t.Timestamp)
		}
		sim.applyTrade(t)
		lastTs = t.Timestamp
	}
	if !lastTs.IsZero() {
		sim.appendPoint(lastTs)
	}

	return sim.result(), nil
}

type simulation struct {
	req       BacktestRequest
	equity    float64
	positions map[string]*simPosition
	series    map[string][]models.PricePoint

	trades []CopiedTrade
	curve  []EquityPoint

	wins, losses     int
	sumWins, sumLoss float64
	totalFees        float64
	totalSlippage    float64
}

func (s *simulation) loadSeries(ctx context.Context, prices PriceSource, whaleTrades []models.Trade) {
	assets := map[string]bool{}
	for _, t := range whaleTrades {
		assets[t.BaseAsset] = true
	}
	from := whaleTrades[0].Timestamp.Add(-time.Hour)
	to := whaleTrades[len(whaleTrades)-1].Timestamp.Add(time.Hour)
	for asset := range assets {
		if pts, err := prices.Series(ctx, asset, from, to); err == nil {
			s.series[asset] = pts
		}
	}
}

func (s *simulation) applyTrade(t models.Trade) {
	price := tradePrice(t)
	if price == 0 {
		if p, ok := market.InterpolateAt(s.series[t.BaseAsset], t.Timestamp); ok {
			price = p
		}
	}
	if price == 0 {
		return // unpriced trades cannot be copied
	}

	switch {
	case models.IsEntry(t.Direction) && t.Direction != models.DirDeposit:
		s.openPosition(t, price)
	case models.IsExit(t.Direction) && t.Direction != models.DirWithdraw:
		s.closePosition(t, price)
	}
}

func (s *simulation) openPosition(t models.Trade, price float64) {
	if _, open := s.positions[t.BaseAsset]; open {
		return // one simulated position per asset
	}

	desired := s.equity * s.req.PositionPct / 100 * s.req.Leverage
	maxAffordable := s.equity * s.req.Leverage
	note := ""
	if desired > maxAffordable {
		desired = maxAffordable
		note = "sized down: insufficient equity"
	}
	if desired <= 0 {
		return
	}

	fee := desired * s.req.FeeBps / 10000
	slippage := desired * s.req.SlippageBps / 10000

	s.positions[t.BaseAsset] = &simPosition{
		asset:      t.BaseAsset,
		short:      t.Direction == models.DirShort,
		qty:        desired / price,
		entryPrice: price,
		notional:   desired,
		fee:        fee,
		slippage:   slippage,
	}

	s.trades = append(s.trades, CopiedTrade{
		Timestamp:   t.Timestamp,
		Asset:       t.BaseAsset,
		Direction:   t.Direction,
		NotionalUSD: desired,
		FeeUSD:      fee,
		SlippageUSD: slippage,
		EquityAfter: s.equity,
		Note:        note,
	})
}

func (s *simulation) closePosition(t models.Trade, price float64) {
	pos, open := s.positions[t.BaseAsset]
	if !open {
		return // whale is closing a position we never copied
	}
	delete(s.positions, t.BaseAsset)

	gross := pos.qty * (price - pos.entryPrice)
	if pos.short {
		gross = -gross
	}
	net := gross - pos.fee - pos.slippage
	s.equity += net
	s.totalFees += pos.fee
	s.totalSlippage += pos.slippage

	if net > 0 {
		s.wins++
		s.sumWins += net
	} else {
		s.losses++
		s.sumLoss += -net
	}

	s.trades = append(s.trades, CopiedTrade{
		Timestamp:   t.Timestamp,
		Asset:       t.BaseAsset,
		Direction:   t.Direction,
		NotionalUSD: pos.notional,
		FeeUSD:      pos.fee,
		SlippageUSD: pos.slippage,
		GrossPnLUSD: gross,
		NetPnLUSD:   net,
		EquityAfter: s.equity,
	})
}

// sampleCurve marks open positions to market at minute steps between
// two trade timestamps. The step widens when the window would overflow
// the point budget.
func (s *simulation) sampleCurve(from, to time.Time) {
	span := to.Sub(from)
	step := equityCurveStep
	if int(span/step) > maxCurvePoints {
		step = span / maxCurvePoints
	}
	for ts := from.Truncate(step).Add(step); ts.Before(to); ts = ts.Add(step) {
		s.appendPoint(ts)
		if len(s.curve) >= maxCurvePoints {
			return
		}
	}
}

func (s *simulation) appendPoint(ts time.Time) {
	s.curve = append(s.curve, EquityPoint{Timestamp: ts, EquityUSD: s.markToMarket(ts)})
}

func (s *simulation) markToMarket(ts time.Time) float64 {
	equity := s.equity
	for asset, pos := range s.positions {
		p, ok := market.InterpolateAt(s.series[asset], ts)
		if !ok {
			continue
		}
		unrealized := pos.qty * (p - pos.entryPrice)
		if pos.short {
			unrealized = -unrealized
		}
		equity += unrealized
	}
	return equity
}

func (s *simulation) result() *BacktestResult {
	maxDDPct, maxDDUSD := maxDrawdown(s.curve, s.req.InitialDepositUSD)

	netPnL := s.equity - s.req.InitialDepositUSD
	roi := netPnL / s.req.InitialDepositUSD * 100

	closed := s.wins + s.losses
	var winRate *float64
	if closed > 0 {
		wr := float64(s.wins) / float64(closed) * 100
		winRate = &wr
	}

	summary := models.BacktestRun{
		WhaleID:           s.req.WhaleID,
		InitialDepositUSD: s.req.InitialDepositUSD,
		PositionSizePct:   s.req.PositionPct,
		FeeBps:            s.req.FeeBps,
		SlippageBps:       s.req.SlippageBps,
		Leverage:          s.req.Leverage,
		AssetSymbols:      s.req.Assets,
		TradesCopied:      len(s.trades),
		WinRatePercent:    winRate,
		MaxDrawdownPct:    maxDDPct,
		MaxDrawdownUSD:    maxDDUSD,
		NetPnLUSD:         netPnL,
		ROIPercent:        roi,
	}

	return &BacktestResult{
		Summary:                summary,
		Trades:                 s.trades,
		EquityCurve:            s.curve,
		RecommendedPositionPct: kellyFraction(s.wins, s.losses, s.sumWins, s.sumLoss),
	}
}

// kellyFraction approximates the Kelly criterion from observed wins and
// losses, clipped to [0, 50] percent.
func kellyFraction(wins, losses int, sumWins, sumLoss float64) float64 {
	closed := wins + losses
	if closed == 0 || wins == 0 {
		return 0
	}
	w := float64(wins) / float64(closed)
	if losses == 0 || sumLoss == 0 {
		return 50
	}
	avgWin := sumWins / float64(wins)
	avgLoss := sumLoss / float64(losses)
	if avgLoss == 0 || avgWin == 0 {
		return 0
	}
	r := avgWin / avgLoss
	f := (w - (1-w)/r) * 100
	return math.Max(0, math.Min(50, f))
}

// maxDrawdown scans the equity curve for the deepest peak-to-trough
// fall.
func maxDrawdown(curve []EquityPoint, initial float64) (pct, usd float64) {
	peak := initial
	for _, pt := range curve {
		if pt.EquityUSD > peak {
			peak = pt.EquityUSD
		}
		dd := peak - pt.EquityUSD
		if dd > usd {
			usd = dd
			if peak > 0 {
				pct = dd / peak * 100
			}
		}
	}
	return pct, usd
}

func tradePrice(t models.Trade) float64 {
	switch {
	case t.ClosePrice != nil && *t.ClosePrice > 0:
		return *t.ClosePrice
	case t.OpenPrice != nil && *t.OpenPrice > 0:
		return *t.OpenPrice
	case t.ValueUSD != nil && t.AmountBase != nil && *t.AmountBase != 0:
		return *t.ValueUSD / math.Abs(*t.AmountBase)
	}
	return 0
}
