package analytics

import (
	"fmt"
	"math"

	"whalescope/internal/faults"
	"whalescope/internal/models"
)

// lot is one open cost-basis entry. Quantity is signed: perp shorts
// carry negative quantity. A lot without a known acquisition price has
// priced=false and never contributes to USD math.
type lot struct {
	qty      float64
	unitCost float64
	priced   bool
	perp     bool
}

// Ledger replays a whale's trade history with FIFO cost-basis lots and
// a running cash balance. Both the incremental and full rebuild paths
// drive this one implementation.
type Ledger struct {
	Cash           float64
	DepositsUSD    float64
	WithdrawalsUSD float64
	RealizedPnLUSD float64
	ClosedCount    int
	WinCount       int

	lots map[string][]lot
}

func NewLedger() *Ledger {
	return &Ledger{lots: make(map[string][]lot)}
}

// Apply folds one trade into the ledger. Returns faults.ErrInvariant
// when the books go impossible (negative equity at cost).
func (l *Ledger) Apply(t models.Trade) error {
	value := 0.0
	priced := false
	if t.ValueUSD != nil {
		value = *t.ValueUSD
		priced = true
	}
	qty := 0.0
	if t.AmountBase != nil {
		qty = math.Abs(*t.AmountBase)
	}

	switch t.Direction {
	case models.DirDeposit:
		l.Cash += value
		l.DepositsUSD += value

	case models.DirWithdraw:
		l.Cash -= value
		l.WithdrawalsUSD += value

	case models.DirBuy:
		l.addLot(t.BaseAsset, qty, value, priced, false)
		if priced {
			l.Cash -= value
		}

	case models.DirSell:
		l.closeLots(t, qty, value, priced)
		if priced {
			l.Cash += value
		}

	case models.DirLong:
		l.addLot(t.BaseAsset, qty, value, priced, true)

	case models.DirShort:
		l.addLot(t.BaseAsset, -qty, value, priced, true)

	case models.DirCloseLong, models.DirCloseShort:
		l.closePerpLots(t, qty)
	}

	if eq := l.equityAtCost(); eq < -1e-6 {
		return fmt.Errorf("%w: negative equity %.2f after trade at %s",
			faults.ErrInvariant, eq, t.Timestamp.Format("2006-01-02"))
	}
	return nil
}

func (l *Ledger) addLot(asset string, qty, value float64, priced, perp bool) {
	if qty == 0 {
		return
	}
	unitCost := 0.0
	if priced {
		unitCost = value / math.Abs(qty)
	}
	l.lots[asset] = append(l.lots[asset], lot{qty: qty, unitCost: unitCost, priced: priced, perp: perp})
}

// closeLots consumes spot lots FIFO. Realized PnL apportions cost pro
// rata across the consumed lots.
func (l *Ledger) closeLots(t models.Trade, qty, proceeds float64, priced bool) {
	remaining := qty
	costConsumed := 0.0
	costPriced := priced

	queue := l.lots[t.BaseAsset]
	for remaining > 1e-12 && len(queue) > 0 {
		front := &queue[0]
		take := math.Min(remaining, math.Abs(front.qty))
		if front.priced {
			costConsumed += take * front.unitCost
		} else {
			costPriced = false
		}
		front.qty -= take
		remaining -= take
		if math.Abs(front.qty) <= 1e-12 {
			queue = queue[1:]
		}
	}
	l.lots[t.BaseAsset] = queue

	var realized float64
	known := false
	switch {
	case t.PnLUSD != nil:
		realized, known = *t.PnLUSD, true
	case priced && costPriced:
		// Proceeds are scaled to the portion actually backed by lots.
		matched := qty - remaining
		if qty > 0 && matched > 0 {
			realized, known = proceeds*(matched/qty)-costConsumed, true
		}
	}

	if known {
		l.RealizedPnLUSD += realized
	}
	l.ClosedCount++
	if known && realized > 0 {
		l.WinCount++
	}
}

// closePerpLots consumes perp lots FIFO. Realized PnL comes from the
// exchange when reported, otherwise from exit versus entry price.
func (l *Ledger) closePerpLots(t models.Trade, qty float64) {
	remaining := qty
	entryCost := 0.0
	entryPriced := true
	short := t.Direction == models.DirCloseShort

	queue := l.lots[t.BaseAsset]
	for remaining > 1e-12 && len(queue) > 0 {
		front := &queue[0]
		take := math.Min(remaining, math.Abs(front.qty))
		if front.priced {
			entryCost += take * front.unitCost
		} else {
			entryPriced = false
		}
		if front.qty < 0 {
			front.qty += take
		} else {
			front.qty -= take
		}
		remaining -= take
		if math.Abs(front.qty) <= 1e-12 {
			queue = queue[1:]
		}
	}
	l.lots[t.BaseAsset] = queue

	var realized float64
	known := false
	switch {
	case t.PnLUSD != nil:
		realized, known = *t.PnLUSD, true
	case t.ClosePrice != nil && entryPriced:
		matched := qty - remaining
		exit := matched * *t.ClosePrice
		if short {
			realized, known = entryCost-exit, true
		} else {
			realized, known = exit-entryCost, true
		}
	}

	if known {
		l.RealizedPnLUSD += realized
		l.Cash += realized
	}
	l.ClosedCount++
	if known && realized > 0 {
		l.WinCount++
	}
}

// equityAtCost values open lots at acquisition cost.
func (l *Ledger) equityAtCost() float64 {
	eq := l.Cash
	for _, queue := range l.lots {
		for _, lt := range queue {
			if !lt.priced {
				continue
			}
			if lt.perp {
				continue // margin already counted in cash
			}
			eq += math.Abs(lt.qty) * lt.unitCost
		}
	}
	return eq
}

// OpenAssets lists assets with non-empty lot queues.
func (l *Ledger) OpenAssets() []string {
	var out []string
	for asset, queue := range l.lots {
		if len(queue) > 0 {
			out = append(out, asset)
		}
	}
	return out
}

// ValueAt computes total equity with open lots marked to the given
// prices. Assets missing from the map contribute nothing.
func (l *Ledger) ValueAt(prices map[string]float64) float64 {
	value := l.Cash
	for asset, queue := range l.lots {
		p, ok := prices[asset]
		for _, lt := range queue {
			if !ok {
				continue
			}
			if lt.perp {
				if lt.priced {
					value += lt.qty * (p - lt.unitCost)
				}
			} else {
				value += math.Abs(lt.qty) * p
			}
		}
	}
	return value
}

// UnrealizedAt computes open-lot PnL against the given prices.
func (l *Ledger) UnrealizedAt(prices map[string]float64) float64 {
	pnl := 0.0
	for asset, queue := range l.lots {
		p, ok := prices[asset]
		if !ok {
			continue
		}
		for _, lt := range queue {
			if !lt.priced {
				continue
			}
			if lt.perp {
				pnl += lt.qty * (p - lt.unitCost)
			} else {
				pnl += math.Abs(lt.qty) * (p - lt.unitCost)
			}
		}
	}
	return pnl
}

// ROIAt reports cumulative return against net deposits. Zero deposits
// report 0 rather than dividing by zero.
func (l *Ledger) ROIAt(portfolioValue float64) float64 {
	if l.DepositsUSD <= 0 {
		return 0
	}
	return (portfolioValue + l.WithdrawalsUSD - l.DepositsUSD) / l.DepositsUSD * 100
}

// WinRate returns the share of closed positions with positive realized
// PnL, or nil before any close.
func (l *Ledger) WinRate() *float64 {
	if l.ClosedCount == 0 {
		return nil
	}
	r := float64(l.WinCount) / float64(l.ClosedCount) * 100
	return &r
}

// Holdings materializes the open lots as holdings rows priced at the
// given spot prices.
func (l *Ledger) Holdings(whaleID string, chainID int, prices map[string]float64) []models.Holding {
	total := l.ValueAt(prices)
	var out []models.Holding
	for asset, queue := range l.lots {
		var qty, cost float64
		for _, lt := range queue {
			qty += math.Abs(lt.qty)
			if lt.priced {
				cost += math.Abs(lt.qty) * lt.unitCost
			}
		}
		if qty <= 1e-12 {
			continue
		}
		h := models.Holding{
			WhaleID:     whaleID,
			AssetSymbol: asset,
			ChainID:     chainID,
		}
		q := qty
		h.Amount = &q
		c := cost
		h.CostBasisUSD = &c
		avg := cost / qty
		h.AvgUnitCostUSD = &avg
		if p, ok := prices[asset]; ok {
			v := qty * p
			h.ValueUSD = &v
			if total > 0 {
				pct := v / total * 100
				h.PortfolioPercent = &pct
			}
		}
		out = append(out, h)
	}
	return out
}
