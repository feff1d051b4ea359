package ingester

import (
	"context"
	"fmt"
	"math"
	"time"

	"whalescope/internal/config"
	"whalescope/internal/models"
	"whalescope/internal/repository"
	"whalescope/internal/sources"
)

const (
	perpInitialLookback = 30 * 24 * time.Hour
	perpMaxPages        = 5 // 2000 fills per page
)

// PerpCollector ingests fills and ledger movements from a perp exchange
// account and snapshots its open positions into holdings.
type PerpCollector struct {
	client     sources.PerpClient
	thresholds config.EventThresholds
	chainID    int
}

func NewPerpCollector(client sources.PerpClient, thresholds config.EventThresholds, chainID int) *PerpCollector {
	return &PerpCollector{client: client, thresholds: thresholds, chainID: chainID}
}

func (c *PerpCollector) Source() string { return models.SourcePerp }
func (c *PerpCollector) Chain() string  { return models.ChainPerp }

func (c *PerpCollector) Collect(ctx context.Context, whale *models.Whale, cp models.IngestionCheckpoint) (repository.TradeBatch, error) {
	batch := repository.TradeBatch{WhaleID: whale.ID, Source: c.Source()}

	startMs := cp.LastFillTime + 1
	if cp.LastFillTime == 0 {
		startMs = time.Now().Add(-perpInitialLookback).UnixMilli()
	}

	lastFill := cp.LastFillTime
	cursor := startMs
	for page := 0; page < perpMaxPages; page++ {
		fills, err := c.client.FillsByTime(ctx, whale.Address, cursor, 0)
		if err != nil {
			return batch, err
		}
		for _, f := range fills {
			item := c.normalizeFill(whale, f)
			if item != nil {
				batch.Items = append(batch.Items, *item)
			}
			if f.Time > lastFill {
				lastFill = f.Time
			}
		}
		if len(fills) < 2000 {
			break
		}
		cursor = lastFill + 1
	}

	updates, err := c.client.LedgerUpdates(ctx, whale.Address, startMs)
	if err == nil {
		for _, u := range updates {
			if item := c.normalizeLedger(whale, u); item != nil {
				batch.Items = append(batch.Items, *item)
			}
		}
	}

	batch.Items = sortBatchItems(batch.Items)
	batch.Checkpoint = models.IngestionCheckpoint{
		WhaleID:      whale.ID,
		Source:       c.Source(),
		LastFillTime: lastFill,
	}
	return batch, nil
}

// FillDirection maps the exchange's dir string onto trade directions.
func FillDirection(dir, side string) string {
	switch dir {
	case "Open Long", "Buy":
		return models.DirLong
	case "Open Short":
		return models.DirShort
	case "Close Long", "Sell":
		return models.DirCloseLong
	case "Close Short":
		return models.DirCloseShort
	}
	if side == "B" {
		return models.DirLong
	}
	return models.DirCloseLong
}

func (c *PerpCollector) normalizeFill(whale *models.Whale, f sources.PerpFill) *repository.BatchItem {
	size := sources.ParseFloat(f.Sz)
	px := sources.ParseFloat(f.Px)
	if size == 0 || px == 0 {
		return nil
	}

	direction := FillDirection(f.Dir, f.Side)
	// Closes carry negative size so position math can sum amounts.
	signed := size
	if direction == models.DirCloseLong || direction == models.DirCloseShort {
		signed = -size
	}

	valueUSD := math.Abs(size) * px
	ts := time.UnixMilli(f.Time).UTC()
	quote := "USD"
	txKey := fmt.Sprintf("%s:%d", f.Hash, f.OID)

	trade := models.Trade{
		WhaleID:    whale.ID,
		Timestamp:  ts,
		ChainID:    c.chainID,
		Source:     models.SourcePerp,
		Platform:   "hyperliquid",
		Direction:  direction,
		BaseAsset:  f.Coin,
		QuoteAsset: &quote,
		AmountBase: &signed,
		ValueUSD:   &valueUSD,
		TxHash:     &txKey,
	}
	// Break-even closes report closedPnl "0", so branch on the
	// direction, not on the pnl value.
	if models.IsExit(direction) {
		pnl := sources.ParseFloat(f.ClosedPnl)
		trade.PnLUSD = &pnl
		trade.ClosePrice = &px
	} else {
		trade.OpenPrice = &px
	}

	item := repository.BatchItem{Trade: trade}
	if valueUSD >= c.thresholds.ForType(models.EventPerpTrade) {
		hash := f.Hash
		item.Event = &models.Event{
			WhaleID:   whale.ID,
			Timestamp: ts,
			ChainID:   c.chainID,
			Type:      models.EventPerpTrade,
			Summary:   eventSummary(direction, size, f.Coin, valueUSD, "hyperliquid"),
			ValueUSD:  &valueUSD,
			TxHash:    &hash,
		}
	}
	return &item
}

func (c *PerpCollector) normalizeLedger(whale *models.Whale, u sources.PerpLedgerUpdate) *repository.BatchItem {
	var direction string
	switch u.Delta.Type {
	case "deposit":
		direction = models.DirDeposit
	case "withdraw":
		direction = models.DirWithdraw
	default:
		return nil
	}

	usdc := math.Abs(sources.ParseFloat(u.Delta.Usdc))
	if usdc == 0 {
		return nil
	}
	ts := time.UnixMilli(u.Time).UTC()
	quote := "USD"
	hash := u.Hash
	amount := usdc

	return &repository.BatchItem{Trade: models.Trade{
		WhaleID:    whale.ID,
		Timestamp:  ts,
		ChainID:    c.chainID,
		Source:     models.SourcePerp,
		Platform:   "hyperliquid",
		Direction:  direction,
		BaseAsset:  "USDC",
		QuoteAsset: &quote,
		AmountBase: &amount,
		ValueUSD:   &usdc,
		TxHash:     &hash,
	}}
}

// Holdings snapshots the account's open positions. The service replaces
// the holdings table with the result after each tick.
func (c *PerpCollector) Holdings(ctx context.Context, whale *models.Whale) ([]models.Holding, error) {
	state, err := c.client.ClearinghouseState(ctx, whale.Address)
	if err != nil {
		return nil, err
	}

	accountValue := sources.ParseFloat(state.MarginSummary.AccountValue)
	var holdings []models.Holding
	for _, p := range state.AssetPositions {
		szi := sources.ParseFloat(p.Position.Szi)
		if szi == 0 {
			continue
		}
		value := sources.ParseFloat(p.Position.PositionValue)
		entryPx := sources.ParseFloat(p.Position.EntryPx)
		costBasis := math.Abs(szi) * entryPx

		var pct *float64
		if accountValue > 0 {
			v := value / accountValue * 100
			pct = &v
		}
		amount := szi
		holdings = append(holdings, models.Holding{
			WhaleID:          whale.ID,
			AssetSymbol:      p.Position.Coin,
			AssetName:        positionName(szi, p.Position.Coin),
			ChainID:          c.chainID,
			Amount:           &amount,
			ValueUSD:         &value,
			PortfolioPercent: pct,
			CostBasisUSD:     &costBasis,
			AvgUnitCostUSD:   &entryPx,
		})
	}
	return holdings, nil
}

func positionName(szi float64, coin string) string {
	if szi < 0 {
		return coin + " short"
	}
	return coin + " long"
}
