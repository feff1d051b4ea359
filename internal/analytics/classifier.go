package analytics

import (
	"context"

	"github.com/rs/zerolog/log"

	"whalescope/internal/models"
)

// ClassifierStore is the persistence surface of the daily classifier.
type ClassifierStore interface {
	ListAllWhales(ctx context.Context) ([]models.Whale, error)
	TradeStats30d(ctx context.Context, whaleID string) (float64, int, error)
	GetCurrent(ctx context.Context, whaleID string) (*models.CurrentWalletMetrics, error)
	SetWhaleType(ctx context.Context, whaleID, whaleType string) error
}

// Classifier assigns whale types from 30d trading behavior.
type Classifier struct {
	store      ClassifierStore
	freqHi     int     // trades per 30d
	volRatioHi float64 // 30d volume over portfolio value
}

func NewClassifier(store ClassifierStore, freqHi int, volRatioHi float64) *Classifier {
	return &Classifier{store: store, freqHi: freqHi, volRatioHi: volRatioHi}
}

// ClassifyWhale applies the threshold rules to one observation pair.
func (c *Classifier) ClassifyWhale(trades30d int, volRatio float64) string {
	switch {
	case trades30d >= c.freqHi && volRatio >= c.volRatioHi:
		return models.WhaleTypeHolderTrader
	case trades30d >= c.freqHi:
		return models.WhaleTypeTrader
	default:
		return models.WhaleTypeHolder
	}
}

// Run reclassifies every whale. Individual failures are logged and
// skipped so one broken whale cannot stall the daily pass.
func (c *Classifier) Run(ctx context.Context) error {
	whales, err := c.store.ListAllWhales(ctx)
	if err != nil {
		return err
	}

	for _, w := range whales {
		volume, count, err := c.store.TradeStats30d(ctx, w.ID)
		if err != nil {
			log.Warn().Err(err).Str("whale", w.ID).Msg("classifier stats failed")
			continue
		}
		if count == 0 {
			continue // nothing observed, keep the existing type
		}

		volRatio := 0.0
		if cur, err := c.store.GetCurrent(ctx, w.ID); err == nil && cur != nil && cur.PortfolioValueUSD > 0 {
			volRatio = volume / cur.PortfolioValueUSD
		}

		newType := c.ClassifyWhale(count, volRatio)
		if newType == w.Type {
			continue
		}
		if err := c.store.SetWhaleType(ctx, w.ID, newType); err != nil {
			log.Warn().Err(err).Str("whale", w.ID).Msg("failed to set whale type")
			continue
		}
		log.Info().Str("whale", w.ID).Str("from", w.Type).Str("to", newType).Msg("whale reclassified")
	}
	return nil
}
