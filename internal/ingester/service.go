package ingester

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"whalescope/internal/models"
	"whalescope/internal/repository"
	"whalescope/internal/telemetry"
)

// Store is the persistence surface collectors write through. Satisfied
// by repository.Repository; tests use an in-memory fake.
type Store interface {
	ListWhalesByChain(ctx context.Context, chainSlug string) ([]models.Whale, error)
	GetCheckpoint(ctx context.Context, whaleID, source string) (models.IngestionCheckpoint, error)
	SaveTradeBatch(ctx context.Context, batch repository.TradeBatch) ([]models.Event, int, error)
	ReplaceHoldings(ctx context.Context, whaleID string, holdings []models.Holding) error
	TouchLastActive(ctx context.Context, whaleID string, ts time.Time) error
}

// Broadcaster receives the events a committed batch produced.
type Broadcaster interface {
	Publish(ctx context.Context, whale *models.Whale, ev models.Event)
}

// Collector pulls one whale's new activity since its checkpoint.
type Collector interface {
	Source() string
	Chain() string
	Collect(ctx context.Context, whale *models.Whale, cp models.IngestionCheckpoint) (repository.TradeBatch, error)
}

// HoldingsProvider is implemented by collectors that can snapshot a
// whale's current positions alongside its trades.
type HoldingsProvider interface {
	Holdings(ctx context.Context, whale *models.Whale) ([]models.Holding, error)
}

// MetricsUpdater recomputes a whale's derived metrics after a batch
// lands. Satisfied by analytics.Engine, which serializes and coalesces
// concurrent requests per whale.
type MetricsUpdater interface {
	UpdateIncremental(ctx context.Context, whaleID string) error
}

// Service runs each collector on its own tick loop until the context is
// cancelled. A failing tick is logged and retried next interval; one
// whale's failure never blocks the others.
type Service struct {
	store      Store
	bus        Broadcaster
	metrics    MetricsUpdater
	collectors []Collector
	intervals  map[string]time.Duration
	timeout    time.Duration
}

func NewService(store Store, bus Broadcaster, timeout time.Duration) *Service {
	return &Service{
		store:     store,
		bus:       bus,
		intervals: make(map[string]time.Duration),
		timeout:   timeout,
	}
}

// SetMetricsUpdater enables per-batch incremental metrics refreshes.
func (s *Service) SetMetricsUpdater(m MetricsUpdater) {
	s.metrics = m
}

func (s *Service) Register(c Collector, interval time.Duration) {
	s.collectors = append(s.collectors, c)
	s.intervals[c.Source()+"/"+c.Chain()] = interval
}

func (s *Service) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range s.collectors {
		interval := s.intervals[c.Source()+"/"+c.Chain()]
		wg.Add(1)
		go func(c Collector, interval time.Duration) {
			defer wg.Done()
			s.runLoop(ctx, c, interval)
		}(c, interval)
	}
	wg.Wait()
}

func (s *Service) runLoop(ctx context.Context, c Collector, interval time.Duration) {
	log.Info().Str("source", c.Source()).Str("chain", c.Chain()).
		Dur("interval", interval).Msg("collector started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First tick immediately, then on the interval.
	s.tick(ctx, c)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("source", c.Source()).Str("chain", c.Chain()).Msg("collector stopped")
			return
		case <-ticker.C:
			s.tick(ctx, c)
		}
	}
}

func (s *Service) tick(ctx context.Context, c Collector) {
	whales, err := s.store.ListWhalesByChain(ctx, c.Chain())
	if err != nil {
		log.Error().Err(err).Str("chain", c.Chain()).Msg("failed to list whales")
		telemetry.TicksTotal.WithLabelValues(c.Source(), "error").Inc()
		return
	}

	for _, w := range whales {
		if ctx.Err() != nil {
			return
		}
		whale := w
		if err := s.processWhale(ctx, c, &whale); err != nil {
			log.Error().Err(err).Str("whale", whale.ID).Str("source", c.Source()).
				Msg("collector tick failed")
			telemetry.TicksTotal.WithLabelValues(c.Source(), "error").Inc()
			continue
		}
		telemetry.TicksTotal.WithLabelValues(c.Source(), "ok").Inc()
	}
}

func (s *Service) processWhale(ctx context.Context, c Collector, whale *models.Whale) error {
	tickCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cp, err := s.store.GetCheckpoint(tickCtx, whale.ID, c.Source())
	if err != nil {
		return err
	}

	batch, err := c.Collect(tickCtx, whale, cp)
	if err != nil {
		return err
	}
	if len(batch.Items) == 0 && len(batch.Events) == 0 && batch.Checkpoint.WhaleID == "" {
		return nil
	}

	events, inserted, err := s.store.SaveTradeBatch(tickCtx, batch)
	if err != nil {
		return err
	}
	if inserted > 0 {
		telemetry.TradesIngested.WithLabelValues(c.Source()).Add(float64(inserted))
		if latest := latestTradeTime(batch.Items); !latest.IsZero() {
			if err := s.store.TouchLastActive(tickCtx, whale.ID, latest); err != nil {
				log.Warn().Err(err).Str("whale", whale.ID).Msg("failed to touch last active")
			}
		}
		if s.metrics != nil {
			go func(id string) {
				if err := s.metrics.UpdateIncremental(context.WithoutCancel(ctx), id); err != nil {
					log.Warn().Err(err).Str("whale", id).Msg("incremental metrics refresh failed")
				}
			}(whale.ID)
		}
	}
	if s.bus != nil {
		for _, ev := range events {
			s.bus.Publish(ctx, whale, ev)
		}
	}

	if hp, ok := c.(HoldingsProvider); ok {
		holdings, err := hp.Holdings(tickCtx, whale)
		if err != nil {
			log.Warn().Err(err).Str("whale", whale.ID).Msg("failed to snapshot holdings")
		} else if err := s.store.ReplaceHoldings(tickCtx, whale.ID, holdings); err != nil {
			log.Warn().Err(err).Str("whale", whale.ID).Msg("failed to replace holdings")
		}
	}
	return nil
}

func latestTradeTime(items []repository.BatchItem) time.Time {
	var latest time.Time
	for _, it := range items {
		if it.Trade.Timestamp.After(latest) {
			latest = it.Trade.Timestamp
		}
	}
	return latest
}
