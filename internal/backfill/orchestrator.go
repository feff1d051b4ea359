package backfill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"whalescope/internal/ingester"
	"whalescope/internal/models"
	"whalescope/internal/repository"
)

// Store is the persistence surface of backfill jobs.
type Store interface {
	GetBackfillStatus(ctx context.Context, whaleID string) (models.BackfillStatus, error)
	TryMarkBackfillRunning(ctx context.Context, whaleID string) (bool, error)
	UpdateBackfillProgress(ctx context.Context, whaleID string, progress float64, message string) error
	FinishBackfill(ctx context.Context, whaleID, status, message string) error
	WipeWhaleHistory(ctx context.Context, whaleID string) error
	GetCheckpoint(ctx context.Context, whaleID, source string) (models.IngestionCheckpoint, error)
	SaveTradeBatch(ctx context.Context, batch repository.TradeBatch) ([]models.Event, int, error)
	TouchLastActive(ctx context.Context, whaleID string, ts time.Time) error
}

// Rebuilder recomputes metrics once history has landed.
type Rebuilder interface {
	RebuildFull(ctx context.Context, whaleID string) error
}

const (
	maxRounds    = 200
	rampCeiling  = 90.0
	roundTimeout = 2 * time.Minute
)

// Orchestrator runs async per-whale history jobs. It drives the same
// collectors the tick loops use, just repeatedly until the checkpoint
// stops advancing.
type Orchestrator struct {
	store      Store
	engine     Rebuilder
	collectors map[string][]ingester.Collector // keyed by chain slug

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(store Store, engine Rebuilder) *Orchestrator {
	return &Orchestrator{
		store:      store,
		engine:     engine,
		collectors: make(map[string][]ingester.Collector),
		locks:      make(map[string]*sync.Mutex),
	}
}

// RegisterCollector binds a collector to its chain for backfill use.
func (o *Orchestrator) RegisterCollector(c ingester.Collector) {
	o.collectors[c.Chain()] = append(o.collectors[c.Chain()], c)
}

func (o *Orchestrator) whaleLock(whaleID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l, ok := o.locks[whaleID]; ok {
		return l
	}
	l := &sync.Mutex{}
	o.locks[whaleID] = l
	return l
}

// GetStatus returns the current job state for a whale.
func (o *Orchestrator) GetStatus(ctx context.Context, whaleID string) (models.BackfillStatus, error) {
	return o.store.GetBackfillStatus(ctx, whaleID)
}

// StartBackfill launches an async backfill. A job already running is
// not an error; the current status comes back unchanged.
func (o *Orchestrator) StartBackfill(ctx context.Context, whale *models.Whale) (models.BackfillStatus, error) {
	return o.start(ctx, whale, false)
}

// StartReset wipes a perp whale's derived history and backfills from
// scratch.
func (o *Orchestrator) StartReset(ctx context.Context, whale *models.Whale) (models.BackfillStatus, error) {
	if whale.ChainSlug != models.ChainPerp {
		return models.BackfillStatus{}, fmt.Errorf("reset is only supported for perp whales")
	}
	return o.start(ctx, whale, true)
}

func (o *Orchestrator) start(ctx context.Context, whale *models.Whale, reset bool) (models.BackfillStatus, error) {
	lock := o.whaleLock(whale.ID)
	lock.Lock()
	defer lock.Unlock()

	claimed, err := o.store.TryMarkBackfillRunning(ctx, whale.ID)
	if err != nil {
		return models.BackfillStatus{}, err
	}
	if !claimed {
		return o.store.GetBackfillStatus(ctx, whale.ID)
	}

	go o.run(context.WithoutCancel(ctx), whale, reset)
	return o.store.GetBackfillStatus(ctx, whale.ID)
}

func (o *Orchestrator) run(ctx context.Context, whale *models.Whale, reset bool) {
	logger := log.With().Str("whale", whale.ID).Str("chain", whale.ChainSlug).Logger()
	logger.Info().Bool("reset", reset).Msg("backfill started")

	if reset {
		if err := o.store.WipeWhaleHistory(ctx, whale.ID); err != nil {
			o.fail(ctx, whale.ID, fmt.Errorf("wipe failed: %w", err))
			return
		}
		if err := o.store.UpdateBackfillProgress(ctx, whale.ID, 5, "history cleared"); err != nil {
			logger.Warn().Err(err).Msg("progress update failed")
		}
	}

	collectors := o.collectors[whale.ChainSlug]
	if len(collectors) == 0 {
		o.fail(ctx, whale.ID, fmt.Errorf("no collector for chain %s", whale.ChainSlug))
		return
	}

	totalInserted := 0
	for _, c := range collectors {
		inserted, err := o.drainCollector(ctx, c, whale)
		totalInserted += inserted
		if err != nil {
			o.fail(ctx, whale.ID, err)
			return
		}
	}

	if err := o.store.UpdateBackfillProgress(ctx, whale.ID, rampCeiling, "history fetched, rebuilding metrics"); err != nil {
		logger.Warn().Err(err).Msg("progress update failed")
	}

	if err := o.engine.RebuildFull(ctx, whale.ID); err != nil {
		o.fail(ctx, whale.ID, fmt.Errorf("metrics rebuild: %w", err))
		return
	}

	msg := fmt.Sprintf("backfill complete, %d trades ingested", totalInserted)
	if err := o.store.FinishBackfill(ctx, whale.ID, models.BackfillDone, msg); err != nil {
		logger.Error().Err(err).Msg("failed to finish backfill")
		return
	}
	logger.Info().Int("trades", totalInserted).Msg("backfill done")
}

// drainCollector repeats collect rounds until the checkpoint stops
// advancing. Progress ramps toward the ceiling because the true total
// is unknown up front.
func (o *Orchestrator) drainCollector(ctx context.Context, c ingester.Collector, whale *models.Whale) (int, error) {
	totalInserted := 0
	var prev models.IngestionCheckpoint

	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil {
			return totalInserted, fmt.Errorf("backfill cancelled: %w", ctx.Err())
		}

		roundCtx, cancel := context.WithTimeout(ctx, roundTimeout)
		cp, err := o.store.GetCheckpoint(roundCtx, whale.ID, c.Source())
		if err != nil {
			cancel()
			return totalInserted, err
		}
		batch, err := c.Collect(roundCtx, whale, cp)
		if err != nil {
			cancel()
			return totalInserted, err
		}
		_, inserted, err := o.store.SaveTradeBatch(roundCtx, batch)
		cancel()
		if err != nil {
			return totalInserted, err
		}
		totalInserted += inserted

		progress := rampCeiling * (1 - 1/float64(round+2))
		msg := fmt.Sprintf("%d trades ingested from %s", totalInserted, c.Source())
		if err := o.store.UpdateBackfillProgress(ctx, whale.ID, progress, msg); err != nil {
			log.Warn().Err(err).Str("whale", whale.ID).Msg("progress update failed")
		}

		next := batch.Checkpoint
		if inserted == 0 && next.LastBlockHeight == prev.LastBlockHeight &&
			next.LastTxID == prev.LastTxID && next.LastFillTime == prev.LastFillTime {
			break
		}
		prev = next
	}
	return totalInserted, nil
}

func (o *Orchestrator) fail(ctx context.Context, whaleID string, err error) {
	log.Error().Err(err).Str("whale", whaleID).Msg("backfill failed")
	if ferr := o.store.FinishBackfill(ctx, whaleID, models.BackfillError, err.Error()); ferr != nil {
		log.Error().Err(ferr).Str("whale", whaleID).Msg("failed to record backfill error")
	}
}
