package backfill

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whalescope/internal/models"
	"whalescope/internal/repository"
)

type storeStub struct {
	mu       sync.Mutex
	status   models.BackfillStatus
	cp       models.IngestionCheckpoint
	inserted int
	wiped    bool
	done     chan struct{}
}

func newStoreStub(whaleID string) *storeStub {
	return &storeStub{
		status: models.BackfillStatus{WhaleID: whaleID, Status: models.BackfillIdle},
		done:   make(chan struct{}),
	}
}

func (s *storeStub) GetBackfillStatus(ctx context.Context, whaleID string) (models.BackfillStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *storeStub) TryMarkBackfillRunning(ctx context.Context, whaleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Status == models.BackfillRunning {
		return false, nil
	}
	s.status.Status = models.BackfillRunning
	s.status.Progress = 0
	return true, nil
}

func (s *storeStub) UpdateBackfillProgress(ctx context.Context, whaleID string, progress float64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Status == models.BackfillRunning {
		s.status.Progress = progress
		s.status.Message = message
	}
	return nil
}

func (s *storeStub) FinishBackfill(ctx context.Context, whaleID, status, message string) error {
	s.mu.Lock()
	s.status.Status = status
	s.status.Message = message
	if status == models.BackfillError {
		s.status.Progress = 0
	} else {
		s.status.Progress = 100
	}
	s.mu.Unlock()
	close(s.done)
	return nil
}

func (s *storeStub) WipeWhaleHistory(ctx context.Context, whaleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wiped = true
	s.cp = models.IngestionCheckpoint{}
	return nil
}

func (s *storeStub) GetCheckpoint(ctx context.Context, whaleID, source string) (models.IngestionCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp, nil
}

func (s *storeStub) SaveTradeBatch(ctx context.Context, batch repository.TradeBatch) ([]models.Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = batch.Checkpoint
	s.inserted += len(batch.Items)
	return nil, len(batch.Items), nil
}

func (s *storeStub) TouchLastActive(ctx context.Context, whaleID string, ts time.Time) error {
	return nil
}

// pagedCollector serves pages of fills until the cursor catches up,
// then returns empty batches with an unchanged checkpoint.
type pagedCollector struct {
	chain   string
	pages   [][]models.Trade
	lastTop int64
}

func (c *pagedCollector) Source() string { return models.SourcePerp }
func (c *pagedCollector) Chain() string  { return c.chain }

func (c *pagedCollector) Collect(ctx context.Context, whale *models.Whale, cp models.IngestionCheckpoint) (repository.TradeBatch, error) {
	batch := repository.TradeBatch{WhaleID: whale.ID, Source: c.Source()}
	page := int(cp.LastFillTime) // stub: checkpoint counts consumed pages
	if page < len(c.pages) {
		for _, t := range c.pages[page] {
			batch.Items = append(batch.Items, repository.BatchItem{Trade: t})
		}
		c.lastTop = int64(page + 1)
	}
	batch.Checkpoint = models.IngestionCheckpoint{
		WhaleID:      whale.ID,
		Source:       c.Source(),
		LastFillTime: c.lastTop,
	}
	return batch, nil
}

type rebuilderStub struct {
	mu      sync.Mutex
	rebuilt []string
	err     error
}

func (r *rebuilderStub) RebuildFull(ctx context.Context, whaleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuilt = append(r.rebuilt, whaleID)
	return r.err
}

func waitDone(t *testing.T, s *storeStub) models.BackfillStatus {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("backfill never finished")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func TestBackfillDrainsUntilCheckpointStops(t *testing.T) {
	t.Parallel()

	whale := &models.Whale{ID: "w1", ChainSlug: models.ChainPerp}
	store := newStoreStub(whale.ID)
	rebuilder := &rebuilderStub{}

	o := NewOrchestrator(store, rebuilder)
	o.RegisterCollector(&pagedCollector{chain: models.ChainPerp, pages: [][]models.Trade{
		{{WhaleID: "w1"}, {WhaleID: "w1"}},
		{{WhaleID: "w1"}},
	}})

	status, err := o.StartBackfill(context.Background(), whale)
	require.NoError(t, err)
	// The job runs async; by the time start returns it is either still
	// running or already finished.
	require.Contains(t, []string{models.BackfillRunning, models.BackfillDone}, status.Status)

	final := waitDone(t, store)
	require.Equal(t, models.BackfillDone, final.Status)
	require.Equal(t, 100.0, final.Progress)
	require.Equal(t, 3, store.inserted)
	require.Equal(t, []string{"w1"}, rebuilder.rebuilt)
}

func TestBackfillConcurrentStartIsNoop(t *testing.T) {
	t.Parallel()

	whale := &models.Whale{ID: "w1", ChainSlug: models.ChainPerp}
	store := newStoreStub(whale.ID)
	store.status.Status = models.BackfillRunning
	store.status.Progress = 42

	o := NewOrchestrator(store, &rebuilderStub{})
	o.RegisterCollector(&pagedCollector{chain: models.ChainPerp})

	status, err := o.StartBackfill(context.Background(), whale)
	require.NoError(t, err)
	require.Equal(t, models.BackfillRunning, status.Status)
	require.Equal(t, 42.0, status.Progress)

	select {
	case <-store.done:
		t.Fatal("second start launched a job")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBackfillNoCollectorFails(t *testing.T) {
	t.Parallel()

	whale := &models.Whale{ID: "w1", ChainSlug: "evm"}
	store := newStoreStub(whale.ID)

	o := NewOrchestrator(store, &rebuilderStub{})
	_, err := o.StartBackfill(context.Background(), whale)
	require.NoError(t, err)

	final := waitDone(t, store)
	require.Equal(t, models.BackfillError, final.Status)
	require.Equal(t, 0.0, final.Progress)
}

func TestResetRejectsNonPerp(t *testing.T) {
	t.Parallel()

	store := newStoreStub("w1")
	o := NewOrchestrator(store, &rebuilderStub{})

	_, err := o.StartReset(context.Background(), &models.Whale{ID: "w1", ChainSlug: "evm"})
	require.Error(t, err)
}

func TestResetWipesHistoryFirst(t *testing.T) {
	t.Parallel()

	whale := &models.Whale{ID: "w1", ChainSlug: models.ChainPerp}
	store := newStoreStub(whale.ID)

	o := NewOrchestrator(store, &rebuilderStub{})
	o.RegisterCollector(&pagedCollector{chain: models.ChainPerp, pages: [][]models.Trade{
		{{WhaleID: "w1"}},
	}})

	_, err := o.StartReset(context.Background(), whale)
	require.NoError(t, err)

	final := waitDone(t, store)
	require.Equal(t, models.BackfillDone, final.Status)
	require.True(t, store.wiped)
	require.Equal(t, 1, store.inserted)
}
