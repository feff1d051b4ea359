package ingester

import (
	"context"
	"sync"
	"testing"
	"time"

	"whalescope/internal/models"
	"whalescope/internal/repository"
)

type serviceStoreStub struct {
	mu       sync.Mutex
	whales   []models.Whale
	cp       map[string]models.IngestionCheckpoint
	batches  []repository.TradeBatch
	events   []models.Event // events SaveTradeBatch reports as fresh
	holdings map[string][]models.Holding
	touched  map[string]time.Time
}

func (s *serviceStoreStub) ListWhalesByChain(ctx context.Context, chainSlug string) ([]models.Whale, error) {
	return s.whales, nil
}

func (s *serviceStoreStub) GetCheckpoint(ctx context.Context, whaleID, source string) (models.IngestionCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp[whaleID+"/"+source], nil
}

func (s *serviceStoreStub) SaveTradeBatch(ctx context.Context, batch repository.TradeBatch) ([]models.Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cp == nil {
		s.cp = map[string]models.IngestionCheckpoint{}
	}
	s.batches = append(s.batches, batch)
	s.cp[batch.WhaleID+"/"+batch.Source] = batch.Checkpoint

	var fresh []models.Event
	for _, it := range batch.Items {
		if it.Event != nil {
			fresh = append(fresh, *it.Event)
		}
	}
	s.events = append(s.events, fresh...)
	return fresh, len(batch.Items), nil
}

func (s *serviceStoreStub) ReplaceHoldings(ctx context.Context, whaleID string, holdings []models.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holdings == nil {
		s.holdings = map[string][]models.Holding{}
	}
	s.holdings[whaleID] = holdings
	return nil
}

func (s *serviceStoreStub) TouchLastActive(ctx context.Context, whaleID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touched == nil {
		s.touched = map[string]time.Time{}
	}
	s.touched[whaleID] = ts
	return nil
}

type busStub struct {
	mu        sync.Mutex
	published []models.Event
}

func (b *busStub) Publish(ctx context.Context, whale *models.Whale, ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, ev)
}

// fixedCollector emits one batch on the first collect and nothing after.
type fixedCollector struct {
	mu    sync.Mutex
	batch repository.TradeBatch
	calls int
}

func (c *fixedCollector) Source() string { return models.SourceOnchain }
func (c *fixedCollector) Chain() string  { return "evm" }

func (c *fixedCollector) Collect(ctx context.Context, whale *models.Whale, cp models.IngestionCheckpoint) (repository.TradeBatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls > 1 {
		return repository.TradeBatch{WhaleID: whale.ID, Source: c.Source()}, nil
	}
	return c.batch, nil
}

func makeBatch(whaleID string, withEvent bool) repository.TradeBatch {
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	hash := "0xaaa"
	value := 750_000.0
	item := repository.BatchItem{Trade: models.Trade{
		WhaleID:   whaleID,
		Timestamp: ts,
		Direction: models.DirBuy,
		BaseAsset: "WETH",
		TxHash:    &hash,
		ValueUSD:  &value,
	}}
	if withEvent {
		item.Event = &models.Event{
			WhaleID:   whaleID,
			Timestamp: ts,
			Type:      models.EventLargeTransfer,
			Summary:   "Whale received 250 WETH ($750.0K)",
			ValueUSD:  &value,
		}
	}
	return repository.TradeBatch{
		WhaleID: whaleID,
		Source:  models.SourceOnchain,
		Items:   []repository.BatchItem{item},
		Checkpoint: models.IngestionCheckpoint{
			WhaleID: whaleID, Source: models.SourceOnchain, LastBlockHeight: 100,
		},
	}
}

func TestProcessWhalePublishesFreshEvents(t *testing.T) {
	t.Parallel()

	whale := models.Whale{ID: "w1", ChainSlug: "evm"}
	store := &serviceStoreStub{whales: []models.Whale{whale}}
	bus := &busStub{}
	collector := &fixedCollector{batch: makeBatch("w1", true)}

	svc := NewService(store, bus, time.Second)
	if err := svc.processWhale(context.Background(), collector, &whale); err != nil {
		t.Fatal(err)
	}

	if len(bus.published) != 1 {
		t.Fatalf("published=%d want 1", len(bus.published))
	}
	if bus.published[0].Type != models.EventLargeTransfer {
		t.Fatalf("event type=%q", bus.published[0].Type)
	}
	if got := store.touched["w1"]; got.IsZero() {
		t.Fatal("last active not touched")
	}
	if store.cp["w1/onchain"].LastBlockHeight != 100 {
		t.Fatalf("checkpoint=%+v", store.cp["w1/onchain"])
	}
}

func TestProcessWhaleReplayPublishesNothing(t *testing.T) {
	t.Parallel()

	// On the second pass the collector finds nothing new; no events, no
	// touch updates.
	whale := models.Whale{ID: "w1", ChainSlug: "evm"}
	store := &serviceStoreStub{whales: []models.Whale{whale}}
	bus := &busStub{}
	collector := &fixedCollector{batch: makeBatch("w1", true)}

	svc := NewService(store, bus, time.Second)
	if err := svc.processWhale(context.Background(), collector, &whale); err != nil {
		t.Fatal(err)
	}
	if err := svc.processWhale(context.Background(), collector, &whale); err != nil {
		t.Fatal(err)
	}

	if len(bus.published) != 1 {
		t.Fatalf("published=%d want 1 after replay", len(bus.published))
	}
	if len(store.batches) != 1 {
		t.Fatalf("batches=%d want 1, empty batches must not hit the store", len(store.batches))
	}
}
