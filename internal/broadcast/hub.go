package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"whalescope/internal/config"
	"whalescope/internal/models"
	"whalescope/internal/telemetry"
)

const sinkBuffer = 64

// Sink is one subscriber's buffered event queue. A slow consumer loses
// events rather than backpressuring the ingest path.
type Sink struct {
	C  chan models.LiveEvent
	id uint64
}

// Hub fans significance-gated events out to live subscribers.
type Hub struct {
	mu         sync.RWMutex
	sinks      map[uint64]*Sink
	nextID     uint64
	thresholds config.EventThresholds
}

func NewHub(thresholds config.EventThresholds) *Hub {
	return &Hub{sinks: make(map[uint64]*Sink), thresholds: thresholds}
}

func (h *Hub) Subscribe() *Sink {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Sink{C: make(chan models.LiveEvent, sinkBuffer), id: h.nextID}
	h.sinks[s.id] = s
	return s
}

func (h *Hub) Unsubscribe(s *Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sinks[s.id]; ok {
		delete(h.sinks, s.id)
		close(s.C)
	}
}

// SubscriberCount reports active sinks.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Publish delivers an event to every sink, dropping on full buffers.
// Events below the per-type significance threshold are discarded.
func (h *Hub) Publish(ctx context.Context, whale *models.Whale, ev models.Event) {
	value := 0.0
	if ev.ValueUSD != nil {
		value = *ev.ValueUSD
	}
	if value < h.thresholds.ForType(ev.Type) {
		return
	}

	frame := models.LiveEvent{
		ID:        fmt.Sprintf("%d", ev.ID),
		Timestamp: ev.Timestamp,
		Chain:     whale.ChainSlug,
		Type:      ev.Type,
		Wallet: models.LiveEventWallet{
			Address: whale.Address,
			Chain:   whale.ChainSlug,
		},
		Summary:  ev.Summary,
		ValueUSD: value,
		Details:  ev.Details,
	}
	if len(whale.Labels) > 0 {
		frame.Wallet.Label = whale.Labels[0]
	}
	if ev.TxHash != nil {
		frame.TxHash = *ev.TxHash
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sinks {
		select {
		case s.C <- frame:
			telemetry.BroadcastDelivered.Inc()
		default:
			telemetry.BroadcastDropped.Inc()
			log.Debug().Str("type", ev.Type).Msg("dropped event for slow subscriber")
		}
	}
}
