// Package events carries closure notifications from the execution pipeline to
// the learning engine and edge aggregator. Delivery is synchronous inside the
// publishing position's pipeline and deduplicated by trade ID, giving the
// at-most-once guarantee the learners rely on.
package events

import (
	"sync"
	"time"

	"tokenfolio/internal/position"
)

// ClosureEvent is emitted exactly once when a position fully exits.
type ClosureEvent struct {
	ID         string                  `json:"id"` // trade ID; also the idempotency key
	PositionID string                  `json:"position_id"`
	Token      string                  `json:"token"`
	Chain      string                  `json:"chain"`
	Timeframe  position.Timeframe      `json:"timeframe"`
	Context    position.EntryContext   `json:"context"`
	Trade      position.CompletedTrade `json:"trade"`
	EmittedAt  time.Time               `json:"emitted_at"`
}

// ClosureHandler consumes a closure event. Handlers run synchronously in the
// publishing pipeline; a slow handler slows only its own position's pipeline.
type ClosureHandler func(ClosureEvent)

// Bus fans closure events out to registered handlers at most once per trade.
type Bus struct {
	mu        sync.Mutex
	handlers  []ClosureHandler
	delivered map[string]struct{}

	// Bound on the dedupe set; oldest entries drop FIFO.
	maxDelivered int
	order        []string
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		delivered:    make(map[string]struct{}),
		maxDelivered: 10000,
	}
}

// SubscribeClosure registers a handler for closure events.
func (b *Bus) SubscribeClosure(h ClosureHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// PublishClosure delivers the event to all handlers unless the trade ID was
// already delivered. Returns false for duplicates.
func (b *Bus) PublishClosure(ev ClosureEvent) bool {
	b.mu.Lock()
	if _, dup := b.delivered[ev.ID]; dup {
		b.mu.Unlock()
		return false
	}
	b.delivered[ev.ID] = struct{}{}
	b.order = append(b.order, ev.ID)
	if len(b.order) > b.maxDelivered {
		delete(b.delivered, b.order[0])
		b.order = b.order[1:]
	}
	handlers := make([]ClosureHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now()
	}
	for _, h := range handlers {
		h(ev)
	}
	return true
}

// Delivered reports whether a trade ID has already been published.
func (b *Bus) Delivered(tradeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.delivered[tradeID]
	return ok
}
