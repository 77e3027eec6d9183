package events

import (
	"fmt"
	"testing"
)

func TestPublishClosureFansOut(t *testing.T) {
	bus := NewBus()
	var first, second int
	bus.SubscribeClosure(func(ClosureEvent) { first++ })
	bus.SubscribeClosure(func(ClosureEvent) { second++ })

	if !bus.PublishClosure(ClosureEvent{ID: "t1"}) {
		t.Fatal("first publish must deliver")
	}
	if first != 1 || second != 1 {
		t.Errorf("handler counts = (%d, %d), want (1, 1)", first, second)
	}
}

func TestPublishClosureAtMostOnce(t *testing.T) {
	bus := NewBus()
	delivered := 0
	bus.SubscribeClosure(func(ClosureEvent) { delivered++ })

	bus.PublishClosure(ClosureEvent{ID: "t1"})
	if bus.PublishClosure(ClosureEvent{ID: "t1"}) {
		t.Error("duplicate trade ID must be rejected")
	}
	if delivered != 1 {
		t.Errorf("delivered %d times, want 1", delivered)
	}
	if !bus.Delivered("t1") {
		t.Error("Delivered must report the published trade")
	}
	if bus.Delivered("t2") {
		t.Error("Delivered must not report unknown trades")
	}
}

func TestPublishClosureSetsEmittedAt(t *testing.T) {
	bus := NewBus()
	var got ClosureEvent
	bus.SubscribeClosure(func(ev ClosureEvent) { got = ev })

	bus.PublishClosure(ClosureEvent{ID: "t1"})
	if got.EmittedAt.IsZero() {
		t.Error("EmittedAt not stamped on publish")
	}
}

func TestDedupeSetBounded(t *testing.T) {
	bus := NewBus()
	bus.maxDelivered = 3

	for i := 0; i < 5; i++ {
		bus.PublishClosure(ClosureEvent{ID: fmt.Sprintf("t%d", i)})
	}

	// Oldest entries fall out FIFO; a republish of an evicted ID delivers again.
	if bus.Delivered("t0") {
		t.Error("t0 should have been evicted")
	}
	if !bus.Delivered("t4") {
		t.Error("t4 should still be tracked")
	}
	if !bus.PublishClosure(ClosureEvent{ID: "t0"}) {
		t.Error("evicted ID must be deliverable again")
	}
}
