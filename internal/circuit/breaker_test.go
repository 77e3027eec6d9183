package circuit

import (
	"errors"
	"testing"
	"time"
)

func testBreaker(cooldownSecs int) *Breaker {
	return NewBreaker(Config{
		Enabled:             true,
		MaxConsecutiveFails: 5,
		CooldownSeconds:     cooldownSecs,
	})
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := testBreaker(120)
	errExec := errors.New("rpc timeout")

	for i := 0; i < 4; i++ {
		b.RecordFailure("solana", errExec)
	}
	if b.State("solana") != StateClosed {
		t.Fatalf("state after 4 failures = %s, want closed", b.State("solana"))
	}
	if ok, _ := b.Allow("solana"); !ok {
		t.Error("closed breaker must allow")
	}

	b.RecordFailure("solana", errExec)
	if b.State("solana") != StateOpen {
		t.Fatalf("state after 5 failures = %s, want open", b.State("solana"))
	}
	ok, reason := b.Allow("solana")
	if ok {
		t.Error("open breaker must deny")
	}
	if reason == "" {
		t.Error("denial must carry a reason")
	}
}

func TestBreakerChainsIndependent(t *testing.T) {
	b := testBreaker(120)
	for i := 0; i < 5; i++ {
		b.RecordFailure("solana", errors.New("down"))
	}

	if ok, _ := b.Allow("base"); !ok {
		t.Error("failures on one chain must not trip another")
	}
	if b.State("base") != StateClosed {
		t.Errorf("untouched chain state = %s, want closed", b.State("base"))
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := testBreaker(0) // NewBreaker replaces 0 with the default
	b.config.CooldownSeconds = 1
	for i := 0; i < 5; i++ {
		b.RecordFailure("solana", errors.New("down"))
	}

	// Force the trip time into the past instead of sleeping through a cooldown.
	b.mu.Lock()
	b.chains["solana"].lastTripTime = time.Now().Add(-2 * time.Second)
	b.mu.Unlock()

	ok, _ := b.Allow("solana")
	if !ok {
		t.Fatal("expired cooldown must allow a probe")
	}
	if b.State("solana") != StateHalfOpen {
		t.Fatalf("state after probe grant = %s, want half_open", b.State("solana"))
	}

	// A single failure while half-open re-opens immediately.
	b.RecordFailure("solana", errors.New("still down"))
	if b.State("solana") != StateOpen {
		t.Errorf("state after half-open failure = %s, want open", b.State("solana"))
	}
	if ok, _ := b.Allow("solana"); ok {
		t.Error("re-opened breaker must deny")
	}
}

func TestBreakerSuccessCloses(t *testing.T) {
	b := testBreaker(120)
	for i := 0; i < 5; i++ {
		b.RecordFailure("solana", errors.New("down"))
	}

	b.RecordSuccess("solana")
	if b.State("solana") != StateClosed {
		t.Fatalf("state after success = %s, want closed", b.State("solana"))
	}
	// Failure count resets; one new failure does not re-trip.
	b.RecordFailure("solana", errors.New("blip"))
	if b.State("solana") != StateClosed {
		t.Error("single failure after recovery must not trip")
	}
}

func TestBreakerDisabled(t *testing.T) {
	b := NewBreaker(Config{Enabled: false, MaxConsecutiveFails: 1, CooldownSeconds: 1})
	b.RecordFailure("solana", errors.New("down"))
	b.RecordFailure("solana", errors.New("down"))
	if ok, _ := b.Allow("solana"); !ok {
		t.Error("disabled breaker must always allow")
	}
}

func TestBreakerOnTripCallback(t *testing.T) {
	b := testBreaker(120)
	tripped := make(chan string, 1)
	b.OnTrip(func(chain, _ string) { tripped <- chain })

	for i := 0; i < 5; i++ {
		b.RecordFailure("solana", errors.New("down"))
	}

	select {
	case chain := <-tripped:
		if chain != "solana" {
			t.Errorf("trip callback chain = %s, want solana", chain)
		}
	case <-time.After(time.Second):
		t.Error("trip callback not invoked")
	}
}
