// Package circuit guards the external executor: repeated failures on a chain
// open the breaker and suppress further execution attempts until a cooldown
// passes, so a dead RPC endpoint cannot burn every tick on timeouts.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state for one chain.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // normal operation
	StateOpen     BreakerState = "open"      // executions suppressed
	StateHalfOpen BreakerState = "half_open" // probing recovery with one attempt
)

// Config holds breaker thresholds.
type Config struct {
	Enabled             bool `json:"enabled"`
	MaxConsecutiveFails int  `json:"max_consecutive_fails"`
	CooldownSeconds     int  `json:"cooldown_seconds"`
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MaxConsecutiveFails: 5,
		CooldownSeconds:     120,
	}
}

type chainState struct {
	state            BreakerState
	consecutiveFails int
	lastTripTime     time.Time
	tripReason       string
}

// Breaker tracks executor health independently per chain.
type Breaker struct {
	mu     sync.RWMutex
	config Config
	chains map[string]*chainState
	onTrip func(chain, reason string)
}

// NewBreaker creates an executor circuit breaker.
func NewBreaker(config Config) *Breaker {
	if config.MaxConsecutiveFails <= 0 {
		config.MaxConsecutiveFails = DefaultConfig().MaxConsecutiveFails
	}
	if config.CooldownSeconds <= 0 {
		config.CooldownSeconds = DefaultConfig().CooldownSeconds
	}
	return &Breaker{
		config: config,
		chains: make(map[string]*chainState),
	}
}

// OnTrip sets the callback invoked when a chain's breaker opens.
func (b *Breaker) OnTrip(handler func(chain, reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// Allow reports whether an execution attempt on the chain may proceed.
func (b *Breaker) Allow(chain string) (bool, string) {
	if !b.config.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cs := b.chainFor(chain)
	if cs.state == StateOpen {
		cooldown := time.Duration(b.config.CooldownSeconds) * time.Second
		elapsed := time.Since(cs.lastTripTime)
		if elapsed < cooldown {
			return false, fmt.Sprintf("breaker open for %s, cooldown remaining %v (reason: %s)",
				chain, (cooldown - elapsed).Round(time.Second), cs.tripReason)
		}
		cs.state = StateHalfOpen
	}
	return true, ""
}

// RecordSuccess closes the chain's breaker after a successful execution.
func (b *Breaker) RecordSuccess(chain string) {
	if !b.config.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cs := b.chainFor(chain)
	cs.consecutiveFails = 0
	cs.state = StateClosed
	cs.tripReason = ""
}

// RecordFailure counts a failed execution and trips the breaker when the
// threshold is reached. A failure while half-open re-opens immediately.
func (b *Breaker) RecordFailure(chain string, err error) {
	if !b.config.Enabled {
		return
	}
	b.mu.Lock()

	cs := b.chainFor(chain)
	cs.consecutiveFails++

	var tripped bool
	var reason string
	if cs.state == StateHalfOpen || cs.consecutiveFails >= b.config.MaxConsecutiveFails {
		reason = fmt.Sprintf("%d consecutive failures, last: %v", cs.consecutiveFails, err)
		cs.state = StateOpen
		cs.lastTripTime = time.Now()
		cs.tripReason = reason
		tripped = true
	}
	onTrip := b.onTrip
	b.mu.Unlock()

	if tripped && onTrip != nil {
		go onTrip(chain, reason)
	}
}

// State returns the breaker state for a chain.
func (b *Breaker) State(chain string) BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cs, ok := b.chains[chain]; ok {
		return cs.state
	}
	return StateClosed
}

// Stats returns per-chain breaker statistics for the API.
func (b *Breaker) Stats() map[string]map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]map[string]interface{}, len(b.chains))
	for chain, cs := range b.chains {
		out[chain] = map[string]interface{}{
			"state":             string(cs.state),
			"consecutive_fails": cs.consecutiveFails,
			"trip_reason":       cs.tripReason,
			"last_trip_time":    cs.lastTripTime,
		}
	}
	return out
}

// caller holds b.mu
func (b *Breaker) chainFor(chain string) *chainState {
	cs, ok := b.chains[chain]
	if !ok {
		cs = &chainState{state: StateClosed}
		b.chains[chain] = cs
	}
	return cs
}
