package edge

import (
	"sync"

	"tokenfolio/internal/position"
)

// Exposure skew bounds.
const (
	SkewMin = 0.33
	SkewMax = 1.33
)

// ExposureTracker derives a sizing multiplier from current portfolio
// concentration: crowded scopes size down, under-allocated scopes size up.
type ExposureTracker struct {
	mu       sync.RWMutex
	shares   map[string]float64 // signature -> fraction of total active allocation
	totalUSD float64
}

// NewExposureTracker creates an empty tracker.
func NewExposureTracker() *ExposureTracker {
	return &ExposureTracker{shares: make(map[string]float64)}
}

// Update recomputes scope allocation shares from the currently active
// positions. Called once per tick by the engine.
func (t *ExposureTracker) Update(active []*position.Position) {
	totals := make(map[string]float64)
	totalUSD := 0.0

	for _, pos := range active {
		deployed := pos.TotalInvestment - pos.TotalExtracted
		if deployed <= 0 {
			continue
		}
		totalUSD += deployed
		dims := contextDims(pos.Context, pos.Timeframe)
		for _, mask := range scopeMasks {
			if len(mask) == 0 {
				continue // global scope is always 100% concentrated
			}
			sig := signatureFor(dims, mask)
			if sig == "" {
				continue
			}
			totals[sig] += deployed
		}
	}

	shares := make(map[string]float64, len(totals))
	if totalUSD > 0 {
		for sig, usd := range totals {
			shares[sig] = usd / totalUSD
		}
	}

	t.mu.Lock()
	t.shares = shares
	t.totalUSD = totalUSD
	t.mu.Unlock()
}

// Skew returns the exposure multiplier for a candidate context: inversely
// proportional to the share of active capital already deployed in its most
// concentrated matching scope.
func (t *ExposureTracker) Skew(ectx position.EntryContext, tf position.Timeframe) float64 {
	dims := contextDims(ectx, tf)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.totalUSD <= 0 {
		return 1.0 // empty portfolio, nothing to skew against
	}

	maxShare := 0.0
	for _, mask := range scopeMasks {
		if len(mask) == 0 {
			continue
		}
		sig := signatureFor(dims, mask)
		if sig == "" {
			continue
		}
		if share, ok := t.shares[sig]; ok && share > maxShare {
			maxShare = share
		}
	}

	skew := SkewMax - maxShare
	if skew < SkewMin {
		return SkewMin
	}
	if skew > SkewMax {
		return SkewMax
	}
	return skew
}
