// Package learning updates performance coefficients from completed trades.
// Each closure event moves per-dimension and interaction coefficients through
// a double-horizon temporally-decayed EWMA; the resulting weights feed the
// decision planner's sizing on the next cycle.
package learning

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tokenfolio/internal/events"
)

// Importance-bleed parameters: when the interaction coefficient already
// captures a signal, overlapping single-factor weights shrink toward neutral.
const (
	bleedThreshold = 0.1
	bleedAlpha     = 0.2
)

// Engine consumes closure events and updates the coefficient store.
type Engine struct {
	store  Store
	logger zerolog.Logger

	mu        sync.Mutex
	seen      map[string]struct{} // processed trade IDs; enforces at-most-once
	seenOrder []string
	seenLimit int
}

// NewEngine creates a coefficient learning engine.
func NewEngine(store Store, logger zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		logger:    logger.With().Str("component", "LearningEngine").Logger(),
		seen:      make(map[string]struct{}),
		seenLimit: 10000,
	}
}

// HandleClosure is the event-bus subscription point. Errors are logged and
// contained; a failed update is skipped, not retried, because a replay would
// double-count the trade.
func (e *Engine) HandleClosure(ev events.ClosureEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.ProcessTrade(ctx, ev); err != nil {
		e.logger.Error().
			Err(err).
			Str("trade_id", ev.ID).
			Str("position_id", ev.PositionID).
			Msg("Coefficient update failed")
	}
}

// ProcessTrade applies one closed trade to every applicable coefficient.
// Trades without an R/R measurement are excluded from learning entirely.
func (e *Engine) ProcessTrade(ctx context.Context, ev events.ClosureEvent) error {
	if !ev.Trade.HasRiskReward {
		e.logger.Debug().Str("trade_id", ev.ID).Msg("Skipping trade without R/R")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.seen[ev.ID]; dup {
		e.logger.Warn().Str("trade_id", ev.ID).Msg("Duplicate closure event ignored")
		return nil
	}

	now := ev.Trade.ExitAt
	if now.IsZero() {
		now = time.Now()
	}
	rr := ev.Trade.RiskReward

	// Read the baseline before this trade moves it; weights for this trade
	// compare against the world as it was when the trade closed.
	globalShort := e.globalShort(ctx)

	dims := factorDimensions(ev.Context, ev.Timeframe)
	if len(dims) == 0 {
		return fmt.Errorf("trade %s has no usable context dimensions", ev.ID)
	}

	factorRecs := make([]*Record, 0, len(dims))
	for dim, value := range dims {
		rec, err := e.updateKey(ctx, Key{ModuleDecision, KindFactor, dim, value}, rr, globalShort, now)
		if err != nil {
			return fmt.Errorf("factor %s=%s: %w", dim, value, err)
		}
		factorRecs = append(factorRecs, rec)
	}

	interRec, err := e.updateKey(ctx, Key{ModuleDecision, KindInteraction, "combo", interactionValue(dims)}, rr, globalShort, now)
	if err != nil {
		return fmt.Errorf("interaction: %w", err)
	}

	// Importance bleed: a signal the interaction already carries must not be
	// double-counted by its single factors.
	if math.Abs(interRec.Weight-1.0) >= bleedThreshold {
		for _, rec := range factorRecs {
			rec.Weight = rec.Weight + bleedAlpha*(1.0-rec.Weight)
			if err := e.store.Upsert(ctx, rec); err != nil {
				return fmt.Errorf("bleed %s: %w", rec.Key.String(), err)
			}
		}
	}

	if err := e.updateBaseline(ctx, rr, now); err != nil {
		return fmt.Errorf("baseline: %w", err)
	}

	e.markSeen(ev.ID)

	e.logger.Info().
		Str("trade_id", ev.ID).
		Float64("rr", rr).
		Int("factors", len(factorRecs)).
		Float64("interaction_weight", interRec.Weight).
		Msg("Coefficients updated from closed trade")
	return nil
}

// updateKey applies the double-horizon EWMA to one key and recomputes its weight.
func (e *Engine) updateKey(ctx context.Context, key Key, rr, globalShort float64, now time.Time) (*Record, error) {
	rec, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &Record{Key: key, RRShort: rr, RRLong: rr, N: 1, UpdatedAt: now}
	} else {
		applyEWMA(rec, rr, now)
	}

	rec.Weight = weightFor(rec.RRShort, globalShort)

	if err := e.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// updateBaseline moves the global R/R baseline with the same EWMA mechanism.
func (e *Engine) updateBaseline(ctx context.Context, rr float64, now time.Time) error {
	key := Key{ModuleDecision, KindBaseline, "global", "rr"}
	rec, err := e.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{Key: key, RRShort: rr, RRLong: rr, Weight: 1.0, N: 1, UpdatedAt: now}
	} else {
		applyEWMA(rec, rr, now)
		rec.Weight = 1.0 // the baseline is a reference, never a multiplier
	}
	return e.store.Upsert(ctx, rec)
}

func (e *Engine) globalShort(ctx context.Context) float64 {
	rec, err := e.store.Get(ctx, Key{ModuleDecision, KindBaseline, "global", "rr"})
	if err != nil || rec == nil {
		return 0
	}
	return rec.RRShort
}

func (e *Engine) markSeen(tradeID string) {
	e.seen[tradeID] = struct{}{}
	e.seenOrder = append(e.seenOrder, tradeID)
	if len(e.seenOrder) > e.seenLimit {
		delete(e.seen, e.seenOrder[0])
		e.seenOrder = e.seenOrder[1:]
	}
}

// applyEWMA folds one observation into both horizons:
//
//	decay(τ) = exp(-Δt_days/τ)
//	α(τ)     = decay(τ) / (decay(τ) + 1)
//	rr'      = (1-α)·rr + α·sample
func applyEWMA(rec *Record, rr float64, now time.Time) {
	dtDays := now.Sub(rec.UpdatedAt).Hours() / 24
	if dtDays < 0 {
		dtDays = 0
	}
	rec.RRShort = ewmaStep(rec.RRShort, rr, dtDays, TauShortDays)
	rec.RRLong = ewmaStep(rec.RRLong, rr, dtDays, TauLongDays)
	rec.N++
	rec.UpdatedAt = now
}

func ewmaStep(old, sample, dtDays, tau float64) float64 {
	decay := math.Exp(-dtDays / tau)
	alpha := decay / (decay + 1)
	return (1-alpha)*old + alpha*sample
}

// DecayWeight exposes the raw temporal decay factor for a horizon.
func DecayWeight(dtDays, tau float64) float64 {
	return math.Exp(-dtDays / tau)
}

// weightFor derives the clamped sizing weight from a key's short-horizon R/R
// relative to the global baseline. A non-positive baseline yields neutral.
func weightFor(rrShort, globalShort float64) float64 {
	if globalShort <= 0 {
		return 1.0
	}
	w := rrShort / globalShort
	if w < WeightMin {
		return WeightMin
	}
	if w > WeightMax {
		return WeightMax
	}
	return w
}
