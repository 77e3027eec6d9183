// Package closure detects full position exits and computes the realized
// risk/reward that feeds the learning loop.
package closure

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tokenfolio/internal/events"
	"tokenfolio/internal/position"
)

// R/R is clamped to this range regardless of input extremes.
const (
	RiskRewardMin = -10.0
	RiskRewardMax = 10.0
)

// PriceHistory answers extreme-finding queries over stored OHLC bars.
type PriceHistory interface {
	// Extremes returns the lowest low and highest high between from and to
	// for the position's timeframe. ok is false when no bars cover the range.
	Extremes(ctx context.Context, token, chain string, tf position.Timeframe, from, to time.Time) (low, high float64, ok bool, err error)
}

// Detector checks executed positions for full exits and emits closure events.
type Detector struct {
	history PriceHistory
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewDetector creates a closure detector.
func NewDetector(history PriceHistory, bus *events.Bus, logger zerolog.Logger) *Detector {
	return &Detector{
		history: history,
		bus:     bus,
		logger:  logger.With().Str("component", "ClosureDetector").Logger(),
	}
}

// Check inspects a position after an execution was applied. When the
// execution hinted at a full exit and holdings are zero, it computes R/R,
// closes the cycle, and publishes the closure event. Returns the completed
// trade, or nil when the position stays open.
//
// The holdings check is authoritative: a size_fraction of 1.0 that leaves
// dust behind (partial fill) does not close the trade.
func (d *Detector) Check(ctx context.Context, pos *position.Position, res position.ExecutionResult) (*position.CompletedTrade, error) {
	hinted := res.SizeFraction >= 1.0 || res.Action == position.ActionEmergencyExit
	if !hinted || pos.TotalQuantity != 0 {
		return nil, nil
	}
	if pos.Status != position.StatusActive {
		// Already closed or never opened; nothing to do.
		return nil, nil
	}

	entryPrice := pos.AverageEntryPrice()
	entryAt := pos.FirstEntryAt
	exitPrice := res.Price
	exitAt := res.ExecutedAt

	trade := position.CompletedTrade{
		ID:         uuid.NewString(),
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		EntryAt:    entryAt,
		ExitAt:     exitAt,
		Context:    pos.Context,
		ClosedBy:   res.Action,
	}

	low, high, ok, err := d.queryExtremes(ctx, pos, entryAt, exitAt)
	if err != nil || !ok || entryPrice <= 0 {
		// Trade still closes; it just carries no R/R and is excluded from
		// learning weighting.
		d.logger.Warn().
			Err(err).
			Str("position_id", pos.ID).
			Str("timeframe", string(pos.Timeframe)).
			Bool("bars_found", ok).
			Msg("Closing trade without R/R, price extremes unavailable")
	} else {
		ret, dd, gain, rr := Measure(entryPrice, exitPrice, low, high)
		trade.Return = ret
		trade.MaxDrawdown = dd
		trade.MaxGain = gain
		trade.RiskReward = rr
		trade.HasRiskReward = true
	}

	pos.CloseCycle(trade)

	d.logger.Info().
		Str("position_id", pos.ID).
		Str("token", pos.Token).
		Str("timeframe", string(pos.Timeframe)).
		Str("closed_by", string(res.Action)).
		Float64("return", trade.Return).
		Float64("risk_reward", trade.RiskReward).
		Bool("has_rr", trade.HasRiskReward).
		Msg("Position fully exited")

	if d.bus != nil {
		d.bus.PublishClosure(events.ClosureEvent{
			ID:         trade.ID,
			PositionID: pos.ID,
			Token:      pos.Token,
			Chain:      pos.Chain,
			Timeframe:  pos.Timeframe,
			Context:    pos.Context,
			Trade:      trade,
		})
	}

	return &trade, nil
}

func (d *Detector) queryExtremes(ctx context.Context, pos *position.Position, from, to time.Time) (float64, float64, bool, error) {
	if d.history == nil {
		return 0, 0, false, nil
	}
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return 0, 0, false, fmt.Errorf("invalid extreme range %v..%v", from, to)
	}
	return d.history.Extremes(ctx, pos.Token, pos.Chain, pos.Timeframe, from, to)
}

// Measure computes return, max drawdown, max gain, and clamped R/R from the
// entry/exit prices and the price extremes between them.
func Measure(entry, exit, low, high float64) (ret, maxDrawdown, maxGain, rr float64) {
	ret = (exit - entry) / entry
	maxDrawdown = (entry - low) / entry
	maxGain = (high - entry) / entry

	switch {
	case maxDrawdown > 0:
		rr = ret / maxDrawdown
	case ret > 0:
		rr = RiskRewardMax
	default:
		rr = 0
	}

	if rr > RiskRewardMax {
		rr = RiskRewardMax
	} else if rr < RiskRewardMin {
		rr = RiskRewardMin
	}
	return ret, maxDrawdown, maxGain, rr
}
