// Package decision turns trend signals plus learned multipliers into at most
// one action per position per tick. The planner holds no state of its own:
// every gate reads the position's execution ledger, so replanning from the
// same inputs always yields the same output.
package decision

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"tokenfolio/internal/position"
	"tokenfolio/internal/signals"
)

// Reason codes attached to actions. Machine-checkable; logged and persisted.
const (
	ReasonOverrideExit   = "override_exit"
	ReasonS3Emergency    = "s3_emergency_exit"
	ReasonTrimFirst      = "trim_first"
	ReasonTrimCooldown   = "trim_cooldown_elapsed"
	ReasonTrimLevelMoved = "trim_level_changed"
	ReasonFirstS1Entry   = "first_s1_entry"
	ReasonRetestEntry    = "retest_entry"
	ReasonDipEntry       = "dip_entry"
	ReasonReclaimEntry   = "reclaim_entry"
	ReasonStateChanged   = "state_changed_rearm"
	ReasonTrimRearm      = "trim_since_last_fire"
)

// Action is the planner's output: what to do, how much, and why.
type Action struct {
	Type         position.ActionType     `json:"type"`
	Category     position.SignalCategory `json:"category"`
	Signal       string                  `json:"signal"`
	SizeFraction float64                 `json:"size_fraction"`
	Reasons      []string                `json:"reasons"`
}

// LearnedSizing carries the multipliers learned from completed trades.
// Neutral (all 1.0) when the coefficient store or edge aggregator is
// unavailable, so a storage outage degrades sizing instead of blocking it.
type LearnedSizing struct {
	CoefficientWeight float64 `json:"coefficient_weight"` // [0.5, 2.0]
	PatternStrength   float64 `json:"pattern_strength"`
	ExposureSkew      float64 `json:"exposure_skew"` // [0.33, 1.33]
}

// NeutralSizing returns the fallback multipliers.
func NeutralSizing() LearnedSizing {
	return LearnedSizing{CoefficientWeight: 1.0, PatternStrength: 1.0, ExposureSkew: 1.0}
}

// entryScale combines the learned multipliers applied to entry sizes.
func (ls LearnedSizing) entryScale() float64 {
	strength := ls.PatternStrength
	if strength < 0.3 {
		strength = 0.3
	} else if strength > 3.0 {
		strength = 3.0
	}
	return ls.CoefficientWeight * strength * ls.ExposureSkew
}

// Planner evaluates the precedence ladder for one position.
type Planner struct {
	logger           zerolog.Logger
	trimCooldownBars int
}

// NewPlanner creates a decision planner. cooldownBars <= 0 uses the default of 3.
func NewPlanner(logger zerolog.Logger, cooldownBars int) *Planner {
	if cooldownBars <= 0 {
		cooldownBars = 3
	}
	return &Planner{
		logger:           logger.With().Str("component", "DecisionPlanner").Logger(),
		trimCooldownBars: cooldownBars,
	}
}

// Plan evaluates the precedence ladder and returns at most one action, or nil
// for a silent hold. Rules are evaluated in order; the first match wins.
func (p *Planner) Plan(pos *position.Position, snap *signals.Snapshot, ls LearnedSizing, now time.Time) *Action {
	if pos == nil || !pos.Tradeable() {
		return nil
	}
	if snap == nil || snap.Validate() != nil {
		// Malformed payload is a hold; the feed already logged the drop.
		return nil
	}

	holding := pos.TotalQuantity > 0
	entryMult, trimMult := profitMultipliers(pos.TotalExtracted, pos.TotalInvestment, pos.AllocationCap)

	// Every add is sized against remaining cap headroom: the allocation cap
	// is a ceiling on cumulative deployment, not just a unit for fractions.
	headroom := headroomFraction(pos)

	// 1. Global override exit.
	if snap.OverrideExit && holding {
		return &Action{
			Type:         position.ActionEmergencyExit,
			Category:     position.CategoryTrim,
			Signal:       "override_exit",
			SizeFraction: 1.0,
			Reasons:      []string{ReasonOverrideExit},
		}
	}

	// 2. S3 emergency exit.
	if snap.State == position.StateS3 && snap.EmergencyExit && holding {
		return &Action{
			Type:         position.ActionEmergencyExit,
			Category:     position.CategoryTrim,
			Signal:       "s3_emergency",
			SizeFraction: 1.0,
			Reasons:      []string{ReasonS3Emergency},
		}
	}

	// 3. Trim, gated by the cooldown.
	if snap.Trim && holding {
		if ok, reason := p.trimAllowed(pos, snap, now); ok {
			size := clampFraction(baseTrimSize(snap.ExitScore) * trimMult)
			return &Action{
				Type:         position.ActionTrim,
				Category:     position.CategoryTrim,
				Signal:       "trim",
				SizeFraction: size,
				Reasons:      []string{reason},
			}
		}
		// A blocked trim falls through to nothing: entry flags never fire on
		// the same tick a trim was requested.
		return nil
	}

	// 4. One-time initial entry in S1.
	if snap.InitialEntry && snap.State == position.StateS1 {
		if pos.History.Entry(position.CategoryFirstEntry) == nil {
			size := math.Min(clampFraction(baseEntrySize(snap.EntryScore, position.CategoryFirstEntry)*entryMult*ls.entryScale()), headroom)
			if size > 0 {
				return &Action{
					Type:         position.ActionAdd,
					Category:     position.CategoryFirstEntry,
					Signal:       "initial_entry",
					SizeFraction: size,
					Reasons:      []string{ReasonFirstS1Entry},
				}
			}
		}
	}

	// 5. Retest / dip add-ons in S2/S3.
	if snap.State == position.StateS2 || snap.State == position.StateS3 {
		if snap.RetestEntry {
			if act := p.planAddOn(pos, snap, position.CategoryRetestEntry, "retest_entry", ReasonRetestEntry, entryMult, headroom, ls); act != nil {
				return act
			}
		}
		if snap.DipEntry {
			if act := p.planAddOn(pos, snap, position.CategoryDipEntry, "dip_entry", ReasonDipEntry, entryMult, headroom, ls); act != nil {
				return act
			}
		}
	}

	// 6. Reclaim in S3, one-time per reclaim event.
	if snap.Reclaim && snap.State == position.StateS3 && !snap.ReclaimAt.IsZero() {
		prev := pos.History.Entry(position.CategoryReclaimEntry)
		if prev == nil || !prev.EventAt.Equal(snap.ReclaimAt) {
			size := math.Min(clampFraction(baseEntrySize(snap.EntryScore, position.CategoryReclaimEntry)*entryMult*ls.entryScale()), headroom)
			if size > 0 {
				return &Action{
					Type:         position.ActionAdd,
					Category:     position.CategoryReclaimEntry,
					Signal:       "reclaim",
					SizeFraction: size,
					Reasons:      []string{ReasonReclaimEntry},
				}
			}
		}
	}

	return nil
}

// trimAllowed evaluates the trim cooldown: allowed when the position never
// trimmed, when at least trimCooldownBars bars elapsed since the last trim,
// or when price sits at a different support level than at the last trim.
func (p *Planner) trimAllowed(pos *position.Position, snap *signals.Snapshot, now time.Time) (bool, string) {
	last := pos.History.LastTrim()
	if last == nil {
		return true, ReasonTrimFirst
	}

	cooldown := time.Duration(p.trimCooldownBars) * pos.Timeframe.BarDuration()
	if now.Sub(last.ExecutedAt) >= cooldown {
		return true, ReasonTrimCooldown
	}

	if !sameLevel(last.SupportLevel, snap.SupportLevel) {
		return true, ReasonTrimLevelMoved
	}

	return false, ""
}

// planAddOn applies the re-arm rules for S2/S3 add-on entries: eligible when
// never fired in this state, when a trim happened since the last fire, or
// when the state changed since the previous tick.
func (p *Planner) planAddOn(pos *position.Position, snap *signals.Snapshot, cat position.SignalCategory, signal, reason string, entryMult, headroom float64, ls LearnedSizing) *Action {
	prev := pos.History.Entry(cat)
	armed := false
	why := reason

	switch {
	case prev == nil:
		armed = true
	case prev.State != snap.State:
		armed = true
	case pos.History.PrevState != snap.State:
		armed = true
		why = ReasonStateChanged
	default:
		if trim := pos.History.LastTrim(); trim != nil && trim.ExecutedAt.After(prev.ExecutedAt) {
			armed = true
			why = ReasonTrimRearm
		}
	}
	if !armed {
		return nil
	}

	size := math.Min(clampFraction(baseEntrySize(snap.EntryScore, cat)*entryMult*ls.entryScale()), headroom)
	if size <= 0 {
		return nil
	}
	reasons := []string{reason}
	if why != reason {
		reasons = append(reasons, why)
	}
	return &Action{
		Type:         position.ActionAdd,
		Category:     cat,
		Signal:       signal,
		SizeFraction: size,
		Reasons:      reasons,
	}
}

// sameLevel compares two support/resistance level prices.
func sameLevel(a, b float64) bool {
	if a == 0 || b == 0 {
		return a == b
	}
	return math.Abs(a-b) <= math.Abs(a)*1e-9
}
