package learning

import (
	"context"

	"tokenfolio/internal/position"
)

// Minimum samples before a learned weight is trusted over neutral.
const minSamplesForWeight = 3

// SizingWeight returns the learned coefficient multiplier for a position's
// context, in [WeightMin, WeightMax]. Any store failure falls back to the
// neutral 1.0 rather than blocking the planner.
func (e *Engine) SizingWeight(ctx context.Context, ectx position.EntryContext, tf position.Timeframe) float64 {
	dims := factorDimensions(ectx, tf)
	if len(dims) == 0 {
		return 1.0
	}

	// Prefer the interaction coefficient: it captures the full context and
	// the bleed mechanism keeps the factors from double-counting it.
	inter, err := e.store.Get(ctx, Key{ModuleDecision, KindInteraction, "combo", interactionValue(dims)})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Coefficient store unavailable, using neutral weight")
		return 1.0
	}
	if inter != nil && inter.N >= minSamplesForWeight {
		return clampWeight(inter.Weight)
	}

	// Fall back to the mean of the factor weights that have enough samples.
	sum := 0.0
	count := 0
	for dim, value := range dims {
		rec, err := e.store.Get(ctx, Key{ModuleDecision, KindFactor, dim, value})
		if err != nil {
			e.logger.Warn().Err(err).Msg("Coefficient store unavailable, using neutral weight")
			return 1.0
		}
		if rec != nil && rec.N >= minSamplesForWeight {
			sum += rec.Weight
			count++
		}
	}
	if count == 0 {
		return 1.0
	}
	return clampWeight(sum / float64(count))
}

func clampWeight(w float64) float64 {
	if w < WeightMin {
		return WeightMin
	}
	if w > WeightMax {
		return WeightMax
	}
	return w
}
