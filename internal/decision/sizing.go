package decision

import (
	"tokenfolio/internal/position"
)

// Aggressiveness bands over the continuous entry/exit scores. Kept as a
// three-band lookup rather than a continuous function so every size a trade
// took can be traced back to one row of these tables.
type band int

const (
	bandPatient band = iota
	bandNormal
	bandAggressive
)

const (
	patientCeiling = 0.35
	normalCeiling  = 0.70
)

func bandFor(score float64) band {
	switch {
	case score < patientCeiling:
		return bandPatient
	case score < normalCeiling:
		return bandNormal
	default:
		return bandAggressive
	}
}

// Base entry sizes as a fraction of the allocation cap. Initial entries (S1)
// are the largest; add-ons in an established trend are deliberately smaller.
var initialEntrySize = map[band]float64{
	bandPatient:    0.25,
	bandNormal:     0.35,
	bandAggressive: 0.50,
}

var retestEntrySize = map[band]float64{
	bandPatient:    0.10,
	bandNormal:     0.15,
	bandAggressive: 0.25,
}

var dipEntrySize = map[band]float64{
	bandPatient:    0.12,
	bandNormal:     0.18,
	bandAggressive: 0.30,
}

// Base trim sizes as a fraction of current holdings.
var trimSize = map[band]float64{
	bandPatient:    0.20,
	bandNormal:     0.30,
	bandAggressive: 0.50,
}

// baseEntrySize returns the table size for an entry of the given category.
func baseEntrySize(entryScore float64, cat position.SignalCategory) float64 {
	b := bandFor(entryScore)
	switch cat {
	case position.CategoryFirstEntry:
		return initialEntrySize[b]
	case position.CategoryDipEntry:
		return dipEntrySize[b]
	default: // retest and reclaim share the add-on table
		return retestEntrySize[b]
	}
}

// baseTrimSize returns the table size for a trim at the given exit score.
func baseTrimSize(exitScore float64) float64 {
	return trimSize[bandFor(exitScore)]
}

// profitMultipliers returns the entry and trim multipliers for the position's
// realized profit band. Heavily profitable positions add smaller and trim
// larger; underwater positions the reverse. A fixed lookup keeps the behavior
// auditable.
func profitMultipliers(extracted, invested, cap float64) (entryMult, trimMult float64) {
	if cap <= 0 {
		return 1.0, 1.0
	}
	if invested == 0 && extracted == 0 {
		// Fresh cycle; nothing realized yet to bias against.
		return 1.0, 1.0
	}
	net := (extracted - invested) / cap
	switch {
	case net >= 0.50:
		return 0.50, 1.30
	case net >= 0.25:
		return 0.70, 1.15
	case net >= 0:
		return 0.85, 1.00
	case net >= -0.25:
		return 1.00, 0.90
	default:
		return 1.15, 0.80
	}
}

// headroomFraction returns the largest additional entry fraction the
// allocation cap still allows: cap minus what the current cycle has net
// deployed, as a fraction of the cap. Zero when the cap is exhausted.
func headroomFraction(pos *position.Position) float64 {
	if pos.AllocationCap <= 0 {
		return 0
	}
	deployed := pos.TotalInvestment - pos.TotalExtracted
	if deployed <= 0 {
		return 1.0
	}
	return clampFraction((pos.AllocationCap - deployed) / pos.AllocationCap)
}

// clampFraction bounds a size fraction to (0, 1].
func clampFraction(f float64) float64 {
	if f > 1.0 {
		return 1.0
	}
	if f < 0 {
		return 0
	}
	return f
}
