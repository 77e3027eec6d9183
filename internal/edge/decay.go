package edge

import (
	"math"
	"time"
)

// Decay states for a scope's edge trajectory.
const (
	DecayImproving = "improving"
	DecayDecaying  = "decaying"
	DecayStable    = "stable"
)

// A fit needs this many time-stamped snapshots before it is trusted.
const minFitSnapshots = 18

// Slope smaller than this (edge units per day) counts as stable.
const slopeEpsilon = 0.002

// Bounds on the decay sizing multiplier.
const (
	DecayMultiplierMin = 0.33
	DecayMultiplierMax = 1.33
)

// Slope-to-multiplier scale: a slope sustained over roughly a month moves the
// multiplier by its full range.
const slopeScaleDays = 30.0

// Descriptor summarizes the fitted decay curve for one scope.
type Descriptor struct {
	Slope        float64   `json:"slope"`          // linear edge change per day
	Rate         float64   `json:"rate"`           // exponential rate per day (negative = decaying)
	HalfLifeDays float64   `json:"half_life_days"` // 0 when not decaying
	State        string    `json:"state"`
	Multiplier   float64   `json:"multiplier"` // bounded sizing multiplier
	FittedAt     time.Time `json:"fitted_at"`
}

// FitDecay fits linear and exponential trends to an edge time series and
// classifies it. Series shorter than the minimum yield a neutral stable
// descriptor.
func FitDecay(series []Snapshot) Descriptor {
	d := Descriptor{State: DecayStable, Multiplier: 1.0}
	if len(series) < minFitSnapshots {
		return d
	}

	origin := series[0].At
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, s := range series {
		xs[i] = s.At.Sub(origin).Hours() / 24
		ys[i] = s.Edge
	}

	slope, ok := linearSlope(xs, ys)
	if !ok {
		return d
	}
	d.Slope = slope

	// Exponential rate from the log-linear fit over positive edges.
	logXs := make([]float64, 0, len(series))
	logYs := make([]float64, 0, len(series))
	for i, y := range ys {
		if y > 1e-9 {
			logXs = append(logXs, xs[i])
			logYs = append(logYs, math.Log(y))
		}
	}
	if len(logYs) >= minFitSnapshots/2 {
		if rate, ok := linearSlope(logXs, logYs); ok {
			d.Rate = rate
			if rate < 0 {
				d.HalfLifeDays = math.Ln2 / -rate
			}
		}
	}

	switch {
	case slope > slopeEpsilon:
		d.State = DecayImproving
	case slope < -slopeEpsilon:
		d.State = DecayDecaying
	default:
		d.State = DecayStable
	}

	d.Multiplier = multiplierFor(d.State, slope)
	d.FittedAt = series[len(series)-1].At
	return d
}

// multiplierFor maps the fitted slope into the bounded sizing multiplier.
func multiplierFor(state string, slope float64) float64 {
	if state == DecayStable {
		return 1.0
	}
	m := 1.0 + slope*slopeScaleDays
	if m < DecayMultiplierMin {
		return DecayMultiplierMin
	}
	if m > DecayMultiplierMax {
		return DecayMultiplierMax
	}
	return m
}

// linearSlope returns the least-squares slope of y over x.
func linearSlope(xs, ys []float64) (float64, bool) {
	n := float64(len(xs))
	if n < 2 {
		return 0, false
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-12 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / denom, true
}
