package edge

import (
	"testing"

	"tokenfolio/internal/position"
)

func deployedPosition(id, chain string, invested float64) *position.Position {
	pos := position.New(id, "TKN-"+id, chain, position.Timeframe1h, invested*2, position.EntryContext{
		Curator: "alpha-desk",
		Chain:   chain,
		Intent:  "momentum",
	})
	pos.TotalInvestment = invested
	return pos
}

func TestSkewEmptyPortfolio(t *testing.T) {
	tracker := NewExposureTracker()
	got := tracker.Skew(position.EntryContext{Chain: "solana"}, position.Timeframe1h)
	if got != 1.0 {
		t.Errorf("empty portfolio skew = %f, want 1.0", got)
	}
}

func TestSkewPenalizesConcentration(t *testing.T) {
	tracker := NewExposureTracker()
	tracker.Update([]*position.Position{
		deployedPosition("p1", "solana", 80),
		deployedPosition("p2", "base", 20),
	})

	crowded := tracker.Skew(position.EntryContext{Chain: "solana"}, position.Timeframe1h)
	if !floatEquals(crowded, SkewMax-0.8) {
		t.Errorf("crowded chain skew = %f, want %f", crowded, SkewMax-0.8)
	}

	light := tracker.Skew(position.EntryContext{Chain: "base"}, position.Timeframe1h)
	if !floatEquals(light, SkewMax-0.2) {
		t.Errorf("light chain skew = %f, want %f", light, SkewMax-0.2)
	}
	if light <= crowded {
		t.Error("under-allocated scope must size up relative to the crowded one")
	}
}

func TestSkewFloorsAtFullConcentration(t *testing.T) {
	tracker := NewExposureTracker()
	tracker.Update([]*position.Position{deployedPosition("p1", "solana", 100)})

	got := tracker.Skew(position.EntryContext{Chain: "solana"}, position.Timeframe1h)
	if !floatEquals(got, SkewMin) {
		t.Errorf("fully concentrated skew = %f, want floor %f", got, SkewMin)
	}
}

func TestSkewUnknownScopeGetsFullUpside(t *testing.T) {
	tracker := NewExposureTracker()
	tracker.Update([]*position.Position{deployedPosition("p1", "solana", 100)})

	// A chain with no deployment matches no scope share at all.
	got := tracker.Skew(position.EntryContext{Chain: "base"}, position.Timeframe1h)
	if !floatEquals(got, SkewMax) {
		t.Errorf("unmatched scope skew = %f, want %f", got, SkewMax)
	}
}

func TestUpdateIgnoresFullyExtracted(t *testing.T) {
	tracker := NewExposureTracker()
	drained := deployedPosition("p1", "solana", 50)
	drained.TotalExtracted = 60 // net deployment is negative

	tracker.Update([]*position.Position{drained})
	got := tracker.Skew(position.EntryContext{Chain: "solana"}, position.Timeframe1h)
	if got != 1.0 {
		t.Errorf("skew with no net deployment = %f, want 1.0", got)
	}
}
