package decision

import (
	"math"
	"testing"

	"tokenfolio/internal/position"
)

func TestBandFor(t *testing.T) {
	tests := []struct {
		score float64
		want  band
	}{
		{0.0, bandPatient},
		{0.34, bandPatient},
		{0.35, bandNormal},
		{0.69, bandNormal},
		{0.70, bandAggressive},
		{1.0, bandAggressive},
	}
	for _, tt := range tests {
		if got := bandFor(tt.score); got != tt.want {
			t.Errorf("bandFor(%f) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestBaseEntrySize(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		cat   position.SignalCategory
		want  float64
	}{
		{"aggressive initial", 0.8, position.CategoryFirstEntry, 0.50},
		{"normal initial", 0.5, position.CategoryFirstEntry, 0.35},
		{"patient initial", 0.2, position.CategoryFirstEntry, 0.25},
		{"aggressive retest", 0.8, position.CategoryRetestEntry, 0.25},
		{"aggressive dip", 0.8, position.CategoryDipEntry, 0.30},
		{"reclaim uses add-on table", 0.5, position.CategoryReclaimEntry, 0.15},
	}
	for _, tt := range tests {
		if got := baseEntrySize(tt.score, tt.cat); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: baseEntrySize = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestBaseTrimSize(t *testing.T) {
	if got := baseTrimSize(0.9); got != 0.50 {
		t.Errorf("aggressive trim = %f, want 0.50", got)
	}
	if got := baseTrimSize(0.1); got != 0.20 {
		t.Errorf("patient trim = %f, want 0.20", got)
	}
}

func TestProfitMultipliers(t *testing.T) {
	tests := []struct {
		name          string
		extracted     float64
		invested      float64
		cap           float64
		wantEntryMult float64
		wantTrimMult  float64
	}{
		{"deep profit", 80, 20, 100, 0.50, 1.30},
		{"good profit", 50, 20, 100, 0.70, 1.15},
		{"break even", 20, 20, 100, 0.85, 1.00},
		{"small loss", 10, 20, 100, 1.00, 0.90},
		{"deep loss", 0, 40, 100, 1.15, 0.80},
		{"zero cap neutral", 50, 0, 0, 1.0, 1.0},
		{"fresh cycle neutral", 0, 0, 100, 1.0, 1.0},
	}
	for _, tt := range tests {
		entry, trim := profitMultipliers(tt.extracted, tt.invested, tt.cap)
		if entry != tt.wantEntryMult || trim != tt.wantTrimMult {
			t.Errorf("%s: got (%f, %f), want (%f, %f)",
				tt.name, entry, trim, tt.wantEntryMult, tt.wantTrimMult)
		}
	}
}

func TestHeadroomFraction(t *testing.T) {
	tests := []struct {
		name      string
		invested  float64
		extracted float64
		cap       float64
		want      float64
	}{
		{"fresh cycle", 0, 0, 100, 1.0},
		{"half deployed", 50, 0, 100, 0.5},
		{"fully deployed", 100, 0, 100, 0.0},
		{"fills overshot the cap", 113.25, 0, 100, 0.0},
		{"extraction restores headroom", 100, 40, 100, 0.4},
		{"net profit", 50, 80, 100, 1.0},
		{"zero cap", 10, 0, 0, 0.0},
	}
	for _, tt := range tests {
		pos := position.New("p", "T", "c", position.Timeframe1h, tt.cap, position.EntryContext{})
		pos.TotalInvestment = tt.invested
		pos.TotalExtracted = tt.extracted
		if got := headroomFraction(pos); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: headroomFraction = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestClampFraction(t *testing.T) {
	if clampFraction(1.7) != 1.0 {
		t.Error("fractions above 1 must clamp to 1")
	}
	if clampFraction(-0.2) != 0 {
		t.Error("negative fractions must clamp to 0")
	}
	if clampFraction(0.4) != 0.4 {
		t.Error("in-range fraction must pass through")
	}
}

func TestEntryScaleClampsPatternStrength(t *testing.T) {
	ls := LearnedSizing{CoefficientWeight: 1.0, PatternStrength: 10.0, ExposureSkew: 1.0}
	if got := ls.entryScale(); got != 3.0 {
		t.Errorf("entryScale with runaway strength = %f, want 3.0", got)
	}
	ls.PatternStrength = 0.01
	if got := ls.entryScale(); got != 0.3 {
		t.Errorf("entryScale with collapsed strength = %f, want 0.3", got)
	}
}
