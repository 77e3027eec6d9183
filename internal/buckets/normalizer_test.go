package buckets

import "testing"

func TestMarketCap(t *testing.T) {
	tests := []struct {
		usd  float64
		want string
	}{
		{100_000, McapMicro},
		{250_000, McapSmall},
		{999_999, McapSmall},
		{5_000_000, McapMid},
		{50_000_000, McapLarge},
		{100_000_000, McapMega},
	}
	for _, tt := range tests {
		if got := MarketCap(tt.usd); got != tt.want {
			t.Errorf("MarketCap(%f) = %s, want %s", tt.usd, got, tt.want)
		}
	}
}

func TestVolume(t *testing.T) {
	tests := []struct {
		usd  float64
		want string
	}{
		{10_000, VolumeThin},
		{50_000, VolumeLow},
		{500_000, VolumeMedium},
		{2_000_000, VolumeHigh},
	}
	for _, tt := range tests {
		if got := Volume(tt.usd); got != tt.want {
			t.Errorf("Volume(%f) = %s, want %s", tt.usd, got, tt.want)
		}
	}
}

func TestAge(t *testing.T) {
	tests := []struct {
		hours float64
		want  string
	}{
		{6, AgeFresh},
		{24, AgeYoung},
		{24 * 10, AgeEstablished},
		{24 * 90, AgeMature},
	}
	for _, tt := range tests {
		if got := Age(tt.hours); got != tt.want {
			t.Errorf("Age(%f) = %s, want %s", tt.hours, got, tt.want)
		}
	}
}

func TestTurnover(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0.01, TurnoverStale},
		{0.05, TurnoverNormal},
		{0.5, TurnoverHot},
		{1.0, TurnoverFrenzy},
	}
	for _, tt := range tests {
		if got := Turnover(tt.ratio); got != tt.want {
			t.Errorf("Turnover(%f) = %s, want %s", tt.ratio, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"small", McapSmall},
		{" SMALL ", McapSmall},
		{"Frenzy", TurnoverFrenzy},
		{"", ""},
		{"Unknown-Label", "unknown-label"}, // unknown labels degrade to their own key
	}
	for _, tt := range tests {
		if got := Normalize(tt.label); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}
