// Package buckets maps raw numeric token attributes to canonical discrete
// buckets. The same tables are used when recording trade context and when
// reading it back for learning, so the two sides can never disagree on keys.
package buckets

import (
	"strings"
)

// Canonical market-cap buckets (USD).
const (
	McapMicro = "micro" // < 250k
	McapSmall = "small" // < 1M
	McapMid   = "mid"   // < 10M
	McapLarge = "large" // < 100M
	McapMega  = "mega"  // >= 100M
)

// Canonical 24h volume buckets (USD).
const (
	VolumeThin   = "thin"   // < 50k
	VolumeLow    = "low"    // < 250k
	VolumeMedium = "medium" // < 1M
	VolumeHigh   = "high"   // >= 1M
)

// Canonical token-age buckets.
const (
	AgeFresh       = "fresh"       // < 24h
	AgeYoung       = "young"       // < 7d
	AgeEstablished = "established" // < 30d
	AgeMature      = "mature"      // >= 30d
)

// Canonical volume/mcap ratio buckets.
const (
	TurnoverStale  = "stale"  // < 0.05
	TurnoverNormal = "normal" // < 0.25
	TurnoverHot    = "hot"    // < 1.0
	TurnoverFrenzy = "frenzy" // >= 1.0
)

// MarketCap buckets a market cap in USD.
func MarketCap(usd float64) string {
	switch {
	case usd < 250_000:
		return McapMicro
	case usd < 1_000_000:
		return McapSmall
	case usd < 10_000_000:
		return McapMid
	case usd < 100_000_000:
		return McapLarge
	default:
		return McapMega
	}
}

// Volume buckets a 24h volume in USD.
func Volume(usd float64) string {
	switch {
	case usd < 50_000:
		return VolumeThin
	case usd < 250_000:
		return VolumeLow
	case usd < 1_000_000:
		return VolumeMedium
	default:
		return VolumeHigh
	}
}

// Age buckets a token age in hours.
func Age(hours float64) string {
	switch {
	case hours < 24:
		return AgeFresh
	case hours < 24*7:
		return AgeYoung
	case hours < 24*30:
		return AgeEstablished
	default:
		return AgeMature
	}
}

// Turnover buckets a volume/mcap ratio.
func Turnover(ratio float64) string {
	switch {
	case ratio < 0.05:
		return TurnoverStale
	case ratio < 0.25:
		return TurnoverNormal
	case ratio < 1.0:
		return TurnoverHot
	default:
		return TurnoverFrenzy
	}
}

var canonical = map[string]string{
	McapMicro: McapMicro, McapSmall: McapSmall, McapMid: McapMid,
	McapLarge: McapLarge, McapMega: McapMega,
	VolumeThin: VolumeThin, VolumeLow: VolumeLow,
	VolumeMedium: VolumeMedium, VolumeHigh: VolumeHigh,
	AgeFresh: AgeFresh, AgeYoung: AgeYoung,
	AgeEstablished: AgeEstablished, AgeMature: AgeMature,
	TurnoverStale: TurnoverStale, TurnoverNormal: TurnoverNormal,
	TurnoverHot: TurnoverHot, TurnoverFrenzy: TurnoverFrenzy,
}

// Normalize returns the canonical form of a bucket label, matching
// case-insensitively. Unknown labels come back trimmed and lowercased rather
// than as an error, so a new upstream label degrades to its own key instead
// of poisoning the learning update.
func Normalize(label string) string {
	cleaned := strings.ToLower(strings.TrimSpace(label))
	if c, ok := canonical[cleaned]; ok {
		return c
	}
	return cleaned
}
