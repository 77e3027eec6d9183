package learning

import (
	"context"
	"sort"
	"strings"
	"time"

	"tokenfolio/internal/buckets"
	"tokenfolio/internal/position"
)

// Scope kinds for coefficient records.
const (
	KindFactor      = "factor"      // single-factor dimension
	KindInteraction = "interaction" // composite key over all present dimensions
	KindBaseline    = "baseline"    // global R/R baseline, one per module
)

// Module under which decision-sizing coefficients are stored.
const ModuleDecision = "decision"

// Weight bounds for learned multipliers.
const (
	WeightMin = 0.5
	WeightMax = 2.0
)

// EWMA time constants in days.
const (
	TauShortDays = 14.0
	TauLongDays  = 90.0
)

// Key identifies one coefficient record.
type Key struct {
	Module    string `json:"module"`
	Kind      string `json:"kind"`
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
}

// String returns the canonical pipe-joined form used for storage and dedupe.
func (k Key) String() string {
	return k.Module + "|" + k.Kind + "|" + k.Dimension + "|" + k.Value
}

// Record holds the learned state for one key: a clamped sizing weight,
// double-horizon EWMA estimates of R/R, and a sample count. Records are
// created on first observation and never deleted; cold keys stop updating.
type Record struct {
	Key       Key       `json:"key"`
	Weight    float64   `json:"weight"`
	RRShort   float64   `json:"rr_short"`
	RRLong    float64   `json:"rr_long"`
	N         int64     `json:"n"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the keyed coefficient persistence interface. Implementations must
// serialize writes per key; the engine additionally serializes all updates
// for one trade.
type Store interface {
	Get(ctx context.Context, key Key) (*Record, error)
	Upsert(ctx context.Context, rec *Record) error
	List(ctx context.Context, module string) ([]*Record, error)
}

// Dimension names recorded as single factors.
const (
	DimCurator    = "curator"
	DimChain      = "chain"
	DimMarketCap  = "market_cap"
	DimVolume     = "volume"
	DimAge        = "age"
	DimTurnover   = "turnover"
	DimIntent     = "intent"
	DimConfidence = "confidence"
	DimTimeframe  = "timeframe"
)

// factorDimensions extracts the present single-factor dimensions from an
// entry context, normalizing every bucketed field.
func factorDimensions(ectx position.EntryContext, tf position.Timeframe) map[string]string {
	dims := map[string]string{
		DimCurator:    strings.ToLower(strings.TrimSpace(ectx.Curator)),
		DimChain:      strings.ToLower(strings.TrimSpace(ectx.Chain)),
		DimMarketCap:  buckets.Normalize(ectx.MarketCapTier),
		DimVolume:     buckets.Normalize(ectx.VolumeTier),
		DimAge:        buckets.Normalize(ectx.AgeTier),
		DimTurnover:   buckets.Normalize(ectx.VolMcapTier),
		DimIntent:     strings.ToLower(strings.TrimSpace(ectx.Intent)),
		DimConfidence: strings.ToLower(strings.TrimSpace(ectx.Confidence)),
		DimTimeframe:  string(tf),
	}
	for name, value := range dims {
		if value == "" {
			delete(dims, name)
		}
	}
	return dims
}

// interactionValue builds the composite interaction key: the sorted,
// pipe-joined concatenation of all present dimension values.
func interactionValue(dims map[string]string) string {
	values := make([]string, 0, len(dims))
	for _, v := range dims {
		values = append(values, v)
	}
	sort.Strings(values)
	return strings.Join(values, "|")
}
