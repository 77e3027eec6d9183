// Package edge maintains per-pattern, per-scope performance statistics and
// turns them into bounded sizing multipliers: a composite edge score, a decay
// classification over its history, and an exposure skew against portfolio
// concentration.
package edge

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tokenfolio/internal/buckets"
	"tokenfolio/internal/events"
	"tokenfolio/internal/position"
)

const (
	// Support saturates around this many samples.
	supportK = 10.0

	// Minimum samples before a scope contributes to pattern strength.
	minScopeSamples = 5

	// Bounds kept per scope.
	maxRRSamples     = 256
	maxEdgeSnapshots = 500

	// Stability looks at this many recent edge values.
	stabilityWindow = 20
)

// Pattern strength clamp consumed by the planner.
const (
	StrengthMin = 0.3
	StrengthMax = 3.0
)

// Scope masks from coarse to specific. Each mask names the context dimensions
// its signature serializes; specificity is the mask length.
var scopeMasks = [][]string{
	{},
	{"chain"},
	{"curator"},
	{"chain", "market_cap"},
	{"chain", "market_cap", "curator"},
	{"chain", "market_cap", "curator", "confidence", "timeframe"},
}

// Breakdown is the six-component edge decomposition, each in [0,1].
type Breakdown struct {
	ExpectedValue  float64 `json:"expected_value"`
	Reliability    float64 `json:"reliability"`
	Support        float64 `json:"support"`
	Magnitude      float64 `json:"magnitude"`
	TimeEfficiency float64 `json:"time_efficiency"`
	Stability      float64 `json:"stability"`
	EdgeRaw        float64 `json:"edge_raw"` // EV × reliability × (support+magnitude+time+stability)
}

// Snapshot is one point of a scope's edge time series.
type Snapshot struct {
	At     time.Time `json:"at"`
	Edge   float64   `json:"edge"`
	N      int       `json:"n"`
	MeanRR float64   `json:"mean_rr"`
}

// Stat is the running state for one (pattern, action, scope signature).
type Stat struct {
	Pattern   string `json:"pattern"`
	Action    string `json:"action"`
	Signature string `json:"signature"`

	N      int     `json:"n"`
	MeanRR float64 `json:"mean_rr"`
	m2     float64 // Welford accumulator

	rrSamples     []float64
	meanHoldHours float64

	Breakdown Breakdown  `json:"breakdown"`
	Decay     Descriptor `json:"decay"`
	Series    []Snapshot `json:"series"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Variance returns the sample variance of R/R for the scope.
func (s *Stat) Variance() float64 {
	if s.N < 2 {
		return 0
	}
	return s.m2 / float64(s.N-1)
}

// StatRepository persists pattern scope stats. Optional; the aggregator is
// fully functional in memory and persists opportunistically.
type StatRepository interface {
	SaveStat(stat *Stat) error
	LoadStats() ([]*Stat, error)
}

// Aggregator holds all scope stats and the global R/R baseline they are
// measured against.
type Aggregator struct {
	mu     sync.RWMutex
	stats  map[string]*Stat // key = pattern|action|signature
	repo   StatRepository
	logger zerolog.Logger

	globalMeanRR float64
	globalN      int
}

// NewAggregator creates an edge aggregator. repo may be nil.
func NewAggregator(repo StatRepository, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		stats:  make(map[string]*Stat),
		repo:   repo,
		logger: logger.With().Str("component", "EdgeAggregator").Logger(),
	}
}

// Load warms the aggregator from the repository.
func (a *Aggregator) Load() error {
	if a.repo == nil {
		return nil
	}
	stats, err := a.repo.LoadStats()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range stats {
		a.stats[statKey(s.Pattern, s.Action, s.Signature)] = s
	}
	a.logger.Info().Int("count", len(stats)).Msg("Loaded pattern scope stats")
	return nil
}

// HandleClosure is the event-bus subscription point.
func (a *Aggregator) HandleClosure(ev events.ClosureEvent) {
	if !ev.Trade.HasRiskReward {
		return
	}

	pattern := patternOf(ev.Context)
	action := string(ev.Trade.ClosedBy)
	holdHours := ev.Trade.ExitAt.Sub(ev.Trade.EntryAt).Hours()
	if holdHours < 0 {
		holdHours = 0
	}
	dims := contextDims(ev.Context, ev.Timeframe)

	a.mu.Lock()

	// Global baseline first; EV compares against the world including this trade.
	a.globalN++
	a.globalMeanRR += (ev.Trade.RiskReward - a.globalMeanRR) / float64(a.globalN)

	var toPersist []*Stat
	for _, mask := range scopeMasks {
		sig := signatureFor(dims, mask)
		if sig == "" && len(mask) > 0 {
			continue // mask dimensions absent from this context
		}
		stat := a.getOrCreate(pattern, action, sig)
		a.observe(stat, ev.Trade.RiskReward, holdHours, ev.Trade.ExitAt)

		if a.repo != nil {
			toPersist = append(toPersist, stat.snapshot())
		}
	}
	a.mu.Unlock()

	// Repository I/O stays outside the lock so a slow write cannot stall every
	// other closure's handling.
	for _, stat := range toPersist {
		if err := a.repo.SaveStat(stat); err != nil {
			a.logger.Warn().
				Err(err).
				Str("signature", stat.Signature).
				Msg("Failed to persist pattern scope stat")
		}
	}
}

// observe folds one trade into a scope's stats and appends an edge snapshot.
func (a *Aggregator) observe(stat *Stat, rr, holdHours float64, at time.Time) {
	stat.N++
	delta := rr - stat.MeanRR
	stat.MeanRR += delta / float64(stat.N)
	stat.m2 += delta * (rr - stat.MeanRR)

	stat.rrSamples = append(stat.rrSamples, rr)
	if len(stat.rrSamples) > maxRRSamples {
		stat.rrSamples = stat.rrSamples[1:]
	}

	stat.meanHoldHours += (holdHours - stat.meanHoldHours) / float64(stat.N)

	stat.Breakdown = a.computeBreakdown(stat)

	stat.Series = append(stat.Series, Snapshot{
		At:     at,
		Edge:   stat.Breakdown.EdgeRaw,
		N:      stat.N,
		MeanRR: stat.MeanRR,
	})
	if len(stat.Series) > maxEdgeSnapshots {
		stat.Series = stat.Series[1:]
	}

	stat.Decay = FitDecay(stat.Series)
	stat.UpdatedAt = at
}

// computeBreakdown derives the six sub-scores and the composite edge.
func (a *Aggregator) computeBreakdown(stat *Stat) Breakdown {
	b := Breakdown{
		ExpectedValue: sigmoid(stat.MeanRR - a.globalMeanRR),
		Reliability:   1.0 / (1.0 + stat.Variance()),
		Support:       1.0 - math.Exp(-float64(stat.N)/supportK),
		Magnitude:     sigmoid(median(stat.rrSamples)),
	}
	b.TimeEfficiency = 1.0 / (1.0 + math.Log(1.0+stat.meanHoldHours))
	b.Stability = 1.0 / (1.0 + edgeVolatility(stat.Series))
	b.EdgeRaw = b.ExpectedValue * b.Reliability * (b.Support + b.Magnitude + b.TimeEfficiency + b.Stability)
	return b
}

// PatternStrength blends coarse-to-specific scope matches into one bounded
// multiplier, weighting specific masks heavier. Scopes without enough samples
// are skipped; no usable scope yields neutral 1.0.
func (a *Aggregator) PatternStrength(ectx position.EntryContext, tf position.Timeframe) float64 {
	pattern := patternOf(ectx)
	dims := contextDims(ectx, tf)

	a.mu.RLock()
	defer a.mu.RUnlock()

	weighted := 0.0
	totalWeight := 0.0
	for _, mask := range scopeMasks {
		sig := signatureFor(dims, mask)
		if sig == "" && len(mask) > 0 {
			continue
		}
		specificity := float64(len(mask) + 1)
		for _, stat := range a.statsFor(pattern, sig) {
			if stat.N < minScopeSamples {
				continue
			}
			weighted += stat.sizingMultiplier() * specificity
			totalWeight += specificity
		}
	}
	if totalWeight == 0 {
		return 1.0
	}

	strength := weighted / totalWeight
	if strength < StrengthMin {
		return StrengthMin
	}
	if strength > StrengthMax {
		return StrengthMax
	}
	return strength
}

// sizingMultiplier maps a scope's edge and decay state into a multiplier
// centered on 1.0 for an average, stable scope.
func (s *Stat) sizingMultiplier() float64 {
	edgeNorm := s.Breakdown.EdgeRaw / 4.0 // EdgeRaw lives in [0,4]
	return s.Decay.Multiplier * (0.6 + 0.8*edgeNorm)
}

// Stats returns independent copies of all scope stats, for the API.
func (a *Aggregator) Stats() []*Stat {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*Stat, 0, len(a.stats))
	for _, s := range a.stats {
		out = append(out, s.snapshot())
	}
	return out
}

// snapshot returns a deep copy safe to read or persist outside the lock.
func (s *Stat) snapshot() *Stat {
	cp := *s
	cp.rrSamples = append([]float64(nil), s.rrSamples...)
	cp.Series = append([]Snapshot(nil), s.Series...)
	return &cp
}

// RecomputeAll rebuilds every scope's decay descriptor from its stored series.
// Run periodically; the incremental path only refits on new snapshots.
func (a *Aggregator) RecomputeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, stat := range a.stats {
		stat.Breakdown = a.computeBreakdown(stat)
		stat.Decay = FitDecay(stat.Series)
	}
}

func (a *Aggregator) getOrCreate(pattern, action, sig string) *Stat {
	k := statKey(pattern, action, sig)
	stat, ok := a.stats[k]
	if !ok {
		stat = &Stat{
			Pattern:   pattern,
			Action:    action,
			Signature: sig,
			Decay:     Descriptor{State: DecayStable, Multiplier: 1.0},
		}
		a.stats[k] = stat
	}
	return stat
}

// statsFor returns stats matching a pattern and signature across all closing
// action categories.
func (a *Aggregator) statsFor(pattern, sig string) []*Stat {
	var out []*Stat
	prefix := pattern + "|"
	suffix := "|" + sig
	for k, stat := range a.stats {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			out = append(out, stat)
		}
	}
	return out
}

func statKey(pattern, action, sig string) string {
	return pattern + "|" + action + "|" + sig
}

// patternOf maps an entry context to its pattern identifier.
func patternOf(ectx position.EntryContext) string {
	intent := strings.ToLower(strings.TrimSpace(ectx.Intent))
	if intent == "" {
		return "default"
	}
	return intent
}

// contextDims extracts the scope dimensions from an entry context.
func contextDims(ectx position.EntryContext, tf position.Timeframe) map[string]string {
	dims := map[string]string{
		"chain":      strings.ToLower(strings.TrimSpace(ectx.Chain)),
		"curator":    strings.ToLower(strings.TrimSpace(ectx.Curator)),
		"market_cap": buckets.Normalize(ectx.MarketCapTier),
		"confidence": strings.ToLower(strings.TrimSpace(ectx.Confidence)),
		"timeframe":  string(tf),
	}
	for k, v := range dims {
		if v == "" {
			delete(dims, k)
		}
	}
	return dims
}

// signatureFor serializes the masked subset of dimensions canonically
// (sorted dim=value pairs joined by |). Empty mask → empty signature (global).
// Returns "" for a non-empty mask whose dimensions are absent.
func signatureFor(dims map[string]string, mask []string) string {
	if len(mask) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(mask))
	for _, dim := range mask {
		v, ok := dims[dim]
		if !ok {
			return ""
		}
		pairs = append(pairs, dim+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "|")
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// edgeVolatility is the standard deviation of the recent edge series.
func edgeVolatility(series []Snapshot) float64 {
	start := 0
	if len(series) > stabilityWindow {
		start = len(series) - stabilityWindow
	}
	window := series[start:]
	if len(window) < 2 {
		return 0
	}
	mean := 0.0
	for _, s := range window {
		mean += s.Edge
	}
	mean /= float64(len(window))
	varsum := 0.0
	for _, s := range window {
		d := s.Edge - mean
		varsum += d * d
	}
	return math.Sqrt(varsum / float64(len(window)-1))
}
