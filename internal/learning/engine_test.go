package learning

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tokenfolio/internal/events"
	"tokenfolio/internal/position"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// memStore is an in-memory Store for engine tests.
type memStore struct {
	records map[string]*Record
	failing bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Record)}
}

func (s *memStore) Get(_ context.Context, key Key) (*Record, error) {
	if s.failing {
		return nil, context.DeadlineExceeded
	}
	rec, ok := s.records[key.String()]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) Upsert(_ context.Context, rec *Record) error {
	if s.failing {
		return context.DeadlineExceeded
	}
	cp := *rec
	s.records[rec.Key.String()] = &cp
	return nil
}

func (s *memStore) List(_ context.Context, module string) ([]*Record, error) {
	var out []*Record
	for _, rec := range s.records {
		if rec.Key.Module == module {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func testEngine() (*Engine, *memStore) {
	store := newMemStore()
	return NewEngine(store, zerolog.Nop()), store
}

func closureEvent(id string, rr float64, exitAt time.Time) events.ClosureEvent {
	return events.ClosureEvent{
		ID:        id,
		Token:     "TKN",
		Chain:     "solana",
		Timeframe: position.Timeframe1h,
		Context: position.EntryContext{
			Curator:       "alpha-desk",
			Chain:         "solana",
			Intent:        "momentum",
			Confidence:    "high",
			MarketCapTier: "small",
		},
		Trade: position.CompletedTrade{
			ID:            id,
			RiskReward:    rr,
			HasRiskReward: true,
			ExitAt:        exitAt,
		},
	}
}

func TestProcessTradeCreatesRecords(t *testing.T) {
	eng, store := testEngine()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := eng.ProcessTrade(context.Background(), closureEvent("t1", 2.0, now)); err != nil {
		t.Fatal(err)
	}

	rec, err := store.Get(context.Background(), Key{ModuleDecision, KindFactor, DimCurator, "alpha-desk"})
	if err != nil || rec == nil {
		t.Fatalf("curator factor not stored: %v", err)
	}
	if !floatEquals(rec.RRShort, 2.0) || !floatEquals(rec.RRLong, 2.0) || rec.N != 1 {
		t.Errorf("first sample record = %+v", rec)
	}
	// No baseline existed before this trade, so the weight is neutral.
	if rec.Weight != 1.0 {
		t.Errorf("weight without baseline = %f, want 1.0", rec.Weight)
	}

	base, err := store.Get(context.Background(), Key{ModuleDecision, KindBaseline, "global", "rr"})
	if err != nil || base == nil {
		t.Fatal("baseline not stored")
	}
	if !floatEquals(base.RRShort, 2.0) {
		t.Errorf("baseline RRShort = %f, want 2.0", base.RRShort)
	}
}

func TestProcessTradeDedupesByTradeID(t *testing.T) {
	eng, store := testEngine()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := closureEvent("t1", 2.0, now)

	if err := eng.ProcessTrade(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if err := eng.ProcessTrade(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	rec, _ := store.Get(context.Background(), Key{ModuleDecision, KindFactor, DimCurator, "alpha-desk"})
	if rec.N != 1 {
		t.Errorf("duplicate event moved the record, N = %d", rec.N)
	}
}

func TestProcessTradeSkipsWithoutRR(t *testing.T) {
	eng, store := testEngine()
	ev := closureEvent("t1", 2.0, time.Now())
	ev.Trade.HasRiskReward = false

	if err := eng.ProcessTrade(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(store.records) != 0 {
		t.Errorf("trade without R/R stored %d records", len(store.records))
	}
}

func TestSizingWeightClampsStoredWeight(t *testing.T) {
	eng, store := testEngine()
	ctx := context.Background()

	w := eng.SizingWeight(ctx, position.EntryContext{Curator: "nobody"}, position.Timeframe1h)
	if w != 1.0 {
		t.Errorf("unknown context weight = %f, want neutral", w)
	}

	// A corrupt or pre-clamp stored weight must still come back bounded.
	dims := factorDimensions(position.EntryContext{Curator: "alpha-desk"}, position.Timeframe1h)
	rec := &Record{
		Key:    Key{ModuleDecision, KindInteraction, "combo", interactionValue(dims)},
		Weight: 5.0,
		N:      5,
	}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got := eng.SizingWeight(ctx, position.EntryContext{Curator: "alpha-desk"}, position.Timeframe1h)
	if got != WeightMax {
		t.Errorf("weight = %f, want clamp at %f", got, WeightMax)
	}
}

func TestWeightForNeutralOnBadBaseline(t *testing.T) {
	if w := weightFor(2.0, 0); w != 1.0 {
		t.Errorf("zero baseline weight = %f, want 1.0", w)
	}
	if w := weightFor(2.0, -1.5); w != 1.0 {
		t.Errorf("negative baseline weight = %f, want 1.0", w)
	}
	if w := weightFor(0.4, 1.0); w != WeightMin {
		t.Errorf("underperformer weight = %f, want %f", w, WeightMin)
	}
}

func TestEWMAStepFavorsRecentAtSmallGap(t *testing.T) {
	// Fresh samples (small dt) blend at close to half weight; stale estimates
	// (large dt) barely move toward the sample.
	fresh := ewmaStep(1.0, 3.0, 0, TauShortDays)
	if !floatEquals(fresh, 2.0) {
		t.Errorf("zero-gap step = %f, want midpoint 2.0", fresh)
	}

	stale := ewmaStep(1.0, 3.0, 90, TauShortDays)
	if stale > 1.01 {
		t.Errorf("90-day-gap short-horizon step moved too far: %f", stale)
	}
}

func TestDecayWeightMonotonic(t *testing.T) {
	gaps := []float64{1, 7, 30, 90}
	prev := 1.0
	for _, dt := range gaps {
		w := DecayWeight(dt, TauShortDays)
		if w >= prev {
			t.Errorf("decay at dt=%f not below previous: %f >= %f", dt, w, prev)
		}
		if w <= 0 || w > 1 {
			t.Errorf("decay at dt=%f out of (0,1]: %f", dt, w)
		}
		prev = w
	}
	// The long horizon forgets slower than the short one.
	if DecayWeight(30, TauLongDays) <= DecayWeight(30, TauShortDays) {
		t.Error("long horizon must decay slower than short")
	}
}

func TestImportanceBleedShrinksFactors(t *testing.T) {
	eng, store := testEngine()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Establish a baseline, then a strong repeated context so the interaction
	// weight departs from neutral past the bleed threshold.
	if err := eng.ProcessTrade(context.Background(), closureEvent("seed", 1.0, base)); err != nil {
		t.Fatal(err)
	}
	if err := eng.ProcessTrade(context.Background(), closureEvent("t2", 4.0, base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	rec, _ := store.Get(context.Background(), Key{ModuleDecision, KindFactor, DimCurator, "alpha-desk"})
	inter, _ := store.Get(context.Background(), Key{ModuleDecision, KindInteraction, "combo", interactionValue(factorDimensions(closureEvent("", 0, base).Context, position.Timeframe1h))})
	if inter == nil {
		t.Fatal("interaction record missing")
	}
	if math.Abs(inter.Weight-1.0) < bleedThreshold {
		t.Fatalf("test setup: interaction weight %f did not cross the bleed threshold", inter.Weight)
	}
	// Pre-bleed the factor clamped at WeightMax; one bleed step pulls it
	// alpha of the way back toward neutral.
	wantBled := WeightMax + bleedAlpha*(1.0-WeightMax)
	if !floatEquals(rec.Weight, wantBled) {
		t.Errorf("factor weight = %f, want bled %f", rec.Weight, wantBled)
	}
}

func TestSizingWeightFactorFallback(t *testing.T) {
	eng, store := testEngine()
	ctx := context.Background()

	// Only one factor has enough samples; the interaction is cold.
	rec := &Record{
		Key:    Key{ModuleDecision, KindFactor, DimCurator, "alpha-desk"},
		Weight: 1.6,
		N:      5,
	}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}

	ectx := position.EntryContext{Curator: "alpha-desk"}
	got := eng.SizingWeight(ctx, ectx, position.Timeframe1h)
	if got != 1.6 {
		t.Errorf("factor fallback weight = %f, want 1.6", got)
	}
}

func TestSizingWeightNeutralOnStoreFailure(t *testing.T) {
	eng, store := testEngine()
	store.failing = true

	got := eng.SizingWeight(context.Background(), position.EntryContext{Curator: "x"}, position.Timeframe1h)
	if got != 1.0 {
		t.Errorf("store failure weight = %f, want neutral 1.0", got)
	}
}
