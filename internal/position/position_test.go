package position

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testContext() EntryContext {
	return EntryContext{
		Curator:       "alpha-desk",
		Chain:         "solana",
		Intent:        "momentum",
		Confidence:    "high",
		MarketCapTier: "small",
		CapturedAt:    time.Now(),
	}
}

func watchlistPosition(t *testing.T) *Position {
	t.Helper()
	pos := New("pos-1", "TKN", "solana", Timeframe1h, 100.0, testContext())
	pos.ObserveBars(400, 350)
	if pos.Status != StatusWatchlist {
		t.Fatalf("expected WATCHLIST after observing bars, got %s", pos.Status)
	}
	return pos
}

func buyResult(tokens, usd float64) ExecutionResult {
	return ExecutionResult{
		Action:       ActionAdd,
		Category:     CategoryFirstEntry,
		Signal:       "initial_entry",
		SizeFraction: 0.35,
		Price:        usd / tokens,
		TokensDelta:  tokens,
		QuoteDelta:   usd,
		ExecutedAt:   time.Now(),
	}
}

func sellResult(tokens, usd float64, action ActionType) ExecutionResult {
	return ExecutionResult{
		Action:       action,
		Category:     CategoryTrim,
		Signal:       "trim",
		SizeFraction: 0.3,
		Price:        usd / tokens,
		TokensDelta:  -tokens,
		QuoteDelta:   -usd,
		ExecutedAt:   time.Now(),
	}
}

func TestObserveBarsPromotesAtThreshold(t *testing.T) {
	pos := New("pos-1", "TKN", "solana", Timeframe15m, 100.0, testContext())

	pos.ObserveBars(349, 350)
	if pos.Status != StatusDormant {
		t.Errorf("349 bars: expected DORMANT, got %s", pos.Status)
	}
	pos.ObserveBars(350, 350)
	if pos.Status != StatusWatchlist {
		t.Errorf("350 bars: expected WATCHLIST, got %s", pos.Status)
	}

	// Bars count never decreases.
	pos.ObserveBars(10, 350)
	if pos.BarsCount != 350 {
		t.Errorf("bars count regressed to %d", pos.BarsCount)
	}
}

func TestApplyExecutionBuyActivates(t *testing.T) {
	pos := watchlistPosition(t)

	if err := pos.ApplyExecution(buyResult(50, 35)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if pos.Status != StatusActive {
		t.Errorf("expected ACTIVE after buy, got %s", pos.Status)
	}
	if !floatEquals(pos.TotalQuantity, 50) {
		t.Errorf("quantity = %f, want 50", pos.TotalQuantity)
	}
	if !floatEquals(pos.TotalInvestment, 35) {
		t.Errorf("investment = %f, want 35", pos.TotalInvestment)
	}
	if pos.FirstEntryAt.IsZero() {
		t.Error("FirstEntryAt not set on first buy")
	}
	if err := pos.CheckInvariant(); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
}

func TestApplyExecutionRejectsDormant(t *testing.T) {
	pos := New("pos-1", "TKN", "solana", Timeframe1h, 100.0, testContext())
	if err := pos.ApplyExecution(buyResult(10, 5)); err == nil {
		t.Error("expected error applying execution to dormant position")
	}
}

func TestApplyExecutionOversell(t *testing.T) {
	pos := watchlistPosition(t)
	if err := pos.ApplyExecution(buyResult(10, 10)); err != nil {
		t.Fatal(err)
	}

	if err := pos.ApplyExecution(sellResult(11, 11, ActionTrim)); err == nil {
		t.Error("expected oversell error")
	}
	// Failed execution leaves the ledger untouched.
	if !floatEquals(pos.TotalQuantity, 10) {
		t.Errorf("quantity changed after rejected sell: %f", pos.TotalQuantity)
	}
}

func TestApplyExecutionDustZeroing(t *testing.T) {
	pos := watchlistPosition(t)
	if err := pos.ApplyExecution(buyResult(10, 10)); err != nil {
		t.Fatal(err)
	}
	// Sell everything minus float noise.
	if err := pos.ApplyExecution(sellResult(10-1e-12, 12, ActionTrim)); err != nil {
		t.Fatal(err)
	}
	if pos.TotalQuantity != 0 {
		t.Errorf("dust not zeroed: %g", pos.TotalQuantity)
	}
}

func TestApplyExecutionWrongDirection(t *testing.T) {
	pos := watchlistPosition(t)

	bad := buyResult(10, 10)
	bad.TokensDelta = -10
	if err := pos.ApplyExecution(bad); err == nil {
		t.Error("add with negative delta should be rejected")
	}

	badSell := sellResult(5, 5, ActionTrim)
	badSell.TokensDelta = 5
	if err := pos.ApplyExecution(badSell); err == nil {
		t.Error("trim with positive delta should be rejected")
	}
}

func TestCloseCycleResetsAccumulators(t *testing.T) {
	pos := watchlistPosition(t)
	if err := pos.ApplyExecution(buyResult(10, 10)); err != nil {
		t.Fatal(err)
	}
	if err := pos.ApplyExecution(sellResult(10, 15, ActionEmergencyExit)); err != nil {
		t.Fatal(err)
	}

	pos.CloseCycle(CompletedTrade{ID: "trade-1", EntryPrice: 1.0, ExitPrice: 1.5})

	if pos.Status != StatusWatchlist {
		t.Errorf("expected WATCHLIST after close, got %s", pos.Status)
	}
	if pos.TotalInvestment != 0 || pos.TotalExtracted != 0 || pos.TotalTokensBought != 0 {
		t.Error("per-cycle accumulators not reset")
	}
	if !pos.FirstEntryAt.IsZero() {
		t.Error("FirstEntryAt not reset")
	}
	if len(pos.CompletedTrades) != 1 {
		t.Errorf("completed trades = %d, want 1", len(pos.CompletedTrades))
	}

	// Second cycle computes a fresh cost basis.
	if err := pos.ApplyExecution(buyResult(4, 8)); err != nil {
		t.Fatal(err)
	}
	if !floatEquals(pos.AverageEntryPrice(), 2.0) {
		t.Errorf("fresh cost basis = %f, want 2.0", pos.AverageEntryPrice())
	}
}

func TestAverageEntryPrice(t *testing.T) {
	pos := watchlistPosition(t)
	if pos.AverageEntryPrice() != 0 {
		t.Error("empty position should have zero entry price")
	}
	if err := pos.ApplyExecution(buyResult(10, 10)); err != nil {
		t.Fatal(err)
	}
	if err := pos.ApplyExecution(buyResult(10, 30)); err != nil {
		t.Fatal(err)
	}
	if !floatEquals(pos.AverageEntryPrice(), 2.0) {
		t.Errorf("avg entry = %f, want 2.0", pos.AverageEntryPrice())
	}
}

func TestPauseRejectedWhileActive(t *testing.T) {
	pos := watchlistPosition(t)
	if err := pos.ApplyExecution(buyResult(10, 10)); err != nil {
		t.Fatal(err)
	}

	if err := pos.Pause(); err == nil {
		t.Error("pause of active position must fail")
	}
	if err := pos.Archive(); err == nil {
		t.Error("archive of active position must fail")
	}
}

func TestResumeRestoresByHistory(t *testing.T) {
	pos := watchlistPosition(t)
	if err := pos.Pause(); err != nil {
		t.Fatal(err)
	}
	pos.Resume(350)
	if pos.Status != StatusWatchlist {
		t.Errorf("resume with enough history: got %s", pos.Status)
	}

	shallow := New("pos-2", "TKN2", "solana", Timeframe1d, 50.0, testContext())
	if err := shallow.Pause(); err != nil {
		t.Fatal(err)
	}
	shallow.Resume(350)
	if shallow.Status != StatusDormant {
		t.Errorf("resume without history: got %s", shallow.Status)
	}
}

func TestCheckInvariant(t *testing.T) {
	pos := watchlistPosition(t)
	pos.TotalQuantity = 5 // corrupt directly
	if err := pos.CheckInvariant(); err == nil {
		t.Error("holdings without ACTIVE status should violate the invariant")
	}

	pos.TotalQuantity = 0
	pos.Status = StatusActive
	if err := pos.CheckInvariant(); err == nil {
		t.Error("ACTIVE with zero holdings should violate the invariant")
	}
}

func TestCloneDetachesFromLiveState(t *testing.T) {
	pos := watchlistPosition(t)
	if err := pos.ApplyExecution(buyResult(10, 10)); err != nil {
		t.Fatal(err)
	}

	cp := pos.Clone()
	if cp == pos {
		t.Fatal("Clone returned the live struct")
	}

	// Mutate the original through a full cycle close.
	if err := pos.ApplyExecution(sellResult(10, 15, ActionEmergencyExit)); err != nil {
		t.Fatal(err)
	}
	pos.CloseCycle(CompletedTrade{ID: "trade-1"})

	if cp.Status != StatusActive || !floatEquals(cp.TotalQuantity, 10) {
		t.Errorf("clone tracked later mutations: status=%s qty=%f", cp.Status, cp.TotalQuantity)
	}
	if cp.History.Entry(CategoryTrim) != nil {
		t.Error("clone shares the execution ledger with the original")
	}
	if len(cp.CompletedTrades) != 0 {
		t.Error("clone shares the completed trades slice")
	}

	// Writes through the clone must not leak back either.
	cp.History.Entries[CategoryDipEntry] = &LedgerEntry{Signal: "dip_entry"}
	if pos.History.Entry(CategoryDipEntry) != nil {
		t.Error("original sees ledger writes made through the clone")
	}
}

func TestCloneSafeAgainstConcurrentExecutions(t *testing.T) {
	pos := watchlistPosition(t)
	if err := pos.ApplyExecution(buyResult(100, 100)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = pos.ApplyExecution(sellResult(1, 1, ActionTrim))
			_ = pos.ApplyExecution(buyResult(1, 1))
		}
	}()

	// Encoding a clone is how the API serves reads; it must never observe the
	// ledger map mid-write.
	for i := 0; i < 200; i++ {
		if _, err := json.Marshal(pos.Clone()); err != nil {
			t.Fatalf("marshal clone: %v", err)
		}
	}
	<-done
}

func TestTradeable(t *testing.T) {
	tests := []struct {
		status string
		cap    float64
		want   bool
	}{
		{StatusDormant, 100, false},
		{StatusWatchlist, 100, true},
		{StatusActive, 100, true},
		{StatusPaused, 100, false},
		{StatusArchived, 100, false},
		{StatusWatchlist, 0, false},
	}
	for _, tt := range tests {
		pos := New("p", "T", "c", Timeframe1h, tt.cap, testContext())
		pos.Status = tt.status
		if got := pos.Tradeable(); got != tt.want {
			t.Errorf("Tradeable(%s, cap=%f) = %v, want %v", tt.status, tt.cap, got, tt.want)
		}
	}
}
