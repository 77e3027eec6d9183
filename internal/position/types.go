package position

import (
	"time"
)

// Timeframe identifies one of the four independent trading horizons.
// Each position belongs to exactly one timeframe and is ticked on its own loop.
type Timeframe string

const (
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// AllTimeframes returns the four timeframes a candidate is opened on.
func AllTimeframes() []Timeframe {
	return []Timeframe{Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d}
}

// BarDuration returns the bar size for the timeframe.
func (tf Timeframe) BarDuration() time.Duration {
	switch tf {
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// IsValid reports whether tf is one of the supported timeframes.
func (tf Timeframe) IsValid() bool {
	switch tf {
	case Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d:
		return true
	}
	return false
}

// TrendState is the discriminated trend-machine state carried by the signal payload.
type TrendState int

const (
	StateS0 TrendState = iota // no structure yet
	StateS1                   // initial breakout
	StateS2                   // established trend
	StateS3                   // extended trend
)

func (s TrendState) String() string {
	switch s {
	case StateS0:
		return "S0"
	case StateS1:
		return "S1"
	case StateS2:
		return "S2"
	case StateS3:
		return "S3"
	default:
		return "UNKNOWN"
	}
}

// Position lifecycle status constants
const (
	StatusDormant   = "DORMANT"   // insufficient price history for this timeframe
	StatusWatchlist = "WATCHLIST" // sufficient history, no holdings
	StatusActive    = "ACTIVE"    // holdings > 0
	StatusPaused    = "PAUSED"    // manually paused, never entered automatically
	StatusArchived  = "ARCHIVED"  // manually retired
)

// ActionType classifies what an execution does to a position.
type ActionType string

const (
	ActionAdd           ActionType = "add"
	ActionTrim          ActionType = "trim"
	ActionEmergencyExit ActionType = "emergency_exit"
)

// SignalCategory identifies the ledger slot a signal execution is recorded under.
// Each category keeps only its most recent execution.
type SignalCategory string

const (
	CategoryFirstEntry   SignalCategory = "first_entry"
	CategoryRetestEntry  SignalCategory = "retest_entry"
	CategoryDipEntry     SignalCategory = "dip_entry"
	CategoryReclaimEntry SignalCategory = "reclaim_entry"
	CategoryTrim         SignalCategory = "trim"
)

// EntryContext is the immutable snapshot of discrete attributes captured once
// when a candidate is approved. All four sibling positions share it.
type EntryContext struct {
	Curator       string    `json:"curator"`
	Chain         string    `json:"chain"`
	Intent        string    `json:"intent"`
	Confidence    string    `json:"confidence"` // low, medium, high
	MarketCapTier string    `json:"market_cap_tier"`
	VolumeTier    string    `json:"volume_tier"`
	AgeTier       string    `json:"age_tier"`
	VolMcapTier   string    `json:"vol_mcap_tier"`
	CapturedAt    time.Time `json:"captured_at"`
}

// LedgerEntry records the most recent execution for one signal category.
type LedgerEntry struct {
	ExecutedAt   time.Time  `json:"executed_at"`
	Price        float64    `json:"price"`
	SizeFraction float64    `json:"size_fraction"`
	Signal       string     `json:"signal"` // originating signal name
	SupportLevel float64    `json:"support_level,omitempty"`
	State        TrendState `json:"state"`              // trend state at execution
	EventAt      time.Time  `json:"event_at,omitempty"` // reclaim event timestamp
}

// ExecutionHistory is the per-position ledger the planner reads for gating.
// Mutated only through ApplyExecution and the tick's prev-state bookkeeping.
type ExecutionHistory struct {
	Entries   map[SignalCategory]*LedgerEntry `json:"entries"`
	PrevState TrendState                      `json:"prev_state"`
}

// NewExecutionHistory returns an empty ledger.
func NewExecutionHistory() ExecutionHistory {
	return ExecutionHistory{Entries: make(map[SignalCategory]*LedgerEntry)}
}

// Entry returns the ledger entry for a category, or nil.
func (h *ExecutionHistory) Entry(cat SignalCategory) *LedgerEntry {
	if h.Entries == nil {
		return nil
	}
	return h.Entries[cat]
}

// LastTrim returns the last trim entry, or nil if the position never trimmed.
func (h *ExecutionHistory) LastTrim() *LedgerEntry {
	return h.Entry(CategoryTrim)
}

// clone returns an independent copy of the ledger, entries included.
func (h ExecutionHistory) clone() ExecutionHistory {
	out := ExecutionHistory{
		Entries:   make(map[SignalCategory]*LedgerEntry, len(h.Entries)),
		PrevState: h.PrevState,
	}
	for cat, e := range h.Entries {
		entry := *e
		out.Entries[cat] = &entry
	}
	return out
}

// CompletedTrade is the immutable record emitted exactly once per full exit.
type CompletedTrade struct {
	ID            string       `json:"id"`
	EntryPrice    float64      `json:"entry_price"`
	ExitPrice     float64      `json:"exit_price"`
	EntryAt       time.Time    `json:"entry_at"`
	ExitAt        time.Time    `json:"exit_at"`
	Return        float64      `json:"return"`
	MaxDrawdown   float64      `json:"max_drawdown"`
	MaxGain       float64      `json:"max_gain"`
	RiskReward    float64      `json:"risk_reward"`
	HasRiskReward bool         `json:"has_risk_reward"` // false when price extremes were unavailable
	Context       EntryContext `json:"context"`
	ClosedBy      ActionType   `json:"closed_by"`
}

// ExecutionResult is what the coordinator applies to a position after the
// external executor confirms a fill. TokensDelta is positive for buys and
// negative for sells; QuoteDelta is USD spent (positive) or received (negative).
type ExecutionResult struct {
	Action       ActionType     `json:"action"`
	Category     SignalCategory `json:"category"`
	Signal       string         `json:"signal"`
	SizeFraction float64        `json:"size_fraction"`
	Price        float64        `json:"price"`
	TokensDelta  float64        `json:"tokens_delta"`
	QuoteDelta   float64        `json:"quote_delta"`
	Slippage     float64        `json:"slippage"`
	SupportLevel float64        `json:"support_level,omitempty"`
	State        TrendState     `json:"state"`
	EventAt      time.Time      `json:"event_at,omitempty"`
	TxRef        string         `json:"tx_ref"`
	ExecutedAt   time.Time      `json:"executed_at"`
}
