package position

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Default number of bars required before a dormant position starts watching.
const DefaultHistoryThreshold = 350

// Errors for position state transitions
var (
	ErrNotWatching      = errors.New("position is not accepting executions")
	ErrOversell         = errors.New("execution sells more than position holds")
	ErrZeroDelta        = errors.New("execution carries no token delta")
	ErrWrongDirection   = errors.New("token delta direction does not match action")
	ErrManualFromActive = errors.New("cannot pause or archive an active position")
)

// Position tracks one (token, chain, timeframe) holding through its lifecycle.
// Quantity and investment fields are written only by ApplyExecution and
// CloseCycle; every other component reads them.
//
// The tick pipeline reads fields directly, serialized by the book's
// per-position lock. Everything outside that pipeline (API handlers,
// cross-timeframe exposure aggregation) must read through Clone.
type Position struct {
	mu sync.RWMutex

	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Chain     string    `json:"chain"`
	Timeframe Timeframe `json:"timeframe"`

	Status string `json:"status"`

	TotalQuantity     float64 `json:"total_quantity"`
	TotalInvestment   float64 `json:"total_investment"`
	TotalExtracted    float64 `json:"total_extracted"`
	TotalTokensBought float64 `json:"total_tokens_bought"`
	TotalTokensSold   float64 `json:"total_tokens_sold"`
	AllocationCap     float64 `json:"allocation_cap"`

	Context EntryContext     `json:"context"`
	History ExecutionHistory `json:"history"`

	CompletedTrades []CompletedTrade `json:"completed_trades"`

	BarsCount    int        `json:"bars_count"`
	FirstEntryAt time.Time  `json:"first_entry_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// New creates a dormant position for one timeframe of an approved candidate.
func New(id, token, chain string, tf Timeframe, allocationCap float64, ctx EntryContext) *Position {
	now := time.Now()
	return &Position{
		ID:            id,
		Token:         token,
		Chain:         chain,
		Timeframe:     tf,
		Status:        StatusDormant,
		AllocationCap: allocationCap,
		Context:       ctx,
		History:       NewExecutionHistory(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Holdings returns the current token quantity.
func (p *Position) Holdings() float64 {
	return p.TotalQuantity
}

// IsActive reports whether the position currently holds tokens.
func (p *Position) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status == StatusActive
}

// Clone returns a deep copy of the position. Concurrent-safe against the
// pipeline's mutators, so JSON encoding or aggregation over the copy can
// never race with ApplyExecution writing the ledger map.
func (p *Position) Clone() *Position {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cp := &Position{
		ID:                p.ID,
		Token:             p.Token,
		Chain:             p.Chain,
		Timeframe:         p.Timeframe,
		Status:            p.Status,
		TotalQuantity:     p.TotalQuantity,
		TotalInvestment:   p.TotalInvestment,
		TotalExtracted:    p.TotalExtracted,
		TotalTokensBought: p.TotalTokensBought,
		TotalTokensSold:   p.TotalTokensSold,
		AllocationCap:     p.AllocationCap,
		Context:           p.Context,
		History:           p.History.clone(),
		BarsCount:         p.BarsCount,
		FirstEntryAt:      p.FirstEntryAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
	if len(p.CompletedTrades) > 0 {
		cp.CompletedTrades = append([]CompletedTrade(nil), p.CompletedTrades...)
	}
	if p.ClosedAt != nil {
		closedAt := *p.ClosedAt
		cp.ClosedAt = &closedAt
	}
	return cp
}

// Tradeable reports whether the planner should consider this position at all.
func (p *Position) Tradeable() bool {
	if p.AllocationCap <= 0 {
		return false
	}
	return p.Status == StatusWatchlist || p.Status == StatusActive
}

// ObserveBars records the observed history depth and promotes a dormant
// position to the watchlist once the threshold is reached. This is the only
// transition not caused by an execution.
func (p *Position) ObserveBars(count, threshold int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if count > p.BarsCount {
		p.BarsCount = count
	}
	if threshold <= 0 {
		threshold = DefaultHistoryThreshold
	}
	if p.Status == StatusDormant && p.BarsCount >= threshold {
		p.Status = StatusWatchlist
		p.UpdatedAt = time.Now()
	}
}

// ApplyExecution applies a confirmed execution result to the position. It is
// the sole writer of quantity/investment fields and of the execution ledger.
func (p *Position) ApplyExecution(res ExecutionResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Status != StatusWatchlist && p.Status != StatusActive {
		return fmt.Errorf("%w: status=%s", ErrNotWatching, p.Status)
	}
	if res.TokensDelta == 0 {
		return ErrZeroDelta
	}

	switch res.Action {
	case ActionAdd:
		if res.TokensDelta < 0 {
			return ErrWrongDirection
		}
		p.TotalQuantity += res.TokensDelta
		p.TotalTokensBought += res.TokensDelta
		p.TotalInvestment += res.QuoteDelta
		if p.FirstEntryAt.IsZero() {
			p.FirstEntryAt = res.ExecutedAt
		}
	case ActionTrim, ActionEmergencyExit:
		if res.TokensDelta > 0 {
			return ErrWrongDirection
		}
		sold := -res.TokensDelta
		if sold > p.TotalQuantity+1e-9 {
			return fmt.Errorf("%w: sell=%f held=%f", ErrOversell, sold, p.TotalQuantity)
		}
		p.TotalQuantity -= sold
		if p.TotalQuantity < 1e-9 {
			p.TotalQuantity = 0
		}
		p.TotalTokensSold += sold
		p.TotalExtracted += -res.QuoteDelta
	default:
		return fmt.Errorf("unknown action %q", res.Action)
	}

	p.History.Entries[res.Category] = &LedgerEntry{
		ExecutedAt:   res.ExecutedAt,
		Price:        res.Price,
		SizeFraction: res.SizeFraction,
		Signal:       res.Signal,
		SupportLevel: res.SupportLevel,
		State:        res.State,
		EventAt:      res.EventAt,
	}

	if p.TotalQuantity > 0 {
		p.Status = StatusActive
	}
	p.UpdatedAt = time.Now()
	return nil
}

// ObserveState records the signal state seen this tick so the next tick can
// detect state transitions. Called after planning, before the next tick reads.
func (p *Position) ObserveState(state TrendState) {
	p.mu.Lock()
	p.History.PrevState = state
	p.mu.Unlock()
}

// AverageEntryPrice returns the average cost basis of the current cycle.
func (p *Position) AverageEntryPrice() float64 {
	if p.TotalTokensBought <= 0 {
		return 0
	}
	return p.TotalInvestment / p.TotalTokensBought
}

// CloseCycle appends the completed trade, reverts the position to the
// watchlist, and resets the per-cycle accumulators so the next cycle computes
// a fresh cost basis. The position itself is never deleted.
func (p *Position) CloseCycle(trade CompletedTrade) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompletedTrades = append(p.CompletedTrades, trade)
	now := time.Now()
	p.Status = StatusWatchlist
	p.ClosedAt = &now
	p.TotalQuantity = 0
	p.TotalInvestment = 0
	p.TotalExtracted = 0
	p.TotalTokensBought = 0
	p.TotalTokensSold = 0
	p.FirstEntryAt = time.Time{}
	p.UpdatedAt = now
}

// Pause moves a non-active position into the paused state.
func (p *Position) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Status == StatusActive {
		return ErrManualFromActive
	}
	p.Status = StatusPaused
	p.UpdatedAt = time.Now()
	return nil
}

// Resume returns a paused position to the watchlist (or dormant when history
// is still insufficient).
func (p *Position) Resume(threshold int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Status != StatusPaused && p.Status != StatusArchived {
		return
	}
	if threshold <= 0 {
		threshold = DefaultHistoryThreshold
	}
	if p.BarsCount >= threshold {
		p.Status = StatusWatchlist
	} else {
		p.Status = StatusDormant
	}
	p.UpdatedAt = time.Now()
}

// Archive retires a non-active position.
func (p *Position) Archive() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Status == StatusActive {
		return ErrManualFromActive
	}
	p.Status = StatusArchived
	p.UpdatedAt = time.Now()
	return nil
}

// CheckInvariant verifies status and holdings agree. Used by tests and the
// engine's defensive logging.
func (p *Position) CheckInvariant() error {
	if p.TotalQuantity > 0 && p.Status != StatusActive {
		return fmt.Errorf("position %s holds %f tokens but status is %s", p.ID, p.TotalQuantity, p.Status)
	}
	if p.TotalQuantity == 0 && p.Status == StatusActive {
		return fmt.Errorf("position %s is active with zero holdings", p.ID)
	}
	return nil
}
