// Package executor invokes the external trade executor and applies confirmed
// results to positions. It owns all state mutation around an execution; the
// executor itself persists nothing.
package executor

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"tokenfolio/internal/decision"
	"tokenfolio/internal/position"
	"tokenfolio/internal/signals"
)

// Execution status values returned by the external executor.
const (
	StatusFilled = "FILLED"
	StatusFailed = "FAILED"
)

// Errors for execution
var (
	ErrExecutionFailed = errors.New("executor reported failure")
	ErrNothingToSell   = errors.New("sell decision on empty position")
)

// Result is the external executor's confirmation of one fill.
type Result struct {
	Status      string  `json:"status"`
	TxRef       string  `json:"tx_ref"`
	Price       float64 `json:"price"`
	TokensDelta float64 `json:"tokens_delta"` // + bought, - sold
	QuoteDelta  float64 `json:"quote_delta"`  // + USD spent, - USD received
	Slippage    float64 `json:"slippage"`
}

// Executor is the narrow contract to the external execution venue
// (DEX router, bridge, paper simulator).
type Executor interface {
	Execute(ctx context.Context, act *decision.Action, pos *position.Position, price float64) (*Result, error)
}

// PaperExecutor simulates fills at the signal price with a small random
// slippage. Used for dry runs and tests.
type PaperExecutor struct {
	mu      sync.Mutex
	rng     *rand.Rand
	MaxSlip float64 // max simulated slippage fraction, e.g. 0.005
}

// NewPaperExecutor creates a paper executor.
func NewPaperExecutor(seed int64, maxSlip float64) *PaperExecutor {
	if maxSlip < 0 {
		maxSlip = 0
	}
	return &PaperExecutor{
		rng:     rand.New(rand.NewSource(seed)),
		MaxSlip: maxSlip,
	}
}

// Execute simulates the fill implied by the action.
func (p *PaperExecutor) Execute(_ context.Context, act *decision.Action, pos *position.Position, price float64) (*Result, error) {
	p.mu.Lock()
	slip := p.rng.Float64() * p.MaxSlip
	p.mu.Unlock()

	res := &Result{
		Status:   StatusFilled,
		TxRef:    "paper-" + uuid.NewString(),
		Slippage: slip,
	}

	switch act.Type {
	case position.ActionAdd:
		fillPrice := price * (1 + slip)
		usd := pos.AllocationCap * act.SizeFraction
		res.Price = fillPrice
		res.QuoteDelta = usd
		res.TokensDelta = usd / fillPrice
	case position.ActionTrim, position.ActionEmergencyExit:
		if pos.TotalQuantity <= 0 {
			return nil, ErrNothingToSell
		}
		fillPrice := price * (1 - slip)
		tokens := pos.TotalQuantity * act.SizeFraction
		if act.SizeFraction >= 1.0 {
			tokens = pos.TotalQuantity
		}
		res.Price = fillPrice
		res.TokensDelta = -tokens
		res.QuoteDelta = -(tokens * fillPrice)
	default:
		return nil, errors.New("unknown action type")
	}

	return res, nil
}

// resultToExecution maps an executor confirmation onto the position ledger
// entry it produces.
func resultToExecution(act *decision.Action, snap *signals.Snapshot, res *Result) position.ExecutionResult {
	return position.ExecutionResult{
		Action:       act.Type,
		Category:     act.Category,
		Signal:       act.Signal,
		SizeFraction: act.SizeFraction,
		Price:        res.Price,
		TokensDelta:  res.TokensDelta,
		QuoteDelta:   res.QuoteDelta,
		Slippage:     res.Slippage,
		SupportLevel: snap.SupportLevel,
		State:        snap.State,
		EventAt:      snap.ReclaimAt,
		TxRef:        res.TxRef,
		ExecutedAt:   snap.ReceivedAt,
	}
}
