package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tokenfolio/internal/circuit"
	"tokenfolio/internal/closure"
	"tokenfolio/internal/decision"
	"tokenfolio/internal/metrics"
	"tokenfolio/internal/position"
	"tokenfolio/internal/signals"
)

// Coordinator runs the execute-and-apply half of a position's pipeline. It
// holds no decision logic: the planner decides, the coordinator executes,
// applies the result to the ledger, and hands the position to the closure
// detector.
type Coordinator struct {
	exec     Executor
	book     *position.Book
	detector *closure.Detector
	breaker  *circuit.Breaker
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewCoordinator creates an execution coordinator. timeout bounds each call
// into the external executor so one hung RPC cannot stall a whole tick.
func NewCoordinator(exec Executor, book *position.Book, detector *closure.Detector, breaker *circuit.Breaker, timeout time.Duration, logger zerolog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Coordinator{
		exec:     exec,
		book:     book,
		detector: detector,
		breaker:  breaker,
		timeout:  timeout,
		logger:   logger.With().Str("component", "ExecutionCoordinator").Logger(),
	}
}

// Execute runs one planned action to completion: executor call, ledger
// update, persistence, closure check. On executor failure the ledger is left
// untouched and the next tick retries naturally.
func (c *Coordinator) Execute(ctx context.Context, pos *position.Position, act *decision.Action, snap *signals.Snapshot) error {
	if c.breaker != nil {
		if ok, reason := c.breaker.Allow(pos.Chain); !ok {
			c.logger.Warn().
				Str("position_id", pos.ID).
				Str("chain", pos.Chain).
				Str("reason", reason).
				Msg("Execution suppressed by circuit breaker")
			return nil
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.exec.Execute(execCtx, act, pos, snap.Price)
	if err != nil || res == nil || res.Status != StatusFilled {
		if err == nil {
			err = ErrExecutionFailed
		}
		if c.breaker != nil {
			c.breaker.RecordFailure(pos.Chain, err)
		}
		metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
		c.logger.Error().
			Err(err).
			Str("position_id", pos.ID).
			Str("timeframe", string(pos.Timeframe)).
			Str("decision", string(act.Type)).
			Msg("Execution failed, ledger unchanged")
		return fmt.Errorf("execute %s for %s: %w", act.Type, pos.ID, err)
	}
	if c.breaker != nil {
		c.breaker.RecordSuccess(pos.Chain)
	}

	execRes := resultToExecution(act, snap, res)
	execRes.ExecutedAt = time.Now()

	if err := pos.ApplyExecution(execRes); err != nil {
		// The venue filled but the ledger rejected the result; this needs a
		// human, so log everything required to replay it.
		c.logger.Error().
			Err(err).
			Str("position_id", pos.ID).
			Str("timeframe", string(pos.Timeframe)).
			Str("decision", string(act.Type)).
			Str("tx_ref", res.TxRef).
			Float64("tokens_delta", res.TokensDelta).
			Msg("Filled execution could not be applied to ledger")
		return fmt.Errorf("apply execution for %s: %w", pos.ID, err)
	}

	metrics.ExecutionsTotal.WithLabelValues("filled").Inc()
	metrics.DecisionsTotal.WithLabelValues(string(act.Type)).Inc()

	c.logger.Info().
		Str("position_id", pos.ID).
		Str("token", pos.Token).
		Str("timeframe", string(pos.Timeframe)).
		Str("decision", string(act.Type)).
		Float64("size_fraction", act.SizeFraction).
		Float64("price", res.Price).
		Str("tx_ref", res.TxRef).
		Strs("reasons", act.Reasons).
		Msg("Execution applied")

	trade, err := c.detector.Check(ctx, pos, execRes)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("position_id", pos.ID).
			Msg("Closure check failed")
	}
	if trade != nil {
		metrics.ClosuresTotal.Inc()
		if trade.HasRiskReward {
			metrics.TradeRiskReward.Observe(trade.RiskReward)
		}
		if err := c.book.PersistTrade(ctx, pos, *trade); err != nil {
			c.logger.Error().
				Err(err).
				Str("trade_id", trade.ID).
				Msg("Failed to persist completed trade")
		}
	}

	if err := c.book.Persist(ctx, pos); err != nil {
		return err
	}
	return nil
}
