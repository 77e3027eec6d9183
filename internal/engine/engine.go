// Package engine runs the per-timeframe tick loops that drive the whole
// pipeline: fetch signals, plan, execute, observe. One loop per timeframe,
// one bounded worker pool shared across them.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tokenfolio/internal/decision"
	"tokenfolio/internal/edge"
	"tokenfolio/internal/executor"
	"tokenfolio/internal/learning"
	"tokenfolio/internal/metrics"
	"tokenfolio/internal/position"
	"tokenfolio/internal/signals"
)

// Config holds engine tuning.
type Config struct {
	WorkerCount      int
	HistoryThreshold int
	// TickInterval overrides the per-bar cadence when positive. Used by paper
	// runs and tests; production ticks once per bar.
	TickInterval      time.Duration
	RecomputeInterval time.Duration
}

// Engine owns the tick loops and assembles the learned sizing inputs for the
// planner each tick.
type Engine struct {
	cfg         Config
	book        *position.Book
	source      signals.Source
	planner     *decision.Planner
	coordinator *executor.Coordinator
	learner     *learning.Engine
	edges       *edge.Aggregator
	exposure    *edge.ExposureTracker
	logger      zerolog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates an engine. learner and edges may be nil; sizing then stays neutral.
func New(cfg Config, book *position.Book, source signals.Source, planner *decision.Planner,
	coordinator *executor.Coordinator, learner *learning.Engine, edges *edge.Aggregator,
	exposure *edge.ExposureTracker, logger zerolog.Logger) *Engine {

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	if cfg.HistoryThreshold <= 0 {
		cfg.HistoryThreshold = position.DefaultHistoryThreshold
	}
	return &Engine{
		cfg:         cfg,
		book:        book,
		source:      source,
		planner:     planner,
		coordinator: coordinator,
		learner:     learner,
		edges:       edges,
		exposure:    exposure,
		logger:      logger.With().Str("component", "Engine").Logger(),
		sem:         make(chan struct{}, cfg.WorkerCount),
	}
}

// Run starts one loop per timeframe and blocks until the context is cancelled
// and every in-flight position pipeline has drained.
func (e *Engine) Run(ctx context.Context) {
	for _, tf := range position.AllTimeframes() {
		e.wg.Add(1)
		go e.loop(ctx, tf)
	}

	if e.edges != nil && e.cfg.RecomputeInterval > 0 {
		e.wg.Add(1)
		go e.recomputeLoop(ctx)
	}

	<-ctx.Done()
	e.wg.Wait()
	e.logger.Info().Msg("Engine drained and stopped")
}

// loop ticks one timeframe at its bar cadence.
func (e *Engine) loop(ctx context.Context, tf position.Timeframe) {
	defer e.wg.Done()

	interval := e.cfg.TickInterval
	if interval <= 0 {
		interval = tf.BarDuration()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().
		Str("timeframe", string(tf)).
		Dur("interval", interval).
		Msg("Tick loop started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx, tf)
		}
	}
}

// Tick runs one full pass over a timeframe's positions. Exported so paper
// runs and tests can drive the engine synchronously.
func (e *Engine) Tick(ctx context.Context, tf position.Timeframe) {
	started := time.Now()
	snapshots := e.source.Fetch(tf)

	if e.exposure != nil {
		e.exposure.Update(e.book.ActivePositions())
	}

	var tickWG sync.WaitGroup
	active := 0
	for _, pos := range e.book.ByTimeframe(tf) {
		if pos.IsActive() {
			active++
		}
		snap := snapshots[pos.Token+"/"+pos.Chain+"/"+string(tf)]

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			tickWG.Wait()
			return
		}
		tickWG.Add(1)
		go func(pos *position.Position, snap *signals.Snapshot) {
			defer func() {
				<-e.sem
				tickWG.Done()
			}()
			e.process(ctx, pos, snap)
		}(pos, snap)
	}
	tickWG.Wait()

	metrics.ActivePositions.WithLabelValues(string(tf)).Set(float64(active))
	metrics.TickDuration.WithLabelValues(string(tf)).Observe(time.Since(started).Seconds())
}

// process runs one position through observe, plan, and execute. Skips the
// position when its previous tick's pipeline is still in flight.
func (e *Engine) process(ctx context.Context, pos *position.Position, snap *signals.Snapshot) {
	if !e.book.TryAcquire(pos) {
		e.logger.Debug().
			Str("position_id", pos.ID).
			Str("timeframe", string(pos.Timeframe)).
			Msg("Previous pipeline still in flight, skipping tick")
		return
	}
	defer e.book.Release(pos)

	if snap == nil {
		// No fresh signal this tick; a silent hold.
		return
	}

	pos.ObserveBars(snap.BarsCount, e.cfg.HistoryThreshold)

	if pos.Tradeable() {
		ls := e.learnedSizing(ctx, pos)
		if act := e.planner.Plan(pos, snap, ls, time.Now()); act != nil {
			if err := e.coordinator.Execute(ctx, pos, act, snap); err != nil {
				e.logger.Warn().
					Err(err).
					Str("position_id", pos.ID).
					Str("decision", string(act.Type)).
					Msg("Tick execution failed")
			}
		}
	}

	pos.ObserveState(snap.State)

	if err := pos.CheckInvariant(); err != nil {
		e.logger.Error().Err(err).Msg("Position invariant violated")
	}

	if err := e.book.Persist(ctx, pos); err != nil {
		e.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("Tick persist failed")
	}
}

// learnedSizing assembles the three learned multipliers for one position.
func (e *Engine) learnedSizing(ctx context.Context, pos *position.Position) decision.LearnedSizing {
	ls := decision.NeutralSizing()
	if e.learner != nil {
		ls.CoefficientWeight = e.learner.SizingWeight(ctx, pos.Context, pos.Timeframe)
	}
	if e.edges != nil {
		ls.PatternStrength = e.edges.PatternStrength(pos.Context, pos.Timeframe)
	}
	if e.exposure != nil {
		ls.ExposureSkew = e.exposure.Skew(pos.Context, pos.Timeframe)
	}
	return ls
}

// recomputeLoop periodically refits every scope's decay descriptor.
func (e *Engine) recomputeLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.RecomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.edges.RecomputeAll()
			e.logger.Debug().Msg("Recomputed edge decay descriptors")
		}
	}
}
