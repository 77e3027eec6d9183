// Package metrics exposes Prometheus collectors for the trading loop.
// Registered in init() and served at /metrics by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DecisionsTotal counts planner actions that executed, by action type.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenfolio_decisions_total",
			Help: "Executed decisions by action type",
		},
		[]string{"type"}, // add|trim|emergency_exit
	)

	// ExecutionsTotal counts executor calls by outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenfolio_executions_total",
			Help: "Executor calls by outcome",
		},
		[]string{"status"}, // filled|failed
	)

	// ClosuresTotal counts full position exits.
	ClosuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenfolio_closures_total",
			Help: "Completed trades (full exits)",
		},
	)

	// TradeRiskReward observes realized R/R of completed trades.
	TradeRiskReward = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokenfolio_trade_risk_reward",
			Help:    "Realized risk/reward of completed trades",
			Buckets: []float64{-10, -5, -2, -1, -0.5, 0, 0.5, 1, 2, 5, 10},
		},
	)

	// CoefficientUpdatesTotal counts coefficient-store upserts.
	CoefficientUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenfolio_coefficient_updates_total",
			Help: "Coefficient record upserts",
		},
	)

	// ActivePositions gauges open positions per timeframe.
	ActivePositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tokenfolio_active_positions",
			Help: "Positions currently holding tokens",
		},
		[]string{"timeframe"},
	)

	// TickDuration observes per-timeframe tick wall time.
	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tokenfolio_tick_duration_seconds",
			Help:    "Tick duration per timeframe",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"timeframe"},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		ExecutionsTotal,
		ClosuresTotal,
		TradeRiskReward,
		CoefficientUpdatesTotal,
		ActivePositions,
		TickDuration,
	)
}
