package backtester

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts completed backtest runs by outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtester_runs_total",
			Help: "Total number of backtest runs",
		},
		[]string{"outcome"},
	)

	// RunDurationSeconds tracks wall-clock duration of a run.
	RunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtester_run_duration_seconds",
		Help:    "Duration of a backtest run",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	// BarsProcessedTotal counts simulated bars.
	BarsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_bars_processed_total",
		Help: "Total number of bars processed across runs",
	})

	// OrdersSubmittedTotal counts orders emitted by the rebalancer.
	OrdersSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_orders_submitted_total",
		Help: "Total number of orders submitted",
	})

	// OrdersDroppedTotal counts orders dropped for lack of a usable mark.
	OrdersDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_orders_dropped_total",
		Help: "Total number of orders dropped unfilled",
	})

	// FillsExecutedTotal counts executed fills.
	FillsExecutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_fills_executed_total",
		Help: "Total number of fills executed",
	})
)
