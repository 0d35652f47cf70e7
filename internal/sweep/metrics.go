package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_sweep_runs_total",
		Help: "Number of expiry sweep invocations.",
	})

	sweepRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_sweep_records_total",
		Help: "Records handled by the expiry sweep, by outcome.",
	}, []string{"outcome"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_sweep_duration_seconds",
		Help:    "Duration of one full sweep pass.",
		Buckets: prometheus.DefBuckets,
	})
)
