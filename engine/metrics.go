package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_mutations_total",
		Help: "Mutations by kind and outcome (rejected, confirmed, rolled_back, aborted).",
	}, []string{"kind", "result"})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quoteflow_rollback_snapshots_restored_total",
		Help: "Optimistic snapshots restored while unwinding failed mutations.",
	})

	remoteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quoteflow_remote_call_duration_seconds",
		Help:    "Latency of calls to the remote store.",
		Buckets: prometheus.DefBuckets,
	}, []string{"call", "outcome"})
)
