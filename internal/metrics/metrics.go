package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OptimizationRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlay",
		Name:      "optimization_runs_total",
		Help:      "Optimization calls by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	OptimizationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "parlay",
		Name:      "optimization_duration_seconds",
		Help:      "Wall-clock duration of optimization calls.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"strategy"})

	CandidatesEvaluated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlay",
		Name:      "candidates_evaluated_total",
		Help:      "Slip candidates scored by the optimizer.",
	}, []string{"strategy"})

	CandidatesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlay",
		Name:      "candidates_rejected_total",
		Help:      "Slip candidates rejected by constraint rule.",
	}, []string{"rule"})

	CopulaFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlay",
		Name:      "copula_fallbacks_total",
		Help:      "Copula fits that fell back to independent sampling.",
	}, []string{"family"})

	CorrelationRepairs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "parlay",
		Name:      "correlation_psd_repairs_total",
		Help:      "Correlation matrices changed by PSD correction.",
	})

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlay",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by kind and result.",
	}, []string{"kind", "result"})

	SearchTruncations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlay",
		Name:      "search_truncations_total",
		Help:      "Searches stopped early by budget or cancellation.",
	}, []string{"strategy"})

	StreamMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlay",
		Name:      "stream_messages_total",
		Help:      "Leg-pool stream messages handled by the worker, by sport and outcome.",
	}, []string{"sport", "outcome"})
)

var registerOnce sync.Once

// Register adds all collectors to reg once per process
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			OptimizationRuns,
			OptimizationDuration,
			CandidatesEvaluated,
			CandidatesRejected,
			CopulaFallbacks,
			CorrelationRepairs,
			CacheLookups,
			SearchTruncations,
			StreamMessages,
		)
	})
}

// CacheResult records a cache lookup outcome
func CacheResult(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(kind, result).Inc()
}
