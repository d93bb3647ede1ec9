package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchesTotal counts completed fetches.
	// Labels: outcome (success, error, panic)
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goquery",
		Subsystem: "query",
		Name:      "fetches_total",
		Help:      "Total completed query fetches by outcome",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "goquery",
		Subsystem: "query",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of query fetches that were applied to state",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	retriesScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goquery",
		Subsystem: "query",
		Name:      "retries_scheduled_total",
		Help:      "Retry timers scheduled after a failed fetch",
	})

	pausedFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goquery",
		Subsystem: "query",
		Name:      "paused_fetches_total",
		Help:      "Fetch requests deferred by pause or execution policy",
	})

	invalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goquery",
		Subsystem: "query",
		Name:      "invalidations_total",
		Help:      "Invalidation broadcasts issued through a client",
	})

	// staleCompletionsTotal counts fetch results and timer firings dropped because the
	// operation had been superseded or cancelled.
	staleCompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goquery",
		Subsystem: "query",
		Name:      "stale_completions_total",
		Help:      "Fetch completions and timer firings discarded after cancellation",
	})
)
