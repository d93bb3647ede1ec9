package mutation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// attemptsTotal counts completed mutation attempts, retries included.
// Labels: outcome (success, error)
var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "goquery",
	Subsystem: "mutation",
	Name:      "attempts_total",
	Help:      "Total completed mutation attempts by outcome",
}, []string{"outcome"})
