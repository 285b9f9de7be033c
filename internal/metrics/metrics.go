// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "boxtracker"

var (
	// FetchAttemptsTotal counts upstream requests by egress route kind and outcome.
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Upstream search requests by route (direct|proxy) and outcome.",
		},
		[]string{"route", "outcome"},
	)

	FetchExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_exhausted_total",
			Help:      "Search terms that failed every attempt.",
		},
	)

	ProxyPoolResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_pool_resets_total",
			Help:      "Times every proxy was marked failed and the pool was reset.",
		},
	)

	ListingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_total",
			Help:      "Extracted listings by classification (box|other).",
		},
		[]string{"class"},
	)

	SalesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_total",
			Help:      "Parsed box sales by variant and result (new|duplicate|stale|error).",
		},
		[]string{"variant", "result"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one ingestion cycle.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	CycleErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Errors recorded into cycle statistics.",
		},
	)

	SchedulerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the background loop is running.",
		},
	)

	ClassifierModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classifier_model_loaded",
			Help:      "1 when the trained model is in use, 0 in rule-based fallback.",
		},
	)
)

func BoolToGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
