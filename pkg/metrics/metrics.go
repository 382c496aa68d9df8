// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Search outcomes recorded per backend call.
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeError       = "error"
	OutcomeBreakerOpen = "breaker_open"
	OutcomeCanceled    = "canceled"
)

var (
	// Search backend metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorid_search_requests_total",
			Help: "Search backend calls by outcome",
		},
		[]string{"backend", "outcome"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visitorid_search_duration_seconds",
			Help:    "Latency of search backend calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8},
		},
		[]string{"backend"},
	)

	SearchCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visitorid_search_candidates",
			Help:    "Profile candidates returned per search call after filtering",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
		},
		[]string{"backend"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visitorid_circuit_breaker_state",
			Help: "Circuit breaker state per backend (0=closed, 1=half-open, 2=open)",
		},
		[]string{"backend"},
	)

	// Resolution metrics
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorid_resolutions_total",
			Help: "Profile resolutions by terminal source",
		},
		[]string{"source"},
	)

	ResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "visitorid_resolution_duration_seconds",
			Help:    "End to end profile resolution latency",
			Buckets: []float64{.01, .1, .5, 1, 2.5, 5, 10, 20, 30},
		},
	)

	CandidateScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "visitorid_candidate_score",
			Help:    "Best candidate score per scored batch",
			Buckets: []float64{0, 30, 45, 60, 65, 70, 80, 90, 100, 120},
		},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorid_http_cache_lookups_total",
			Help: "HTTP response cache lookups by result",
		},
		[]string{"result"},
	)

	// Visitor metrics
	VisitorsTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorid_visitors_tracked_total",
			Help: "Visit tracking results by status",
		},
		[]string{"status"},
	)

	StoreConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorid_store_txn_conflicts_total",
			Help: "Store transactions retried after a write conflict",
		},
		[]string{"collection"},
	)

	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorid_geo_lookups_total",
			Help: "IP geolocation lookups by outcome",
		},
		[]string{"outcome"},
	)

	// HTTP API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorid_http_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visitorid_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordSearch records one backend call.
func RecordSearch(backend, outcome string, duration time.Duration, candidates int) {
	SearchRequests.WithLabelValues(backend, outcome).Inc()
	SearchDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if outcome == OutcomeOK || outcome == OutcomeEmpty {
		SearchCandidates.WithLabelValues(backend).Observe(float64(candidates))
	}
}

// RecordResolution records a finished resolution.
func RecordResolution(source string, duration time.Duration) {
	Resolutions.WithLabelValues(source).Inc()
	ResolutionDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records a served HTTP request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
