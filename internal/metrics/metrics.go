// Package metrics exposes Prometheus collectors for the RateMyStay service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	placesRequestsTotal           *prometheus.CounterVec
	placesRequestDurationSeconds  *prometheus.HistogramVec
	placesRetriesTotal            *prometheus.CounterVec
	ingestListingsTotal           *prometheus.CounterVec
	ingestRunsTotal               *prometheus.CounterVec
	ingestActiveWorkers           prometheus.Gauge
	searchRequestsTotal           *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	ratemystayRateLimitDelaysSecs *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		placesRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratemystay_places_requests_total",
				Help: "Total number of Places API calls, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		placesRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratemystay_places_request_duration_seconds",
				Help:    "Histogram of Places API call latencies, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"endpoint"},
		)

		placesRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratemystay_places_retries_total",
				Help: "Total number of Places API retries, labeled by endpoint and reason.",
			},
			[]string{"endpoint", "reason"},
		)

		ingestListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratemystay_ingest_listings_total",
				Help: "Total number of places processed by ingestion, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		)

		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratemystay_ingest_runs_total",
				Help: "Total number of ingestion runs, labeled by status.",
			},
			[]string{"status"},
		)

		ingestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratemystay_ingest_active_workers",
				Help: "Number of workers currently running an ingestion.",
			},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratemystay_search_requests_total",
				Help: "Total number of listing searches, labeled by cache result.",
			},
			[]string{"cache"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		ratemystayRateLimitDelaysSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratemystay_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit and page-token wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePlacesRequest records one Places API call.
func ObservePlacesRequest(endpoint, outcome string, duration time.Duration) {
	Init()
	placesRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	placesRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObservePlacesRetry records a retried Places API call.
func ObservePlacesRetry(endpoint, reason string) {
	Init()
	placesRetriesTotal.WithLabelValues(endpoint, reason).Inc()
}

// ObserveListing records the outcome for one ingested place.
func ObserveListing(category, outcome string) {
	Init()
	ingestListingsTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveIngestRun increments the run counter for the given status.
func ObserveIngestRun(status string) {
	Init()
	ingestRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	ingestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	ingestActiveWorkers.Dec()
}

// ObserveSearch records a search request and whether the cache answered it.
func ObserveSearch(cacheResult string) {
	Init()
	searchRequestsTotal.WithLabelValues(cacheResult).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	ratemystayRateLimitDelaysSecs.WithLabelValues(key).Observe(duration.Seconds())
}
