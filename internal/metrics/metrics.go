// Package metrics exposes Prometheus collectors for the acquisition and
// resolution pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	activeJobs                 prometheus.Gauge
	recordsUpsertedTotal       *prometheus.CounterVec
	recordsRejectedTotal       *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchErrorsTotal           *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	resolutionMatchesTotal     *prometheus.CounterVec
	reviewQueuedTotal          prometheus.Counter
	entityMergesTotal          prometheus.Counter
	signalsTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_jobs_total",
				Help: "Total number of scraper jobs finished, labeled by jurisdiction and status.",
			},
			[]string{"jurisdiction", "status"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "resolver_active_jobs",
				Help: "Number of scraper jobs currently running.",
			},
		)

		recordsUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_records_upserted_total",
				Help: "Total number of records written, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		recordsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_records_rejected_total",
				Help: "Total number of source rows rejected for format errors.",
			},
			[]string{"source"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resolver_fetch_duration_seconds",
				Help:    "Histogram of outbound source fetch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"source"},
		)

		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_fetch_errors_total",
				Help: "Total number of failed outbound fetches, labeled by source and class.",
			},
			[]string{"source", "class"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resolver_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		resolutionMatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_resolution_matches_total",
				Help: "Total number of record mentions resolved, labeled by match layer.",
			},
			[]string{"layer"},
		)

		reviewQueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "resolver_review_queued_total",
				Help: "Total number of sub-threshold matches routed to manual review.",
			},
		)

		entityMergesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "resolver_entity_merges_total",
				Help: "Total number of entity merges.",
			},
		)

		signalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_signals_total",
				Help: "Total number of signals emitted, labeled by type and strength.",
			},
			[]string{"type", "strength"},
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
	})
}

// SanitizeHost extracts a lowercase hostname from a URL for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(jurisdiction, status string) {
	Init()
	jobsTotal.WithLabelValues(jurisdiction, status).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveUpsert counts one record write.
func ObserveUpsert(kind, outcome string) {
	Init()
	recordsUpsertedTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRejected counts one rejected source row.
func ObserveRejected(source string) {
	Init()
	recordsRejectedTotal.WithLabelValues(source).Inc()
}

// ObserveFetch records the latency of one outbound call.
func ObserveFetch(source string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveFetchError counts a failed outbound call by error class.
func ObserveFetchError(source, class string) {
	Init()
	fetchErrorsTotal.WithLabelValues(source, class).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveMatch counts one resolved mention by layer.
func ObserveMatch(layer string) {
	Init()
	resolutionMatchesTotal.WithLabelValues(layer).Inc()
}

// ObserveReviewQueued counts one review item.
func ObserveReviewQueued() {
	Init()
	reviewQueuedTotal.Inc()
}

// ObserveMerge counts one entity merge.
func ObserveMerge() {
	Init()
	entityMergesTotal.Inc()
}

// ObserveSignal counts one emitted signal.
func ObserveSignal(signalType, strength string) {
	Init()
	signalsTotal.WithLabelValues(signalType, strength).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
