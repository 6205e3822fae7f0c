// Package metrics exposes Prometheus collectors for the dossier service.
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
	validationProbesTotal      *prometheus.CounterVec
	fetchTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	cacheOperationsTotal       *prometheus.CounterVec
	acquisitionsTotal          *prometheus.CounterVec
	acquisitionDuration        prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	pacingDelaySeconds         prometheus.Histogram
	robotsFallbackTotal        prometheus.Counter

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		validationProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_validation_probes_total",
				Help: "URL validation probes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_fetch_total",
				Help: "Content fetches, labeled by fetcher and outcome.",
			},
			[]string{"fetcher", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dossier_fetch_duration_seconds",
				Help:    "Content fetch latency by fetcher.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"fetcher"},
		)

		cacheOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_cache_operations_total",
				Help: "Profile cache operations, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		acquisitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_acquisitions_total",
				Help: "Acquisition runs, labeled by status.",
			},
			[]string{"status"},
		)

		acquisitionDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dossier_acquisition_duration_seconds",
				Help:    "Wall time per acquisition run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dossier_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dossier_sequential_pacing_seconds",
				Help:    "Time the sequential scheduler slept before a dispatch.",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
			},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dossier_robots_fallback_total",
				Help: "robots.txt probes that timed out and were treated as allow-all.",
			},
		)
	})
}

// SanitizeSite reduces a URL to a lowercase hostname for label use.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
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

// ObserveValidation counts one probe outcome (accepted, excluded, error).
func ObserveValidation(outcome string) {
	Init()
	validationProbesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records a fetch outcome and its latency.
func ObserveFetch(fetcher, outcome string, duration time.Duration) {
	Init()
	if fetcher == "" {
		fetcher = "unknown"
	}
	fetchTotal.WithLabelValues(fetcher, outcome).Inc()
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(fetcher).Observe(duration.Seconds())
	}
}

// ObserveCache counts a cache operation result (hit, miss, error, ok).
func ObserveCache(op, result string) {
	Init()
	cacheOperationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveAcquisition records a finished run.
func ObserveAcquisition(status string, duration time.Duration) {
	Init()
	acquisitionsTotal.WithLabelValues(status).Inc()
	acquisitionDuration.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePacingDelay records a sequential-mode sleep.
func ObservePacingDelay(duration time.Duration) {
	Init()
	pacingDelaySeconds.Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe degraded to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}
