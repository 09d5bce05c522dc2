// Package telemetry defines the Prometheus metrics exported by the crawl
// engine and the HTTP API.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	crawlPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawld_pages_total",
			Help: "Pages processed, labeled by host and outcome.",
		},
		[]string{"host", "outcome"},
	)

	crawlBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawld_bytes_total",
			Help: "Response bytes fetched, labeled by host.",
		},
		[]string{"host"},
	)

	crawlJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawld_jobs_total",
			Help: "Crawl jobs reaching a terminal status.",
		},
		[]string{"status"},
	)

	crawlActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawld_active_workers",
			Help: "Workers currently processing a URL.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawld_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-host token bucket.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawld_http_request_duration_seconds",
			Help:    "API request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// CountPage records one processed page by outcome.
func CountPage(host, outcome string) {
	crawlPagesTotal.WithLabelValues(host, outcome).Inc()
}

// CountBytes accumulates fetched response bytes for a host.
func CountBytes(host string, n int) {
	if n > 0 {
		crawlBytesTotal.WithLabelValues(host).Add(float64(n))
	}
}

// CountJob records a job reaching a terminal status.
func CountJob(status string) {
	crawlJobsTotal.WithLabelValues(status).Inc()
}

// WorkerStarted marks one worker as busy.
func WorkerStarted() { crawlActiveWorkers.Inc() }

// WorkerStopped marks one worker as idle.
func WorkerStopped() { crawlActiveWorkers.Dec() }

// ObserveRateLimitDelay records a token-bucket wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveRequest records one API request's latency.
func ObserveRequest(method, route string, d time.Duration) {
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
