// Package monitoring provides metrics and observability for the bulk progress monitor
package monitoring

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Poller metrics
	pollTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkmon_poll_total",
			Help: "Total number of bulk progress polls",
		},
		[]string{"status"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulkmon_poll_duration_seconds",
			Help:    "Duration of bulk progress polls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	pollSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulkmon_poll_suppressed_total",
			Help: "Total number of polled snapshots dropped as duplicates",
		},
	)

	activePollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bulkmon_active_pollers",
			Help: "Number of running progress pollers",
		},
	)

	// Monitor metrics
	activeMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bulkmon_active_monitors",
			Help: "Number of bulk jobs currently monitored",
		},
	)

	monitorsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkmon_monitors_finished_total",
			Help: "Total number of monitors that stopped, by outcome",
		},
		[]string{"outcome"},
	)

	jobThroughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bulkmon_job_throughput_messages_per_second",
			Help: "Most recent observed send rate of a monitored job",
		},
		[]string{"job_id"},
	)

	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkmon_alerts_total",
			Help: "Total number of alerts raised, by type",
		},
		[]string{"type"},
	)

	// Upstream API metrics
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkmon_upstream_requests_total",
			Help: "Total number of requests to the messaging API",
		},
		[]string{"operation", "status"},
	)

	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulkmon_upstream_request_duration_seconds",
			Help:    "Duration of requests to the messaging API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Cache metrics
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkmon_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"operation"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkmon_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"operation"},
	)

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkmon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulkmon_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

// RecordPoll records metrics for a single progress poll
func RecordPoll(status string, duration float64) {
	pollTotal.WithLabelValues(status).Inc()
	pollDuration.WithLabelValues(status).Observe(duration)
}

// RecordPollSuppressed records a snapshot dropped as a duplicate
func RecordPollSuppressed() {
	pollSuppressed.Inc()
}

// AddActivePollers adjusts the running pollers gauge
func AddActivePollers(delta int) {
	activePollers.Add(float64(delta))
}

// AddActiveMonitors adjusts the monitored jobs gauge
func AddActiveMonitors(delta int) {
	activeMonitors.Add(float64(delta))
}

// RecordMonitorFinished records why a monitor stopped (complete, error, closed)
func RecordMonitorFinished(outcome string) {
	monitorsFinished.WithLabelValues(outcome).Inc()
}

// SetJobThroughput updates the throughput gauge of a job
func SetJobThroughput(jobID string, rate float64) {
	jobThroughput.WithLabelValues(jobID).Set(rate)
}

// ClearJobThroughput removes the throughput series of a finished job
func ClearJobThroughput(jobID string) {
	jobThroughput.DeleteLabelValues(jobID)
}

// RecordAlert records a raised alert
func RecordAlert(alertType AlertType) {
	alertsTotal.WithLabelValues(string(alertType)).Inc()
}

// RecordUpstreamRequest records metrics for a messaging API call
func RecordUpstreamRequest(operation, status string, duration float64) {
	upstreamRequestsTotal.WithLabelValues(operation, status).Inc()
	upstreamRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordCacheHit records a cache hit
func RecordCacheHit(operation string) {
	cacheHits.WithLabelValues(operation).Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(operation string) {
	cacheMisses.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration)
}

// SetupMetricsEndpoint exposes the Prometheus registry on the given router
func SetupMetricsEndpoint(router *mux.Router) {
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}
