// Package metrics provides Prometheus metrics collection for the risk engine
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskengine"

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)
)

// Assessment metrics
var (
	assessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_assessments_total",
			Help:      "Total number of completed risk assessments",
		},
		[]string{"level", "action"},
	)

	riskScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Overall risk score distribution",
			Buckets:   []float64{0, 10, 20, 30, 50, 70, 90, 100}, // 0-100 scale
		},
		[]string{"event"},
	)

	assessmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_assessment_duration_seconds",
			Help:      "End-to-end risk assessment latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	analyzerDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_analyzer_degraded_total",
			Help:      "Analyzer runs that fell back to their degraded sub-score",
		},
		[]string{"factor"},
	)

	persistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_persist_failures_total",
			Help:      "Assessments that could not be written to the history store",
		},
	)
)

// Reputation metrics
var (
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_cache_lookups_total",
			Help:      "Reputation cache lookups by outcome",
		},
		[]string{"outcome"}, // hit, miss, fallback
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_cache_evictions_total",
			Help:      "Entries evicted from the reputation cache",
		},
	)

	cacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reputation_cache_size",
			Help:      "Current number of entries in the reputation cache",
		},
	)

	providerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reputation_provider_duration_seconds",
			Help:      "Reputation provider call latency",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "outcome"},
	)
)

// Storage metrics
var (
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "table"},
	)

	cacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shared_cache_operations_total",
			Help:      "Shared (Redis) cache operations",
		},
		[]string{"operation", "outcome"}, // operation: get, set; outcome: hit, miss, error
	)
)

// Middleware returns a Gin middleware that records HTTP metrics.
// serviceName is used as the "service" label on all metrics.
func Middleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(serviceName, c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, c.Request.Method, path).Observe(time.Since(start).Seconds())
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// Handler returns a gin.HandlerFunc that serves Prometheus metrics.
// Register this on the "/metrics" route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAssessment records a completed assessment
func RecordAssessment(event, level, action string, score int, duration time.Duration) {
	assessmentsTotal.WithLabelValues(level, action).Inc()
	riskScoreHistogram.WithLabelValues(event).Observe(float64(score))
	assessmentDuration.Observe(duration.Seconds())
}

// RecordAnalyzerDegraded counts an analyzer that returned its degraded result
func RecordAnalyzerDegraded(factor string) {
	analyzerDegradedTotal.WithLabelValues(factor).Inc()
}

// RecordPersistFailure counts a failed assessment write
func RecordPersistFailure() {
	persistFailuresTotal.Inc()
}

// RecordCacheLookup records a reputation cache lookup outcome
func RecordCacheLookup(outcome string) {
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheEvictions records a bulk eviction and the resulting size
func RecordCacheEvictions(evicted, size int) {
	cacheEvictionsTotal.Add(float64(evicted))
	cacheSize.Set(float64(size))
}

// SetCacheSize sets the current reputation cache size
func SetCacheSize(size int) {
	cacheSize.Set(float64(size))
}

// RecordProviderCall records a reputation provider call
func RecordProviderCall(operation, outcome string, duration time.Duration) {
	providerDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation, table string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordCacheOperation records a shared cache operation
func RecordCacheOperation(operation, outcome string) {
	cacheOperationsTotal.WithLabelValues(operation, outcome).Inc()
}
