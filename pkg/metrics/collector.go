package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector defines the interface for collecting reliability metrics.
// Every guarded component reports through this interface so callers can
// swap Prometheus for a no-op in tests.
type Collector interface {
	RecordOperation(namespace, operation string, duration time.Duration, success bool)
	RecordError(namespace, operation, errorType string)
	RecordRejection(namespace, reason string)
	RecordBreakerState(namespace, state string)
	RecordRateLimit(namespace string, limited bool)
}

// ExtendedCollector adds the gauges the adaptive components update on
// every recalculation.
type ExtendedCollector interface {
	Collector
	RecordAdaptiveTimeout(namespace, timeout string, seconds float64)
	RecordLoadFactor(namespace string, factor float64)
	RecordQueueDepth(namespace string, depth int)
	RecordInFlight(namespace string, count int)
	RecordRetryAttempt(namespace string, success bool)
	GetSummary() Summary
}

// Summary contains aggregated metrics for the stats endpoint.
type Summary struct {
	TotalOperations int64                    `json:"total_operations"`
	TotalErrors     int64                    `json:"total_errors"`
	TotalRejections int64                    `json:"total_rejections"`
	AverageDuration time.Duration            `json:"average_duration"`
	ErrorRate       float64                  `json:"error_rate"`
	RateLimitHits   int64                    `json:"rate_limit_hits"`
	BreakerStates   map[string]string        `json:"breaker_states"`
	LastActivity    time.Time                `json:"last_activity"`
	ErrorBreakdown  map[string]int64         `json:"error_breakdown"`
	NamespaceStats  map[string]NamespaceStat `json:"namespace_stats"`
}

// NamespaceStat contains statistics for a single guarded namespace.
type NamespaceStat struct {
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	RejectionCount int64         `json:"rejection_count"`
	AverageLatency time.Duration `json:"average_latency"`
	LastActivity   time.Time     `json:"last_activity"`
}

// ComprehensiveCollector implements ExtendedCollector with Prometheus
// export plus an in-memory summary for the stats endpoint.
type ComprehensiveCollector struct {
	namespace string
	subsystem string

	// Prometheus metrics
	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	adaptiveTimeout  *prometheus.GaugeVec
	loadFactor       *prometheus.GaugeVec
	queueDepth       *prometheus.GaugeVec
	inFlight         *prometheus.GaugeVec
	rateLimitHits    *prometheus.CounterVec
	retryAttempts    *prometheus.CounterVec

	// Internal tracking
	mu             sync.RWMutex
	summary        Summary
	namespaceStats map[string]*NamespaceStat
	errorBreakdown map[string]int64
}

// NewComprehensiveCollector creates a collector registered against the
// default Prometheus registry.
func NewComprehensiveCollector(namespace, subsystem string) *ComprehensiveCollector {
	if namespace == "" {
		namespace = "cachekit"
	}
	if subsystem == "" {
		subsystem = "reliability"
	}

	c := &ComprehensiveCollector{
		namespace:      namespace,
		subsystem:      subsystem,
		namespaceStats: make(map[string]*NamespaceStat),
		errorBreakdown: make(map[string]int64),
		summary: Summary{
			BreakerStates:  make(map[string]string),
			ErrorBreakdown: make(map[string]int64),
			NamespaceStats: make(map[string]NamespaceStat),
		},
	}

	c.initializePrometheusMetrics()
	return c
}

func (c *ComprehensiveCollector) initializePrometheusMetrics() {
	c.operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "operations_total",
			Help:      "Total number of guarded backend operations",
		},
		[]string{"namespace", "operation", "status"},
	)

	c.operationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of guarded backend operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"namespace", "operation"},
	)

	c.errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "errors_total",
			Help:      "Total number of backend errors by classified kind",
		},
		[]string{"namespace", "operation", "error_type"},
	)

	c.rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "rejections_total",
			Help:      "Total number of calls rejected before reaching the backend",
		},
		[]string{"namespace", "reason"},
	)

	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Current state of each circuit breaker (1 for the active state)",
		},
		[]string{"namespace", "state"},
	)

	c.adaptiveTimeout = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "adaptive_timeout_seconds",
			Help:      "Current value of each adaptive timeout",
		},
		[]string{"namespace", "timeout"},
	)

	c.loadFactor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "load_factor",
			Help:      "Current system load factor derived from operation history",
		},
		[]string{"namespace"},
	)

	c.queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "queue_depth",
			Help:      "Number of callers waiting for an admission permit",
		},
		[]string{"namespace"},
	)

	c.inFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "in_flight",
			Help:      "Number of operations currently holding an admission permit",
		},
		[]string{"namespace"},
	)

	c.rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"namespace"},
	)

	c.retryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts",
		},
		[]string{"namespace", "success"},
	)
}

// RecordOperation records a completed backend operation.
func (c *ComprehensiveCollector) RecordOperation(namespace, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	c.operationsTotal.WithLabelValues(namespace, operation, status).Inc()
	c.operationLatency.WithLabelValues(namespace, operation).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary.TotalOperations++
	c.summary.LastActivity = time.Now()

	stat := c.namespaceStatLocked(namespace)
	stat.OperationCount++
	stat.LastActivity = time.Now()

	if stat.AverageLatency == 0 {
		stat.AverageLatency = duration
	} else {
		stat.AverageLatency = (stat.AverageLatency + duration) / 2
	}

	if c.summary.AverageDuration == 0 {
		c.summary.AverageDuration = duration
	} else {
		c.summary.AverageDuration = (c.summary.AverageDuration + duration) / 2
	}

	if !success {
		c.summary.TotalErrors++
		stat.ErrorCount++
	}
	if c.summary.TotalOperations > 0 {
		c.summary.ErrorRate = float64(c.summary.TotalErrors) / float64(c.summary.TotalOperations)
	}
}

// RecordError records a classified error.
func (c *ComprehensiveCollector) RecordError(namespace, operation, errorType string) {
	c.errorsTotal.WithLabelValues(namespace, operation, errorType).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.errorBreakdown[errorType]++
	c.summary.ErrorBreakdown[errorType] = c.errorBreakdown[errorType]
	c.namespaceStatLocked(namespace).ErrorCount++
}

// RecordRejection records a call shed before reaching the backend.
func (c *ComprehensiveCollector) RecordRejection(namespace, reason string) {
	c.rejectionsTotal.WithLabelValues(namespace, reason).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary.TotalRejections++
	c.namespaceStatLocked(namespace).RejectionCount++
}

// RecordBreakerState records the current circuit breaker state.
func (c *ComprehensiveCollector) RecordBreakerState(namespace, state string) {
	// Exactly one state gauge is 1 per namespace.
	for _, s := range []string{"closed", "half-open", "open"} {
		c.breakerState.WithLabelValues(namespace, s).Set(0)
	}
	c.breakerState.WithLabelValues(namespace, state).Set(1)

	c.mu.Lock()
	c.summary.BreakerStates[namespace] = state
	c.mu.Unlock()
}

// RecordRateLimit records a rate limit decision.
func (c *ComprehensiveCollector) RecordRateLimit(namespace string, limited bool) {
	if limited {
		c.rateLimitHits.WithLabelValues(namespace).Inc()

		c.mu.Lock()
		c.summary.RateLimitHits++
		c.mu.Unlock()
	}
}

// RecordAdaptiveTimeout records the current value of an adaptive timeout.
func (c *ComprehensiveCollector) RecordAdaptiveTimeout(namespace, timeout string, seconds float64) {
	c.adaptiveTimeout.WithLabelValues(namespace, timeout).Set(seconds)
}

// RecordLoadFactor records the current load factor.
func (c *ComprehensiveCollector) RecordLoadFactor(namespace string, factor float64) {
	c.loadFactor.WithLabelValues(namespace).Set(factor)
}

// RecordQueueDepth records the number of waiting callers.
func (c *ComprehensiveCollector) RecordQueueDepth(namespace string, depth int) {
	c.queueDepth.WithLabelValues(namespace).Set(float64(depth))
}

// RecordInFlight records the number of operations holding a permit.
func (c *ComprehensiveCollector) RecordInFlight(namespace string, count int) {
	c.inFlight.WithLabelValues(namespace).Set(float64(count))
}

// RecordRetryAttempt records a retry attempt outcome.
func (c *ComprehensiveCollector) RecordRetryAttempt(namespace string, success bool) {
	successStr := "false"
	if success {
		successStr = "true"
	}
	c.retryAttempts.WithLabelValues(namespace, successStr).Inc()
}

// GetSummary returns a copy of the aggregated metrics.
func (c *ComprehensiveCollector) GetSummary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := Summary{
		TotalOperations: c.summary.TotalOperations,
		TotalErrors:     c.summary.TotalErrors,
		TotalRejections: c.summary.TotalRejections,
		AverageDuration: c.summary.AverageDuration,
		ErrorRate:       c.summary.ErrorRate,
		RateLimitHits:   c.summary.RateLimitHits,
		LastActivity:    c.summary.LastActivity,
		BreakerStates:   make(map[string]string),
		ErrorBreakdown:  make(map[string]int64),
		NamespaceStats:  make(map[string]NamespaceStat),
	}

	for k, v := range c.summary.BreakerStates {
		summary.BreakerStates[k] = v
	}
	for k, v := range c.errorBreakdown {
		summary.ErrorBreakdown[k] = v
	}
	for k, v := range c.namespaceStats {
		summary.NamespaceStats[k] = *v
	}

	return summary
}

func (c *ComprehensiveCollector) namespaceStatLocked(namespace string) *NamespaceStat {
	if c.namespaceStats[namespace] == nil {
		c.namespaceStats[namespace] = &NamespaceStat{}
	}
	return c.namespaceStats[namespace]
}

// HTTPMiddleware records request metrics for the monitoring server itself.
func (c *ComprehensiveCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     200,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		c.RecordOperation("monitoring", r.URL.Path, duration, wrapped.statusCode < 400)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
