package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// promauto registers against the default registry, so the package shares
// one collector across tests. Tests keep their assertions scoped to a
// namespace they own.
var testCollector = NewComprehensiveCollector("cachekit_test", "metrics")

func TestRecordBreakerStateOneHot(t *testing.T) {
	ns := "cache:breaker"

	testCollector.RecordBreakerState(ns, "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(testCollector.breakerState.WithLabelValues(ns, "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(testCollector.breakerState.WithLabelValues(ns, "closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(testCollector.breakerState.WithLabelValues(ns, "half-open")))

	testCollector.RecordBreakerState(ns, "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(testCollector.breakerState.WithLabelValues(ns, "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(testCollector.breakerState.WithLabelValues(ns, "closed")))

	assert.Equal(t, "closed", testCollector.GetSummary().BreakerStates[ns])
}

func TestGetSummaryAggregation(t *testing.T) {
	ns := "cache:aggregation"

	testCollector.RecordOperation(ns, "get", 10*time.Millisecond, true)
	testCollector.RecordOperation(ns, "get", 20*time.Millisecond, true)
	testCollector.RecordOperation(ns, "set", 30*time.Millisecond, false)
	testCollector.RecordError(ns, "set", "network_error")
	testCollector.RecordRejection(ns, "circuit_open")
	testCollector.RecordRateLimit(ns, true)
	testCollector.RecordRateLimit(ns, false)

	summary := testCollector.GetSummary()

	stat := summary.NamespaceStats[ns]
	assert.Equal(t, int64(3), stat.OperationCount)
	assert.Equal(t, int64(2), stat.ErrorCount, "failed operation plus recorded error")
	assert.Equal(t, int64(1), stat.RejectionCount)
	assert.Greater(t, stat.AverageLatency, time.Duration(0))
	assert.False(t, stat.LastActivity.IsZero())

	assert.GreaterOrEqual(t, summary.TotalOperations, int64(3))
	assert.GreaterOrEqual(t, summary.TotalRejections, int64(1))
	assert.GreaterOrEqual(t, summary.RateLimitHits, int64(1))
	assert.GreaterOrEqual(t, summary.ErrorBreakdown["network_error"], int64(1))
	assert.Greater(t, summary.ErrorRate, 0.0)
}

func TestGetSummaryReturnsCopy(t *testing.T) {
	ns := "cache:copy"
	testCollector.RecordOperation(ns, "get", time.Millisecond, true)
	testCollector.RecordBreakerState(ns, "half-open")

	summary := testCollector.GetSummary()
	summary.BreakerStates[ns] = "tampered"
	summary.ErrorBreakdown["tampered_kind"] = 99
	delete(summary.NamespaceStats, ns)

	fresh := testCollector.GetSummary()
	assert.Equal(t, "half-open", fresh.BreakerStates[ns])
	assert.Zero(t, fresh.ErrorBreakdown["tampered_kind"])
	assert.Contains(t, fresh.NamespaceStats, ns)
}

func TestAdaptiveGauges(t *testing.T) {
	ns := "cache:gauges"

	testCollector.RecordAdaptiveTimeout(ns, "lock", 12.5)
	testCollector.RecordLoadFactor(ns, 1.8)
	testCollector.RecordQueueDepth(ns, 7)
	testCollector.RecordInFlight(ns, 3)

	assert.Equal(t, 12.5, testutil.ToFloat64(testCollector.adaptiveTimeout.WithLabelValues(ns, "lock")))
	assert.Equal(t, 1.8, testutil.ToFloat64(testCollector.loadFactor.WithLabelValues(ns)))
	assert.Equal(t, 7.0, testutil.ToFloat64(testCollector.queueDepth.WithLabelValues(ns)))
	assert.Equal(t, 3.0, testutil.ToFloat64(testCollector.inFlight.WithLabelValues(ns)))
}

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	handler := testCollector.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stats" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/broken", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	stat := testCollector.GetSummary().NamespaceStats["monitoring"]
	assert.Equal(t, int64(2), stat.OperationCount)
	assert.Equal(t, int64(1), stat.ErrorCount)
}

func TestNoOpCollector(t *testing.T) {
	c := NewNoOpCollector()

	c.RecordOperation("ns", "get", time.Millisecond, true)
	c.RecordError("ns", "get", "timeout_error")
	c.RecordRejection("ns", "queue_full")
	c.RecordBreakerState("ns", "open")
	c.RecordRateLimit("ns", true)
	c.RecordAdaptiveTimeout("ns", "lock", 1.0)
	c.RecordLoadFactor("ns", 1.0)
	c.RecordQueueDepth("ns", 1)
	c.RecordInFlight("ns", 1)
	c.RecordRetryAttempt("ns", true)

	assert.Equal(t, Summary{}, c.GetSummary())
}
