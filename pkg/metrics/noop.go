package metrics

import "time"

// NoOpCollector provides a no-op implementation of ExtendedCollector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op metrics collector.
func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (n *NoOpCollector) RecordOperation(namespace, operation string, duration time.Duration, success bool) {
}
func (n *NoOpCollector) RecordError(namespace, operation, errorType string)           {}
func (n *NoOpCollector) RecordRejection(namespace, reason string)                     {}
func (n *NoOpCollector) RecordBreakerState(namespace, state string)                   {}
func (n *NoOpCollector) RecordRateLimit(namespace string, limited bool)               {}
func (n *NoOpCollector) RecordAdaptiveTimeout(namespace, timeout string, sec float64) {}
func (n *NoOpCollector) RecordLoadFactor(namespace string, factor float64)            {}
func (n *NoOpCollector) RecordQueueDepth(namespace string, depth int)                 {}
func (n *NoOpCollector) RecordInFlight(namespace string, count int)                   {}
func (n *NoOpCollector) RecordRetryAttempt(namespace string, success bool)            {}
func (n *NoOpCollector) GetSummary() Summary                                          { return Summary{} }
