package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is the outcome of a single check.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the recorded outcome of one check run.
type CheckResult struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	Duration  string       `json:"duration"`
	CheckedAt time.Time    `json:"checked_at"`
}

// HealthReport aggregates every check.
type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthRegistry runs named health checks with a per-check timeout. The
// guard service registers one check per guarded namespace plus any
// backing dependencies.
type HealthRegistry struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthRegistry creates a registry. A zero timeout defaults to 5s.
func NewHealthRegistry(timeout time.Duration, logger *zap.Logger) *HealthRegistry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthRegistry{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds or replaces a named check.
func (hr *HealthRegistry) Register(name string, check CheckFunc) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.checks[name] = check
}

// Deregister removes a named check.
func (hr *HealthRegistry) Deregister(name string) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	delete(hr.checks, name)
}

// Run executes every registered check and aggregates the results. The
// report is unhealthy if any check fails.
func (hr *HealthRegistry) Run(ctx context.Context) HealthReport {
	hr.mu.RLock()
	checks := make(map[string]CheckFunc, len(hr.checks))
	for name, check := range hr.checks {
		checks[name] = check
	}
	hr.mu.RUnlock()

	report := HealthReport{
		Status:    StatusHealthy,
		Checks:    make([]CheckResult, 0, len(checks)),
		Timestamp: time.Now(),
	}

	for name, check := range checks {
		result := hr.runOne(ctx, name, check)
		if result.Status != StatusHealthy {
			report.Status = StatusUnhealthy
		}
		report.Checks = append(report.Checks, result)
	}

	return report
}

func (hr *HealthRegistry) runOne(ctx context.Context, name string, check CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, hr.timeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	elapsed := time.Since(start)

	result := CheckResult{
		Name:      name,
		Status:    StatusHealthy,
		Duration:  elapsed.String(),
		CheckedAt: start,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		hr.logger.Warn("health check failed",
			zap.String("check", name),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	}
	return result
}
