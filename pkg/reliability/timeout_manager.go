package reliability

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cachekit-reliability/pkg/metrics"
)

const (
	// minLoadFactorSamples is how many operations the manager needs
	// before the load factor moves off its neutral value.
	minLoadFactorSamples = 5

	// loadFactorBaseline is the duration, in seconds, treated as a
	// healthy operation when weighing observed latency.
	loadFactorBaseline = 0.1

	minLoadFactor = 0.5
	maxLoadFactor = 3.0
)

// TimeoutManagerConfig defines the lock timeout adaptor's behavior.
type TimeoutManagerConfig struct {
	BaseLockTimeout     time.Duration `mapstructure:"base_lock_timeout" yaml:"base_lock_timeout"`
	BaseBlockingTimeout time.Duration `mapstructure:"base_blocking_timeout" yaml:"base_blocking_timeout"`

	MinLockTimeout     time.Duration `mapstructure:"min_lock_timeout" yaml:"min_lock_timeout"`
	MaxLockTimeout     time.Duration `mapstructure:"max_lock_timeout" yaml:"max_lock_timeout"`
	MinBlockingTimeout time.Duration `mapstructure:"min_blocking_timeout" yaml:"min_blocking_timeout"`
	MaxBlockingTimeout time.Duration `mapstructure:"max_blocking_timeout" yaml:"max_blocking_timeout"`

	// AdaptationRate in (0, 1] controls exponential smoothing toward the
	// load-derived target. 1.0 jumps immediately.
	AdaptationRate float64 `mapstructure:"adaptation_rate" yaml:"adaptation_rate"`

	// LoadFactorWindow bounds the operation history used to derive load.
	LoadFactorWindow int `mapstructure:"load_factor_window" yaml:"load_factor_window"`
}

// DefaultTimeoutManagerConfig returns the default manager configuration.
func DefaultTimeoutManagerConfig() TimeoutManagerConfig {
	return TimeoutManagerConfig{
		BaseLockTimeout:     10 * time.Second,
		BaseBlockingTimeout: 5 * time.Second,
		MinLockTimeout:      2 * time.Second,
		MaxLockTimeout:      60 * time.Second,
		MinBlockingTimeout:  1 * time.Second,
		MaxBlockingTimeout:  30 * time.Second,
		AdaptationRate:      0.1,
		LoadFactorWindow:    100,
	}
}

// Validate checks configuration invariants.
func (c TimeoutManagerConfig) Validate() error {
	if c.BaseLockTimeout <= 0 || c.BaseBlockingTimeout <= 0 {
		return fmt.Errorf("base timeouts must be > 0, got lock=%s blocking=%s",
			c.BaseLockTimeout, c.BaseBlockingTimeout)
	}
	if c.MinLockTimeout <= 0 || c.MaxLockTimeout < c.MinLockTimeout {
		return fmt.Errorf("lock timeout bounds invalid: min=%s max=%s",
			c.MinLockTimeout, c.MaxLockTimeout)
	}
	if c.MinBlockingTimeout <= 0 || c.MaxBlockingTimeout < c.MinBlockingTimeout {
		return fmt.Errorf("blocking timeout bounds invalid: min=%s max=%s",
			c.MinBlockingTimeout, c.MaxBlockingTimeout)
	}
	if c.AdaptationRate <= 0 || c.AdaptationRate > 1 {
		return fmt.Errorf("adaptation_rate must be in (0, 1], got %g", c.AdaptationRate)
	}
	if c.LoadFactorWindow < 1 {
		return fmt.Errorf("load_factor_window must be >= 1, got %d", c.LoadFactorWindow)
	}
	return nil
}

// TimeoutManagerStats is a point-in-time snapshot of the manager.
type TimeoutManagerStats struct {
	Namespace              string        `json:"namespace"`
	CurrentLockTimeout     time.Duration `json:"current_lock_timeout"`
	BaseLockTimeout        time.Duration `json:"base_lock_timeout"`
	CurrentBlockingTimeout time.Duration `json:"current_blocking_timeout"`
	BaseBlockingTimeout    time.Duration `json:"base_blocking_timeout"`
	LoadFactor             float64       `json:"load_factor"`
	SuccessRate            float64       `json:"success_rate"`
	TotalOperations        int64         `json:"total_operations"`
	DataPoints             int           `json:"data_points"`
	AverageDuration        time.Duration `json:"average_duration"`
	AverageContention      float64       `json:"average_contention"`
}

// AdaptiveTimeoutManager adapts a pair of lock timeouts (acquisition and
// blocking-wait) to observed system load. Load is derived from a bounded
// history of operation durations, outcomes and contention levels; the
// current timeouts move toward load-scaled targets by exponential
// smoothing so a single slow operation cannot whipsaw them. Timeouts are
// advisory values for callers, never enforced here.
type AdaptiveTimeoutManager struct {
	config    TimeoutManagerConfig
	namespace string

	mu            sync.Mutex
	durations     *durationWindow
	contentions   *durationWindow
	outcomes      *durationWindow // 1.0 success, 0.0 failure
	currentLock   float64         // seconds
	currentBlock  float64         // seconds
	loadFactor    float64
	totalOps      int64
	successfulOps int64

	logger    *zap.Logger
	collector metrics.ExtendedCollector
}

// TimeoutManagerOption configures optional collaborators.
type TimeoutManagerOption func(*AdaptiveTimeoutManager)

// WithManagerLogger attaches a structured logger to the manager.
func WithManagerLogger(logger *zap.Logger) TimeoutManagerOption {
	return func(m *AdaptiveTimeoutManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerCollector attaches a metrics collector to the manager.
func WithManagerCollector(collector metrics.ExtendedCollector) TimeoutManagerOption {
	return func(m *AdaptiveTimeoutManager) {
		if collector != nil {
			m.collector = collector
		}
	}
}

// NewAdaptiveTimeoutManager creates a manager for one namespace.
// Configuration violations fail fast.
func NewAdaptiveTimeoutManager(config TimeoutManagerConfig, namespace string, opts ...TimeoutManagerOption) (*AdaptiveTimeoutManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timeout manager config: %w", err)
	}

	m := &AdaptiveTimeoutManager{
		config:       config,
		namespace:    namespace,
		durations:    newDurationWindow(config.LoadFactorWindow),
		contentions:  newDurationWindow(config.LoadFactorWindow),
		outcomes:     newDurationWindow(config.LoadFactorWindow),
		currentLock:  config.BaseLockTimeout.Seconds(),
		currentBlock: config.BaseBlockingTimeout.Seconds(),
		loadFactor:   1.0,
		logger:       zap.NewNop(),
		collector:    metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RecordOperation records an operation outcome, deriving contention from
// how much of the base blocking timeout the operation consumed.
func (m *AdaptiveTimeoutManager) RecordOperation(duration time.Duration, success bool) {
	contention := duration.Seconds() / m.config.BaseBlockingTimeout.Seconds()
	if contention > 1 {
		contention = 1
	}
	m.RecordOperationContention(duration, success, contention)
}

// RecordOperationContention records an operation outcome with an explicit
// contention level in [0, 1]. Out-of-range values are clamped.
func (m *AdaptiveTimeoutManager) RecordOperationContention(duration time.Duration, success bool, contention float64) {
	if duration < 0 {
		return
	}
	if contention < 0 {
		contention = 0
	} else if contention > 1 {
		contention = 1
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}

	m.mu.Lock()
	m.durations.add(duration.Seconds())
	m.contentions.add(contention)
	m.outcomes.add(outcome)
	m.totalOps++
	if success {
		m.successfulOps++
	}

	m.loadFactor = m.computeLoadFactorLocked()
	m.adaptLocked()

	lock, block, lf := m.currentLock, m.currentBlock, m.loadFactor
	m.mu.Unlock()

	m.collector.RecordLoadFactor(m.namespace, lf)
	m.collector.RecordAdaptiveTimeout(m.namespace, "lock", lock)
	m.collector.RecordAdaptiveTimeout(m.namespace, "blocking", block)
}

// computeLoadFactorLocked blends average latency, contention and failure
// rate into a single multiplier in [0.5, 3.0]. Caller must hold m.mu.
func (m *AdaptiveTimeoutManager) computeLoadFactorLocked() float64 {
	if m.durations.len() < minLoadFactorSamples {
		return 1.0
	}

	avgDuration := mean(m.durations.snapshot())
	avgContention := mean(m.contentions.snapshot())
	failureRate := 1.0 - mean(m.outcomes.snapshot())

	factor := 0.4*(avgDuration/loadFactorBaseline) +
		0.3*(1.0+avgContention) +
		0.3*(1.0+2.0*failureRate)

	if factor < minLoadFactor {
		return minLoadFactor
	}
	if factor > maxLoadFactor {
		return maxLoadFactor
	}
	return factor
}

// adaptLocked moves the current timeouts toward their load-scaled targets
// by the configured smoothing rate, respecting the per-timeout bounds.
// Caller must hold m.mu.
func (m *AdaptiveTimeoutManager) adaptLocked() {
	targetLock := m.config.BaseLockTimeout.Seconds() * m.loadFactor
	targetBlock := m.config.BaseBlockingTimeout.Seconds() * m.loadFactor

	m.currentLock += m.config.AdaptationRate * (targetLock - m.currentLock)
	m.currentBlock += m.config.AdaptationRate * (targetBlock - m.currentBlock)

	m.currentLock = clampSeconds(m.currentLock,
		m.config.MinLockTimeout.Seconds(), m.config.MaxLockTimeout.Seconds())
	m.currentBlock = clampSeconds(m.currentBlock,
		m.config.MinBlockingTimeout.Seconds(), m.config.MaxBlockingTimeout.Seconds())
}

// Timeouts returns the current advisory lock and blocking timeouts.
func (m *AdaptiveTimeoutManager) Timeouts() (lock, blocking time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return secondsToDuration(m.currentLock), secondsToDuration(m.currentBlock)
}

// LockTimeout returns the current advisory lock acquisition timeout.
func (m *AdaptiveTimeoutManager) LockTimeout() time.Duration {
	lock, _ := m.Timeouts()
	return lock
}

// BlockingTimeout returns the current advisory blocking-wait timeout.
func (m *AdaptiveTimeoutManager) BlockingTimeout() time.Duration {
	_, blocking := m.Timeouts()
	return blocking
}

// LoadFactor returns the most recently computed load factor.
func (m *AdaptiveTimeoutManager) LoadFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadFactor
}

// Stats returns a snapshot of the manager's observable state.
func (m *AdaptiveTimeoutManager) Stats() TimeoutManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	successRate := 1.0
	if m.totalOps > 0 {
		successRate = float64(m.successfulOps) / float64(m.totalOps)
	}

	var avgDuration time.Duration
	var avgContention float64
	if m.durations.len() > 0 {
		avgDuration = secondsToDuration(mean(m.durations.snapshot()))
		avgContention = mean(m.contentions.snapshot())
	}

	return TimeoutManagerStats{
		Namespace:              m.namespace,
		CurrentLockTimeout:     secondsToDuration(m.currentLock),
		BaseLockTimeout:        m.config.BaseLockTimeout,
		CurrentBlockingTimeout: secondsToDuration(m.currentBlock),
		BaseBlockingTimeout:    m.config.BaseBlockingTimeout,
		LoadFactor:             m.loadFactor,
		SuccessRate:            successRate,
		TotalOperations:        m.totalOps,
		DataPoints:             m.durations.len(),
		AverageDuration:        avgDuration,
		AverageContention:      avgContention,
	}
}

// Reset restores the base timeouts and discards all history.
func (m *AdaptiveTimeoutManager) Reset() {
	m.mu.Lock()
	m.durations.reset()
	m.contentions.reset()
	m.outcomes.reset()
	m.currentLock = m.config.BaseLockTimeout.Seconds()
	m.currentBlock = m.config.BaseBlockingTimeout.Seconds()
	m.loadFactor = 1.0
	m.totalOps = 0
	m.successfulOps = 0
	m.mu.Unlock()

	m.logger.Info("adaptive timeouts reset",
		zap.String("namespace", m.namespace))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clampSeconds(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
