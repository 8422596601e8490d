package reliability

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// minTimeoutSamples is how many observations the estimator needs
	// before it trusts the percentile over the conservative default.
	minTimeoutSamples = 10

	// timeoutSafetyMultiplier is the headroom applied on top of the
	// observed percentile.
	timeoutSafetyMultiplier = 1.5
)

// durationWindow is a fixed-capacity FIFO of latency samples in seconds.
// When full, recording evicts the oldest sample. Not safe for concurrent
// use; AdaptiveTimeout serializes access.
type durationWindow struct {
	samples  []float64
	capacity int
	head     int
	size     int
}

func newDurationWindow(capacity int) *durationWindow {
	return &durationWindow{
		samples:  make([]float64, capacity),
		capacity: capacity,
	}
}

func (w *durationWindow) add(seconds float64) {
	w.samples[(w.head+w.size)%w.capacity] = seconds
	if w.size < w.capacity {
		w.size++
	} else {
		w.head = (w.head + 1) % w.capacity
	}
}

func (w *durationWindow) len() int {
	return w.size
}

func (w *durationWindow) reset() {
	w.head = 0
	w.size = 0
}

// snapshot returns the samples oldest-first in a fresh slice.
func (w *durationWindow) snapshot() []float64 {
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.samples[(w.head+i)%w.capacity]
	}
	return out
}

// AdaptiveTimeoutConfig defines the percentile estimator's behavior.
type AdaptiveTimeoutConfig struct {
	// Percentile of observed latency the timeout tracks, in (0, 100].
	Percentile float64 `mapstructure:"percentile" yaml:"percentile"`

	// WindowSize bounds the number of samples kept.
	WindowSize int `mapstructure:"window_size" yaml:"window_size"`

	// MinTimeout and MaxTimeout clamp every returned value.
	MinTimeout time.Duration `mapstructure:"min_timeout" yaml:"min_timeout"`
	MaxTimeout time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
}

// DefaultAdaptiveTimeoutConfig returns the default estimator configuration.
func DefaultAdaptiveTimeoutConfig() AdaptiveTimeoutConfig {
	return AdaptiveTimeoutConfig{
		Percentile: 95,
		WindowSize: 1000,
		MinTimeout: 1 * time.Second,
		MaxTimeout: 30 * time.Second,
	}
}

// Validate checks configuration invariants.
func (c AdaptiveTimeoutConfig) Validate() error {
	if c.Percentile <= 0 || c.Percentile > 100 {
		return fmt.Errorf("percentile must be in (0, 100], got %g", c.Percentile)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("window_size must be >= 1, got %d", c.WindowSize)
	}
	if c.MinTimeout <= 0 {
		return fmt.Errorf("min_timeout must be > 0, got %s", c.MinTimeout)
	}
	if c.MaxTimeout < c.MinTimeout {
		return fmt.Errorf("max_timeout %s must be >= min_timeout %s", c.MaxTimeout, c.MinTimeout)
	}
	return nil
}

// AdaptiveTimeout derives an operation timeout from recent observed
// latency. Until enough samples accumulate it returns a conservative
// default of twice the minimum timeout. The returned value is advisory:
// callers apply it to their own context deadlines, nothing here enforces
// it.
type AdaptiveTimeout struct {
	config AdaptiveTimeoutConfig

	mu     sync.Mutex
	window *durationWindow
}

// NewAdaptiveTimeout creates an estimator. Configuration violations fail
// fast.
func NewAdaptiveTimeout(config AdaptiveTimeoutConfig) (*AdaptiveTimeout, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid adaptive timeout config: %w", err)
	}
	return &AdaptiveTimeout{
		config: config,
		window: newDurationWindow(config.WindowSize),
	}, nil
}

// Record adds an observed operation latency. Negative durations are
// ignored.
func (at *AdaptiveTimeout) Record(d time.Duration) {
	at.RecordSeconds(d.Seconds())
}

// RecordSeconds adds an observed latency expressed in seconds.
func (at *AdaptiveTimeout) RecordSeconds(seconds float64) {
	if seconds < 0 || math.IsNaN(seconds) {
		return
	}
	at.mu.Lock()
	at.window.add(seconds)
	at.mu.Unlock()
}

// Timeout returns the current advisory timeout: the configured percentile
// of the sample window with a safety buffer, clamped to [min, max].
func (at *AdaptiveTimeout) Timeout() time.Duration {
	at.mu.Lock()
	defer at.mu.Unlock()

	if at.window.len() < minTimeoutSamples {
		return clampDuration(2*at.config.MinTimeout, at.config.MinTimeout, at.config.MaxTimeout)
	}

	samples := at.window.snapshot()
	sort.Float64s(samples)

	idx := int(at.config.Percentile / 100 * float64(len(samples)))
	if idx >= len(samples) {
		idx = len(samples) - 1
	}

	seconds := samples[idx] * timeoutSafetyMultiplier
	timeout := time.Duration(seconds * float64(time.Second))
	return clampDuration(timeout, at.config.MinTimeout, at.config.MaxTimeout)
}

// SampleCount returns the number of samples currently in the window.
func (at *AdaptiveTimeout) SampleCount() int {
	at.mu.Lock()
	defer at.mu.Unlock()
	return at.window.len()
}

// Reset discards all samples, returning the estimator to its
// cold-start behavior.
func (at *AdaptiveTimeout) Reset() {
	at.mu.Lock()
	at.window.reset()
	at.mu.Unlock()
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
