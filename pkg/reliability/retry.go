package reliability

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"cachekit-reliability/pkg/metrics"
)

// JitterType defines how backoff delays are randomized.
type JitterType string

const (
	JitterNone  JitterType = "none"
	JitterFull  JitterType = "full"  // [0, delay]
	JitterEqual JitterType = "equal" // [delay/2, delay]
)

// RetryConfig defines retry behavior with exponential backoff.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Jitter       JitterType    `mapstructure:"jitter" yaml:"jitter"`

	// RespectDeadline skips a retry whose backoff would outlive the
	// caller's context deadline.
	RespectDeadline bool `mapstructure:"respect_deadline" yaml:"respect_deadline"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		Jitter:          JitterEqual,
		RespectDeadline: true,
	}
}

// Validate checks configuration invariants.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("initial_delay must be > 0, got %s", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay %s must be >= initial_delay %s", c.MaxDelay, c.InitialDelay)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %g", c.Multiplier)
	}
	switch c.Jitter {
	case JitterNone, JitterFull, JitterEqual, "":
	default:
		return fmt.Errorf("unknown jitter type %q", c.Jitter)
	}
	return nil
}

// RetryStats tracks retry outcomes.
type RetryStats struct {
	TotalAttempts     int64         `json:"total_attempts"`
	SuccessfulRetries int64         `json:"successful_retries"`
	FailedRetries     int64         `json:"failed_retries"`
	TotalDelay        time.Duration `json:"total_delay"`
	LastUpdate        time.Time     `json:"last_update"`
}

// Retryer re-runs an operation on retryable failures with exponential
// backoff. Open-breaker rejections and permanent errors stop retrying
// immediately; the breaker owns the re-probe schedule.
type Retryer struct {
	config    RetryConfig
	namespace string

	mu    sync.Mutex
	stats RetryStats

	logger    *zap.Logger
	collector metrics.ExtendedCollector
}

// RetryerOption configures optional collaborators.
type RetryerOption func(*Retryer)

// WithRetryerLogger attaches a structured logger to the retryer.
func WithRetryerLogger(logger *zap.Logger) RetryerOption {
	return func(r *Retryer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRetryerCollector attaches a metrics collector to the retryer.
func WithRetryerCollector(collector metrics.ExtendedCollector) RetryerOption {
	return func(r *Retryer) {
		if collector != nil {
			r.collector = collector
		}
	}
}

// NewRetryer creates a retryer for one namespace. Configuration
// violations fail fast.
func NewRetryer(config RetryConfig, namespace string, opts ...RetryerOption) (*Retryer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	r := &Retryer{
		config:    config,
		namespace: namespace,
		logger:    zap.NewNop(),
		collector: metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Execute runs op, retrying retryable failures up to MaxRetries times.
// The last error is returned when every attempt fails.
func (r *Retryer) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		r.stats.TotalAttempts++
		r.stats.LastUpdate = time.Now()
		r.mu.Unlock()

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 0 {
				r.mu.Lock()
				r.stats.SuccessfulRetries++
				r.mu.Unlock()
				r.collector.RecordRetryAttempt(r.namespace, true)
			}
			return nil
		}

		if attempt == r.config.MaxRetries || !Retryable(lastErr) {
			break
		}

		delay := r.backoff(attempt)
		if r.config.RespectDeadline {
			if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
				r.logger.Debug("skipping retry, backoff exceeds deadline",
					zap.String("namespace", r.namespace),
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay))
				break
			}
		}

		r.logger.Debug("retrying after failure",
			zap.String("namespace", r.namespace),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.String("error_kind", Classify(lastErr).String()),
			zap.Error(lastErr))
		r.collector.RecordRetryAttempt(r.namespace, false)

		r.mu.Lock()
		r.stats.TotalDelay += delay
		r.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.stats.FailedRetries++
	r.stats.LastUpdate = time.Now()
	r.mu.Unlock()

	return lastErr
}

// backoff computes the delay before the attempt+1'th try.
func (r *Retryer) backoff(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt))
	if max := float64(r.config.MaxDelay); delay > max {
		delay = max
	}

	switch r.config.Jitter {
	case JitterFull:
		delay = rand.Float64() * delay
	case JitterEqual:
		delay = delay/2 + rand.Float64()*delay/2
	}

	return time.Duration(delay)
}

// Stats returns a snapshot of retry outcomes.
func (r *Retryer) Stats() RetryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
