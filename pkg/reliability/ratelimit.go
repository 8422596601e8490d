package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cachekit-reliability/pkg/metrics"
)

// RateLimitConfig defines the token-bucket admission gate.
type RateLimitConfig struct {
	// Enabled toggles rate limiting; a disabled limiter admits everything.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// RequestsPerSecond is the sustained refill rate.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// BurstSize is the bucket capacity.
	BurstSize int `mapstructure:"burst_size" yaml:"burst_size"`

	// WaitTimeout bounds how long Wait blocks for a token. Zero means the
	// caller's context is the only bound.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
}

// DefaultRateLimitConfig returns the default limiter configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           false,
		RequestsPerSecond: 100,
		BurstSize:         200,
		WaitTimeout:       time.Second,
	}
}

// Validate checks configuration invariants.
func (c RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be > 0, got %g", c.RequestsPerSecond)
	}
	if c.BurstSize < 1 {
		return fmt.Errorf("burst_size must be >= 1, got %d", c.BurstSize)
	}
	return nil
}

// RateLimitStats aggregates limiter decisions.
type RateLimitStats struct {
	Namespace       string        `json:"namespace"`
	TotalRequests   int64         `json:"total_requests"`
	AllowedRequests int64         `json:"allowed_requests"`
	LimitedRequests int64         `json:"limited_requests"`
	WaitTime        time.Duration `json:"wait_time"`
	CurrentRate     float64       `json:"current_rate"`
	BurstSize       int           `json:"burst_size"`
	LastUpdate      time.Time     `json:"last_update"`
}

// RateLimiter gates admissions with a token bucket. A nil or disabled
// limiter admits everything, so callers compose it unconditionally.
type RateLimiter struct {
	limiter   *rate.Limiter
	config    RateLimitConfig
	namespace string

	mu              sync.Mutex
	totalRequests   int64
	allowedRequests int64
	limitedRequests int64
	waitTime        time.Duration
	lastUpdate      time.Time

	collector metrics.Collector
}

// NewRateLimiter creates a limiter for one namespace. Configuration
// violations fail fast.
func NewRateLimiter(config RateLimitConfig, namespace string, collector metrics.Collector) (*RateLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}

	rl := &RateLimiter{
		config:     config,
		namespace:  namespace,
		lastUpdate: time.Now(),
		collector:  collector,
	}
	if config.Enabled {
		rl.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstSize)
	}
	return rl, nil
}

// Allow reports whether a request may proceed right now, consuming a
// token when it may.
func (rl *RateLimiter) Allow() bool {
	if rl == nil || rl.limiter == nil {
		return true
	}

	allowed := rl.limiter.Allow()

	rl.mu.Lock()
	rl.totalRequests++
	if allowed {
		rl.allowedRequests++
	} else {
		rl.limitedRequests++
	}
	rl.lastUpdate = time.Now()
	rl.mu.Unlock()

	rl.collector.RecordRateLimit(rl.namespace, !allowed)
	return allowed
}

// Wait blocks until a token is available, the configured wait timeout
// expires, or ctx is done. A timeout surfaces as ErrRateLimited.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.limiter == nil {
		return nil
	}

	start := time.Now()

	rl.mu.Lock()
	rl.totalRequests++
	rl.mu.Unlock()

	if rl.config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rl.config.WaitTimeout)
		defer cancel()
	}

	err := rl.limiter.Wait(ctx)
	waited := time.Since(start)

	rl.mu.Lock()
	if err != nil {
		rl.limitedRequests++
	} else {
		rl.allowedRequests++
		rl.waitTime += waited
	}
	rl.lastUpdate = time.Now()
	rl.mu.Unlock()

	if err != nil {
		rl.collector.RecordRateLimit(rl.namespace, true)
		if ctxErr := ctx.Err(); ctxErr == context.Canceled {
			return ctxErr
		}
		return NewBackendError(KindRateLimit, rl.namespace, ErrRateLimited)
	}
	rl.collector.RecordRateLimit(rl.namespace, false)
	return nil
}

// RetryAfter estimates how long a rejected caller should wait before the
// next attempt.
func (rl *RateLimiter) RetryAfter() time.Duration {
	if rl == nil || rl.limiter == nil {
		return 0
	}
	reservation := rl.limiter.Reserve()
	defer reservation.Cancel()
	return reservation.Delay()
}

// UpdateLimit changes the sustained rate and burst at runtime.
func (rl *RateLimiter) UpdateLimit(requestsPerSecond float64, burst int) {
	if rl == nil || rl.limiter == nil {
		return
	}
	rl.mu.Lock()
	rl.config.RequestsPerSecond = requestsPerSecond
	rl.config.BurstSize = burst
	rl.mu.Unlock()

	rl.limiter.SetLimit(rate.Limit(requestsPerSecond))
	rl.limiter.SetBurst(burst)
}

// Stats returns a snapshot of limiter decisions.
func (rl *RateLimiter) Stats() RateLimitStats {
	if rl == nil {
		return RateLimitStats{}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := RateLimitStats{
		Namespace:       rl.namespace,
		TotalRequests:   rl.totalRequests,
		AllowedRequests: rl.allowedRequests,
		LimitedRequests: rl.limitedRequests,
		WaitTime:        rl.waitTime,
		LastUpdate:      rl.lastUpdate,
	}
	if rl.limiter != nil {
		stats.CurrentRate = float64(rl.limiter.Limit())
		stats.BurstSize = rl.limiter.Burst()
	}
	return stats
}

// ResetStats zeroes the decision counters.
func (rl *RateLimiter) ResetStats() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	rl.totalRequests = 0
	rl.allowedRequests = 0
	rl.limitedRequests = 0
	rl.waitTime = 0
	rl.lastUpdate = time.Now()
	rl.mu.Unlock()
}
