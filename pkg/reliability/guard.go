package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cachekit-reliability/pkg/metrics"
)

const tracerName = "cachekit-reliability/guard"

// GuardConfig bundles the configuration of every stage in the admission
// pipeline for one namespace.
type GuardConfig struct {
	Namespace    string                `mapstructure:"namespace" yaml:"namespace"`
	Breaker      CircuitBreakerConfig  `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Timeout      AdaptiveTimeoutConfig `mapstructure:"adaptive_timeout" yaml:"adaptive_timeout"`
	Backpressure BackpressureConfig    `mapstructure:"backpressure" yaml:"backpressure"`
	RateLimit    RateLimitConfig       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Retry        RetryConfig           `mapstructure:"retry" yaml:"retry"`
}

// DefaultGuardConfig returns a guard configuration with every stage at
// its defaults.
func DefaultGuardConfig(namespace string) GuardConfig {
	return GuardConfig{
		Namespace:    namespace,
		Breaker:      DefaultCircuitBreakerConfig(),
		Timeout:      DefaultAdaptiveTimeoutConfig(),
		Backpressure: DefaultBackpressureConfig(),
		RateLimit:    DefaultRateLimitConfig(),
		Retry:        DefaultRetryConfig(),
	}
}

// Validate checks every stage's configuration.
func (c GuardConfig) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	if err := c.Timeout.Validate(); err != nil {
		return err
	}
	if err := c.Backpressure.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return c.Retry.Validate()
}

// GuardStats aggregates the snapshots of every pipeline stage.
type GuardStats struct {
	Namespace      string              `json:"namespace"`
	Breaker        CircuitBreakerStats `json:"circuit_breaker"`
	Backpressure   BackpressureStats   `json:"backpressure"`
	RateLimit      RateLimitStats      `json:"rate_limit"`
	Retry          RetryStats          `json:"retry"`
	CurrentTimeout time.Duration       `json:"current_timeout"`
	TimeoutSamples int                 `json:"timeout_samples"`
}

// Guard runs backend operations through the full admission pipeline:
// backpressure permit, rate limit, circuit breaker, then the operation
// under an adaptive deadline. Each stage can reject before the backend is
// touched; the error's classification tells callers which stage did.
//
// The adaptive timeout is applied here, as a context deadline around the
// operation. The primitives themselves only ever advise.
type Guard struct {
	config GuardConfig

	backpressure *BackpressureController
	limiter      *RateLimiter
	breaker      *CircuitBreaker
	timeout      *AdaptiveTimeout
	retryer      *Retryer

	logger    *zap.Logger
	collector metrics.ExtendedCollector
	tracer    trace.Tracer
}

// GuardOption configures optional collaborators, shared with every stage.
type GuardOption func(*Guard)

// WithGuardLogger attaches a structured logger to the guard and its
// stages.
func WithGuardLogger(logger *zap.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardCollector attaches a metrics collector to the guard and its
// stages.
func WithGuardCollector(collector metrics.ExtendedCollector) GuardOption {
	return func(g *Guard) {
		if collector != nil {
			g.collector = collector
		}
	}
}

// NewGuard builds the pipeline for one namespace. Configuration
// violations in any stage fail fast.
func NewGuard(config GuardConfig, opts ...GuardOption) (*Guard, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid guard config: %w", err)
	}

	g := &Guard{
		config:    config,
		logger:    zap.NewNop(),
		collector: metrics.NewNoOpCollector(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}

	var err error
	g.backpressure, err = NewBackpressureController(config.Backpressure, config.Namespace,
		WithBackpressureLogger(g.logger), WithBackpressureCollector(g.collector))
	if err != nil {
		return nil, err
	}
	g.limiter, err = NewRateLimiter(config.RateLimit, config.Namespace, g.collector)
	if err != nil {
		return nil, err
	}
	g.breaker, err = NewCircuitBreaker(config.Breaker, config.Namespace,
		WithLogger(g.logger), WithCollector(g.collector))
	if err != nil {
		return nil, err
	}
	g.timeout, err = NewAdaptiveTimeout(config.Timeout)
	if err != nil {
		return nil, err
	}
	g.retryer, err = NewRetryer(config.Retry, config.Namespace,
		WithRetryerLogger(g.logger), WithRetryerCollector(g.collector))
	if err != nil {
		return nil, err
	}

	return g, nil
}

// Do runs op through the pipeline. Pipeline rejections carry their
// classification (queue full, permit timeout, rate limited, circuit
// open); operation errors propagate verbatim. The operation context
// carries a deadline derived from the adaptive timeout; only successful
// and failed operations feed the estimator, rejections never do.
func (g *Guard) Do(ctx context.Context, operation string, op func(context.Context) error) error {
	ctx, span := g.tracer.Start(ctx, "guard.do",
		trace.WithAttributes(
			attribute.String("namespace", g.config.Namespace),
			attribute.String("operation", operation),
		))
	defer span.End()

	err := g.do(ctx, operation, op)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Classify(err).String())
	}
	return err
}

// DoWithRetry is Do wrapped in the retry policy. Pipeline rejections are
// retried only when Retryable says so; open-breaker rejections never are.
func (g *Guard) DoWithRetry(ctx context.Context, operation string, op func(context.Context) error) error {
	return g.retryer.Execute(ctx, func(ctx context.Context) error {
		return g.Do(ctx, operation, op)
	})
}

func (g *Guard) do(ctx context.Context, operation string, op func(context.Context) error) error {
	release, err := g.backpressure.Acquire(ctx)
	if err != nil {
		g.logger.Debug("admission rejected",
			zap.String("namespace", g.config.Namespace),
			zap.String("operation", operation),
			zap.Error(err))
		return err
	}
	defer release()

	if !g.limiter.Allow() {
		g.collector.RecordRejection(g.config.Namespace, "rate_limited")
		return NewBackendError(KindRateLimit, g.config.Namespace, ErrRateLimited)
	}

	timeout := g.timeout.Timeout()
	start := time.Now()
	ran := false

	err = g.breaker.CallContext(ctx, func(ctx context.Context) error {
		ran = true
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return op(opCtx)
	})

	if ran {
		elapsed := time.Since(start)
		g.timeout.Record(elapsed)
		g.collector.RecordOperation(g.config.Namespace, operation, elapsed, err == nil)
	}
	return err
}

// Breaker exposes the guard's circuit breaker for operational overrides.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Timeout returns the current advisory operation timeout.
func (g *Guard) Timeout() time.Duration {
	return g.timeout.Timeout()
}

// Healthy reports whether the pipeline would currently accept traffic:
// the breaker is not open and the admission queue has headroom.
func (g *Guard) Healthy() bool {
	return g.breaker.State() != StateOpen && g.backpressure.Healthy()
}

// Stats aggregates the snapshots of every stage.
func (g *Guard) Stats() GuardStats {
	return GuardStats{
		Namespace:      g.config.Namespace,
		Breaker:        g.breaker.Stats(),
		Backpressure:   g.backpressure.Stats(),
		RateLimit:      g.limiter.Stats(),
		Retry:          g.retryer.Stats(),
		CurrentTimeout: g.timeout.Timeout(),
		TimeoutSamples: g.timeout.SampleCount(),
	}
}

// Reset restores the breaker and estimator to cold-start state and
// zeroes the rejection counters. Live permits are unaffected.
func (g *Guard) Reset() {
	g.breaker.Reset()
	g.timeout.Reset()
	g.backpressure.ResetStats()
	g.limiter.ResetStats()
}

// IsRejection reports whether err came from the pipeline itself rather
// than the wrapped operation.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrPermitTimeout) ||
		errors.Is(err, ErrRateLimited)
}
