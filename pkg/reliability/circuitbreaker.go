package reliability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cachekit-reliability/pkg/metrics"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int32

const (
	// StateClosed - normal operation, calls are allowed.
	StateClosed CircuitState = iota
	// StateOpen - calls are rejected immediately until the cooldown expires.
	StateOpen
	// StateHalfOpen - a bounded number of probe calls test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig defines circuit breaker behavior. The zero value is
// not usable; call DefaultCircuitBreakerConfig or fill every field.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of non-excluded failures in Closed
	// that trips the breaker.
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`

	// SuccessThreshold is the number of probe successes in HalfOpen that
	// closes the breaker.
	SuccessThreshold int `mapstructure:"success_threshold" yaml:"success_threshold"`

	// Timeout is the cooldown after tripping before probes are allowed.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// HalfOpenRequests bounds the number of probe calls in flight at once
	// while HalfOpen. A recorded outcome frees its permit, so recovery
	// proceeds probe by probe even when this is smaller than
	// SuccessThreshold.
	HalfOpenRequests int `mapstructure:"half_open_requests" yaml:"half_open_requests"`

	// ExcludedErrorKinds lists classifications that propagate to the caller
	// but never advance failure counters or trigger transitions. Meant for
	// permanent errors (bad configuration, validation) that say nothing
	// about backend health.
	ExcludedErrorKinds []ErrorKind `mapstructure:"excluded_error_kinds" yaml:"excluded_error_kinds"`
}

// DefaultCircuitBreakerConfig returns the default breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Validate checks configuration invariants. Violations are construction-time
// errors, never silently clamped.
func (c CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("success_threshold must be >= 1, got %d", c.SuccessThreshold)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %s", c.Timeout)
	}
	if c.HalfOpenRequests < 1 {
		return fmt.Errorf("half_open_requests must be >= 1, got %d", c.HalfOpenRequests)
	}
	return nil
}

func (c CircuitBreakerConfig) excluded(kind ErrorKind) bool {
	for _, k := range c.ExcludedErrorKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// CircuitBreakerStats is a point-in-time snapshot for observability
// exporters. Idempotent between state-mutating calls.
type CircuitBreakerStats struct {
	Namespace        string               `json:"namespace"`
	State            CircuitState         `json:"-"`
	StateName        string               `json:"state"`
	FailureCount     int                  `json:"failure_count"`
	SuccessCount     int                  `json:"success_count"`
	LastFailureTime  time.Time            `json:"last_failure_time"`
	HalfOpenInFlight int                  `json:"half_open_in_flight"`
	HalfOpenAttempts int                  `json:"half_open_attempts"`
	RejectedCalls    uint64               `json:"rejected_calls"`
	Config           CircuitBreakerConfig `json:"config"`
	Tags             map[string]string    `json:"tags,omitempty"`
}

// StateChangeFunc is notified on every state transition. It runs outside the
// breaker's mutex, so it may safely call back into the breaker.
type StateChangeFunc func(namespace string, from, to CircuitState)

// CircuitBreaker protects calls against a failing backend with a three-state
// machine. One instance guards one logical resource (a cache namespace);
// sharing an instance across unrelated resources corrupts its statistics.
//
// All bookkeeping happens under a single mutex and is never held across the
// wrapped operation. In Closed state, successes do not reset the failure
// count: failures are cumulative evidence until the breaker trips or is
// reset. That is deliberate, documented behavior.
type CircuitBreaker struct {
	config    CircuitBreakerConfig
	namespace string

	mu               sync.Mutex
	state            atomic.Int32 // CircuitState, atomic for the unlocked fast path
	failureCount     int
	successCount     int
	lastFailureNano  atomic.Int64
	halfOpenInFlight int
	halfOpenAttempts int
	rejectedCalls    atomic.Uint64

	logger        *zap.Logger
	collector     metrics.Collector
	onStateChange StateChangeFunc
	tags          map[string]string
}

// CircuitBreakerOption configures optional collaborators.
type CircuitBreakerOption func(*CircuitBreaker)

// WithLogger attaches a structured logger to the breaker.
func WithLogger(logger *zap.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// WithCollector attaches a metrics collector to the breaker.
func WithCollector(collector metrics.Collector) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if collector != nil {
			cb.collector = collector
		}
	}
}

// WithStateChange registers a transition callback.
func WithStateChange(fn StateChangeFunc) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// WithTags attaches opaque correlation tags surfaced on stats snapshots.
// Tags are never interpreted by the breaker.
func WithTags(tags map[string]string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.tags = tags
	}
}

// NewCircuitBreaker creates a breaker for one namespace. Configuration
// violations fail fast.
func NewCircuitBreaker(config CircuitBreakerConfig, namespace string, opts ...CircuitBreakerOption) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	cb := &CircuitBreaker{
		config:    config,
		namespace: namespace,
		logger:    zap.NewNop(),
		collector: metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb, nil
}

// Call executes op if the breaker currently allows it. An open breaker
// rejects with a KindCircuitOpen error without invoking op; op's own errors
// propagate unchanged.
func (cb *CircuitBreaker) Call(op func() error) error {
	if !cb.Allow() {
		return cb.rejection()
	}

	if err := op(); err != nil {
		cb.RecordFailure(err)
		return err
	}
	cb.RecordSuccess()
	return nil
}

// CallContext is the context-aware variant of Call. The breaker's own
// bookkeeping never blocks; any suspension happens inside op.
func (cb *CircuitBreaker) CallContext(ctx context.Context, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.Allow() {
		return cb.rejection()
	}

	if err := op(ctx); err != nil {
		cb.RecordFailure(err)
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Allow reports whether a call may proceed, taking a probe permit when
// HalfOpen. Callers using Allow directly must pair every true result with
// exactly one RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	// Fast path: no lock while Closed, or while Open inside the cooldown.
	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(time.Unix(0, cb.lastFailureNano.Load())) < cb.config.Timeout {
			return false
		}
	}

	cb.mu.Lock()
	var transition *stateTransition
	allowed := false

	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		allowed = true
	case StateOpen:
		// Re-check under the lock: only one caller performs the
		// Open->HalfOpen transition per cooldown expiry.
		if time.Since(time.Unix(0, cb.lastFailureNano.Load())) >= cb.config.Timeout {
			transition = cb.transitionLocked(StateHalfOpen)
			allowed = cb.takeProbePermitLocked()
		}
	case StateHalfOpen:
		allowed = cb.takeProbePermitLocked()
	}
	cb.mu.Unlock()

	cb.notify(transition)
	return allowed
}

// RecordSuccess records a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var transition *stateTransition

	switch CircuitState(cb.state.Load()) {
	case StateHalfOpen:
		cb.successCount++
		cb.releaseProbePermitLocked()
		if cb.successCount >= cb.config.SuccessThreshold {
			transition = cb.transitionLocked(StateClosed)
		}
	case StateClosed:
		// Successes do not decay the failure count; only tripping or an
		// explicit Reset clears it.
	}
	cb.mu.Unlock()

	cb.notify(transition)
}

// RecordFailure records a failed call outcome. Excluded error kinds
// propagate to the caller but never advance counters or trigger
// transitions.
func (cb *CircuitBreaker) RecordFailure(err error) {
	kind := Classify(err)

	cb.mu.Lock()
	if cb.config.excluded(kind) {
		if CircuitState(cb.state.Load()) == StateHalfOpen {
			cb.releaseProbePermitLocked()
		}
		cb.mu.Unlock()
		return
	}

	cb.failureCount++
	cb.lastFailureNano.Store(time.Now().UnixNano())

	var transition *stateTransition
	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			transition = cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// Any probe failure immediately re-opens the circuit.
		cb.releaseProbePermitLocked()
		transition = cb.transitionLocked(StateOpen)
	}
	cb.mu.Unlock()

	cb.notify(transition)
	cb.collector.RecordError(cb.namespace, "backend_call", kind.String())
}

// Reset restores the breaker to its construction-time state. Intended for
// operational overrides.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	transition := cb.transitionLocked(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureNano.Store(0)
	cb.halfOpenInFlight = 0
	cb.halfOpenAttempts = 0
	cb.mu.Unlock()

	cb.notify(transition)
	cb.logger.Info("circuit breaker reset",
		zap.String("namespace", cb.namespace))
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// FailureCount returns the current failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// SuccessCount returns the current half-open success count.
func (cb *CircuitBreaker) SuccessCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.successCount
}

// Namespace returns the resource this breaker guards.
func (cb *CircuitBreaker) Namespace() string {
	return cb.namespace
}

// Stats returns a snapshot of the breaker's observable state.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var lastFailure time.Time
	if nano := cb.lastFailureNano.Load(); nano > 0 {
		lastFailure = time.Unix(0, nano)
	}

	state := CircuitState(cb.state.Load())
	return CircuitBreakerStats{
		Namespace:        cb.namespace,
		State:            state,
		StateName:        state.String(),
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		LastFailureTime:  lastFailure,
		HalfOpenInFlight: cb.halfOpenInFlight,
		HalfOpenAttempts: cb.halfOpenAttempts,
		RejectedCalls:    cb.rejectedCalls.Load(),
		Config:           cb.config,
		Tags:             cb.tags,
	}
}

type stateTransition struct {
	from, to CircuitState
}

// transitionLocked moves the state machine and resets the counters the new
// state starts from. Caller must hold cb.mu.
func (cb *CircuitBreaker) transitionLocked(to CircuitState) *stateTransition {
	from := CircuitState(cb.state.Load())
	if from == to {
		return nil
	}
	cb.state.Store(int32(to))

	switch to {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
		cb.halfOpenInFlight = 0
		cb.halfOpenAttempts = 0
	case StateOpen:
		// Failure count stays visible in stats; it shows what tripped
		// the breaker.
		cb.successCount = 0
		cb.halfOpenInFlight = 0
		cb.halfOpenAttempts = 0
	case StateHalfOpen:
		cb.successCount = 0
		cb.halfOpenInFlight = 0
		cb.halfOpenAttempts = 0
	}

	return &stateTransition{from: from, to: to}
}

// takeProbePermitLocked admits a HalfOpen probe while a permit slot is
// free. Recording the outcome frees the slot, so a probe success below
// SuccessThreshold immediately admits the next probe. halfOpenAttempts
// counts every probe admitted in the current episode for stats; it never
// gates admission. Caller must hold cb.mu.
func (cb *CircuitBreaker) takeProbePermitLocked() bool {
	if cb.halfOpenInFlight >= cb.config.HalfOpenRequests {
		return false
	}
	cb.halfOpenInFlight++
	cb.halfOpenAttempts++
	return true
}

func (cb *CircuitBreaker) releaseProbePermitLocked() {
	if cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// notify delivers transition side effects outside the mutex so callbacks
// may call back into the breaker.
func (cb *CircuitBreaker) notify(t *stateTransition) {
	if t == nil {
		return
	}

	cb.logger.Info("circuit breaker state change",
		zap.String("namespace", cb.namespace),
		zap.Stringer("from", t.from),
		zap.Stringer("to", t.to))
	cb.collector.RecordBreakerState(cb.namespace, t.to.String())

	if cb.onStateChange != nil {
		cb.onStateChange(cb.namespace, t.from, t.to)
	}
}

func (cb *CircuitBreaker) rejection() error {
	cb.rejectedCalls.Add(1)
	cb.collector.RecordRejection(cb.namespace, "circuit_open")
	return NewBackendError(KindCircuitOpen, cb.namespace, ErrCircuitOpen)
}
