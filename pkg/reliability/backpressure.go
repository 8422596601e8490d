package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cachekit-reliability/pkg/metrics"
)

// BackpressureConfig defines admission control behavior.
type BackpressureConfig struct {
	// MaxConcurrent bounds operations holding a permit at once.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`

	// QueueSize bounds callers waiting for a permit. Arrivals beyond this
	// are shed immediately.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`

	// AcquireTimeout bounds how long a queued caller waits for a permit.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
}

// DefaultBackpressureConfig returns the default admission configuration.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		MaxConcurrent:  100,
		QueueSize:      1000,
		AcquireTimeout: 100 * time.Millisecond,
	}
}

// Validate checks configuration invariants.
func (c BackpressureConfig) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be >= 1, got %d", c.QueueSize)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be > 0, got %s", c.AcquireTimeout)
	}
	return nil
}

// BackpressureStats is a point-in-time snapshot of the controller.
type BackpressureStats struct {
	Namespace     string `json:"namespace"`
	QueueDepth    int    `json:"queue_depth"`
	RejectedCount uint64 `json:"rejected_count"`
	MaxConcurrent int    `json:"max_concurrent"`
	QueueSize     int    `json:"queue_size"`
	InFlight      int    `json:"in_flight"`
	Healthy       bool   `json:"healthy"`
}

// BackpressureController sheds load before it reaches the backend. A
// channel semaphore bounds in-flight operations; arrivals queue for a
// permit up to a short acquire timeout and are rejected outright once the
// queue itself is full. Under any interleaving the number of operations
// holding a permit never exceeds MaxConcurrent.
type BackpressureController struct {
	config    BackpressureConfig
	namespace string

	sem chan struct{}

	mu            sync.Mutex
	queueDepth    int
	rejectedCount uint64

	logger    *zap.Logger
	collector metrics.ExtendedCollector
}

// BackpressureOption configures optional collaborators.
type BackpressureOption func(*BackpressureController)

// WithBackpressureLogger attaches a structured logger to the controller.
func WithBackpressureLogger(logger *zap.Logger) BackpressureOption {
	return func(bc *BackpressureController) {
		if logger != nil {
			bc.logger = logger
		}
	}
}

// WithBackpressureCollector attaches a metrics collector to the controller.
func WithBackpressureCollector(collector metrics.ExtendedCollector) BackpressureOption {
	return func(bc *BackpressureController) {
		if collector != nil {
			bc.collector = collector
		}
	}
}

// NewBackpressureController creates a controller for one namespace.
// Configuration violations fail fast.
func NewBackpressureController(config BackpressureConfig, namespace string, opts ...BackpressureOption) (*BackpressureController, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backpressure config: %w", err)
	}

	bc := &BackpressureController{
		config:    config,
		namespace: namespace,
		sem:       make(chan struct{}, config.MaxConcurrent),
		logger:    zap.NewNop(),
		collector: metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc, nil
}

// Acquire obtains an admission permit, waiting up to the configured
// acquire timeout. On success the returned release function must be
// called exactly once when the operation completes; calling it more than
// once is safe. Rejections return ErrQueueFull or ErrPermitTimeout
// wrapped for classification; both mean "shed, try later" and are
// distinct from operation errors.
func (bc *BackpressureController) Acquire(ctx context.Context) (func(), error) {
	bc.mu.Lock()
	if bc.queueDepth >= bc.config.QueueSize {
		bc.rejectedCount++
		bc.mu.Unlock()
		bc.collector.RecordRejection(bc.namespace, "queue_full")
		return nil, NewBackendError(KindRateLimit, bc.namespace, ErrQueueFull)
	}
	bc.queueDepth++
	depth := bc.queueDepth
	bc.mu.Unlock()
	bc.collector.RecordQueueDepth(bc.namespace, depth)

	timer := time.NewTimer(bc.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case bc.sem <- struct{}{}:
		bc.leaveQueue()
		bc.collector.RecordInFlight(bc.namespace, len(bc.sem))
		return bc.releaseFunc(), nil

	case <-timer.C:
		bc.leaveQueue()
		bc.mu.Lock()
		bc.rejectedCount++
		bc.mu.Unlock()
		bc.collector.RecordRejection(bc.namespace, "permit_timeout")
		return nil, NewBackendError(KindRateLimit, bc.namespace, ErrPermitTimeout)

	case <-ctx.Done():
		bc.leaveQueue()
		return nil, ctx.Err()
	}
}

// TryAcquire obtains a permit without queueing. The boolean reports
// whether a permit was granted; on false the release function is nil.
func (bc *BackpressureController) TryAcquire() (func(), bool) {
	select {
	case bc.sem <- struct{}{}:
		bc.collector.RecordInFlight(bc.namespace, len(bc.sem))
		return bc.releaseFunc(), true
	default:
		bc.mu.Lock()
		bc.rejectedCount++
		bc.mu.Unlock()
		bc.collector.RecordRejection(bc.namespace, "no_permit")
		return nil, false
	}
}

// Stats returns a snapshot of the controller's observable state. Healthy
// reports whether the queue is below 80% of its capacity.
func (bc *BackpressureController) Stats() BackpressureStats {
	bc.mu.Lock()
	depth := bc.queueDepth
	rejected := bc.rejectedCount
	bc.mu.Unlock()

	return BackpressureStats{
		Namespace:     bc.namespace,
		QueueDepth:    depth,
		RejectedCount: rejected,
		MaxConcurrent: bc.config.MaxConcurrent,
		QueueSize:     bc.config.QueueSize,
		InFlight:      len(bc.sem),
		Healthy:       depth < bc.config.QueueSize*8/10,
	}
}

// Healthy reports whether the controller has queue headroom.
func (bc *BackpressureController) Healthy() bool {
	return bc.Stats().Healthy
}

// ResetStats zeroes the rejection counter. Queue depth and in-flight
// tracking reflect live state and are not touched.
func (bc *BackpressureController) ResetStats() {
	bc.mu.Lock()
	bc.rejectedCount = 0
	bc.mu.Unlock()
}

// Namespace returns the resource this controller guards.
func (bc *BackpressureController) Namespace() string {
	return bc.namespace
}

func (bc *BackpressureController) leaveQueue() {
	bc.mu.Lock()
	bc.queueDepth--
	depth := bc.queueDepth
	bc.mu.Unlock()
	bc.collector.RecordQueueDepth(bc.namespace, depth)
}

// releaseFunc returns an idempotent permit release.
func (bc *BackpressureController) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-bc.sem
			bc.collector.RecordInFlight(bc.namespace, len(bc.sem))
		})
	}
}
