package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	// without invoking the wrapped operation. Callers must not retry
	// immediately; the breaker re-probes on its own schedule.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrQueueFull is returned when the backpressure queue is at capacity.
	ErrQueueFull = errors.New("request queue full")

	// ErrPermitTimeout is returned when a permit could not be acquired
	// within the configured acquire timeout.
	ErrPermitTimeout = errors.New("failed to acquire permit")

	// ErrRateLimited is returned when the rate limiter rejects a request.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ErrorKind classifies backend errors for the circuit breaker and retry
// policies. The kind decides whether a failure counts toward tripping the
// breaker and whether it is worth retrying.
type ErrorKind int

const (
	// KindUnknown is the default for unclassifiable errors. Unknown errors
	// count as failures: when in doubt, protect the backend.
	KindUnknown ErrorKind = iota
	// KindTransient covers temporary backend conditions worth retrying.
	KindTransient
	// KindPermanent covers configuration or protocol errors that no amount
	// of retrying will fix.
	KindPermanent
	// KindTimeout covers deadline and cancellation errors.
	KindTimeout
	// KindRateLimit covers throttling by the backend or a local limiter.
	KindRateLimit
	// KindNetwork covers connection-level failures.
	KindNetwork
	// KindCircuitOpen marks rejections synthesized by an open breaker.
	KindCircuitOpen
	// KindValidation covers malformed requests rejected before execution.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindCircuitOpen:
		return "circuit_open"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// ParseErrorKind converts a snake_case kind name back to its ErrorKind.
// Used when classifications arrive from configuration.
func ParseErrorKind(s string) (ErrorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transient":
		return KindTransient, nil
	case "permanent":
		return KindPermanent, nil
	case "timeout":
		return KindTimeout, nil
	case "rate_limit":
		return KindRateLimit, nil
	case "network":
		return KindNetwork, nil
	case "circuit_open":
		return KindCircuitOpen, nil
	case "validation":
		return KindValidation, nil
	case "unknown":
		return KindUnknown, nil
	default:
		return KindUnknown, fmt.Errorf("unknown error kind %q", s)
	}
}

// BackendError tags an underlying error with a classification kind and the
// operation that produced it. It is the carrier the breaker inspects when
// deciding whether a failure advances its counters.
type BackendError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	return fmt.Sprintf("%s error in %s", e.Kind, e.Op)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is matches other BackendErrors by kind so callers can test classes of
// failure with errors.Is.
func (e *BackendError) Is(target error) bool {
	var be *BackendError
	if errors.As(target, &be) {
		return be.Kind == e.Kind
	}
	return false
}

// NewBackendError wraps err with a classification kind.
func NewBackendError(kind ErrorKind, op string, err error) *BackendError {
	return &BackendError{Kind: kind, Op: op, Err: err}
}

// Classify maps an arbitrary error to an ErrorKind. BackendError kinds pass
// through untouched; everything else goes through best-effort detection.
// Unclassifiable errors return KindUnknown, which the breaker counts as a
// failure.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrPermitTimeout), errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection refused", "connection reset", "broken pipe", "no route to host", "network unreachable"):
		return KindNetwork
	case containsAny(msg, "i/o timeout", "deadline exceeded"):
		return KindTimeout
	case containsAny(msg, "rate limit", "too many requests", "throttled"):
		return KindRateLimit
	}

	return KindUnknown
}

// Retryable reports whether err is worth retrying at all. Open-breaker
// rejections are retryable only after a cooldown, which is the breaker's
// job, so they report false here.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	switch Classify(err) {
	case KindTransient, KindNetwork, KindTimeout, KindRateLimit:
		return true
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
