package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"backend error passthrough", NewBackendError(KindPermanent, "get", errors.New("bad schema")), KindPermanent},
		{"wrapped backend error", fmt.Errorf("outer: %w", NewBackendError(KindTransient, "set", errors.New("busy"))), KindTransient},
		{"circuit open sentinel", ErrCircuitOpen, KindCircuitOpen},
		{"wrapped circuit open", fmt.Errorf("call failed: %w", ErrCircuitOpen), KindCircuitOpen},
		{"queue full sentinel", ErrQueueFull, KindRateLimit},
		{"permit timeout sentinel", ErrPermitTimeout, KindRateLimit},
		{"rate limited sentinel", ErrRateLimited, KindRateLimit},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"context canceled", context.Canceled, KindTimeout},
		{"net timeout", &fakeNetError{timeout: true}, KindTimeout},
		{"net non-timeout", &fakeNetError{timeout: false}, KindNetwork},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork},
		{"dns error", &net.DNSError{Err: "no such host", Name: "cache.internal"}, KindNetwork},
		{"connection refused text", errors.New("dial tcp 10.0.0.1:6379: connection refused"), KindNetwork},
		{"broken pipe text", errors.New("write: broken pipe"), KindNetwork},
		{"io timeout text", errors.New("read tcp: i/o timeout"), KindTimeout},
		{"throttled text", errors.New("server throttled the request"), KindRateLimit},
		{"too many requests text", errors.New("429 Too Many Requests"), KindRateLimit},
		{"unclassifiable", errors.New("segment checksum mismatch"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(ErrCircuitOpen))
	assert.False(t, Retryable(NewBackendError(KindPermanent, "get", errors.New("bad schema"))))
	assert.False(t, Retryable(NewBackendError(KindValidation, "get", errors.New("empty key"))))
	assert.False(t, Retryable(errors.New("segment checksum mismatch")))

	assert.True(t, Retryable(NewBackendError(KindTransient, "get", errors.New("busy"))))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(ErrQueueFull))
	assert.True(t, Retryable(ErrRateLimited))
	assert.True(t, Retryable(errors.New("dial tcp: connection refused")))
}

func TestErrorKindStringRoundTrip(t *testing.T) {
	kinds := []ErrorKind{
		KindUnknown, KindTransient, KindPermanent, KindTimeout,
		KindRateLimit, KindNetwork, KindCircuitOpen, KindValidation,
	}

	for _, kind := range kinds {
		parsed, err := ParseErrorKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
}

func TestParseErrorKind(t *testing.T) {
	parsed, err := ParseErrorKind("  Rate_Limit ")
	require.NoError(t, err)
	assert.Equal(t, KindRateLimit, parsed)

	_, err = ParseErrorKind("catastrophic")
	assert.Error(t, err)
}

func TestBackendError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	be := NewBackendError(KindNetwork, "mget", cause)

	assert.ErrorIs(t, be, cause)
	assert.Contains(t, be.Error(), "network")
	assert.Contains(t, be.Error(), "connection reset")

	// Is matches by kind across distinct instances.
	other := NewBackendError(KindNetwork, "set", errors.New("broken pipe"))
	assert.ErrorIs(t, be, other)

	mismatch := NewBackendError(KindTimeout, "set", errors.New("deadline"))
	assert.NotErrorIs(t, be, mismatch)
}

func TestBackendErrorWithoutCause(t *testing.T) {
	be := NewBackendError(KindPermanent, "configure", nil)

	assert.Contains(t, be.Error(), "permanent")
	assert.Contains(t, be.Error(), "configure")
	assert.Nil(t, errors.Unwrap(be))
}
