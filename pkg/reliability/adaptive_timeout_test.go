package reliability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTimeout(t *testing.T, config AdaptiveTimeoutConfig) *AdaptiveTimeout {
	t.Helper()
	at, err := NewAdaptiveTimeout(config)
	require.NoError(t, err)
	return at
}

func TestAdaptiveTimeoutDefaults(t *testing.T) {
	config := DefaultAdaptiveTimeoutConfig()

	assert.Equal(t, float64(95), config.Percentile)
	assert.Equal(t, 1000, config.WindowSize)
	assert.Equal(t, 1*time.Second, config.MinTimeout)
	assert.Equal(t, 30*time.Second, config.MaxTimeout)
	assert.NoError(t, config.Validate())
}

func TestAdaptiveTimeoutConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AdaptiveTimeoutConfig)
	}{
		{"zero percentile", func(c *AdaptiveTimeoutConfig) { c.Percentile = 0 }},
		{"percentile above 100", func(c *AdaptiveTimeoutConfig) { c.Percentile = 101 }},
		{"zero window", func(c *AdaptiveTimeoutConfig) { c.WindowSize = 0 }},
		{"zero min timeout", func(c *AdaptiveTimeoutConfig) { c.MinTimeout = 0 }},
		{"max below min", func(c *AdaptiveTimeoutConfig) {
			c.MinTimeout = 10 * time.Second
			c.MaxTimeout = 5 * time.Second
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultAdaptiveTimeoutConfig()
			tt.mutate(&config)

			_, err := NewAdaptiveTimeout(config)
			assert.Error(t, err)
		})
	}
}

func TestAdaptiveTimeoutColdStart(t *testing.T) {
	at := newTestTimeout(t, DefaultAdaptiveTimeoutConfig())

	// Below the sample floor, the estimator stays conservative.
	assert.Equal(t, 2*time.Second, at.Timeout())

	for i := 0; i < 9; i++ {
		at.RecordSeconds(0.001)
	}
	assert.Equal(t, 9, at.SampleCount())
	assert.Equal(t, 2*time.Second, at.Timeout())

	// The tenth sample activates the percentile path.
	at.RecordSeconds(0.001)
	assert.Equal(t, 1*time.Second, at.Timeout())
}

func TestAdaptiveTimeoutColdStartClampedByMax(t *testing.T) {
	config := AdaptiveTimeoutConfig{
		Percentile: 95,
		WindowSize: 100,
		MinTimeout: 20 * time.Second,
		MaxTimeout: 30 * time.Second,
	}
	at := newTestTimeout(t, config)

	// Twice the minimum exceeds the ceiling, so the ceiling wins.
	assert.Equal(t, 30*time.Second, at.Timeout())
}

func TestAdaptiveTimeoutPercentileComputation(t *testing.T) {
	config := AdaptiveTimeoutConfig{
		Percentile: 95,
		WindowSize: 1000,
		MinTimeout: 100 * time.Millisecond,
		MaxTimeout: 30 * time.Second,
	}
	at := newTestTimeout(t, config)

	// 100 evenly spaced samples: 0.00s, 0.01s, ..., 0.99s.
	for i := 0; i < 100; i++ {
		at.RecordSeconds(float64(i) * 0.01)
	}

	// p95 lands on the 0.95s sample, times the 1.5 safety buffer.
	assert.InDelta(t, 1.425, at.Timeout().Seconds(), 0.0001)
}

func TestAdaptiveTimeoutMedian(t *testing.T) {
	config := AdaptiveTimeoutConfig{
		Percentile: 50,
		WindowSize: 1000,
		MinTimeout: 100 * time.Millisecond,
		MaxTimeout: 30 * time.Second,
	}
	at := newTestTimeout(t, config)

	for i := 0; i < 100; i++ {
		at.RecordSeconds(float64(i) * 0.01)
	}

	assert.InDelta(t, 0.75, at.Timeout().Seconds(), 0.0001)
}

func TestAdaptiveTimeoutHundredthPercentile(t *testing.T) {
	config := AdaptiveTimeoutConfig{
		Percentile: 100,
		WindowSize: 100,
		MinTimeout: 100 * time.Millisecond,
		MaxTimeout: 30 * time.Second,
	}
	at := newTestTimeout(t, config)

	for i := 0; i < 100; i++ {
		at.RecordSeconds(float64(i) * 0.01)
	}

	// The index clamps to the largest sample instead of running past the
	// end of the window.
	assert.InDelta(t, 0.99*1.5, at.Timeout().Seconds(), 0.0001)
}

func TestAdaptiveTimeoutClamping(t *testing.T) {
	config := AdaptiveTimeoutConfig{
		Percentile: 95,
		WindowSize: 100,
		MinTimeout: 1 * time.Second,
		MaxTimeout: 5 * time.Second,
	}
	at := newTestTimeout(t, config)

	for i := 0; i < 20; i++ {
		at.RecordSeconds(0.01)
	}
	assert.Equal(t, 1*time.Second, at.Timeout())

	for i := 0; i < 100; i++ {
		at.RecordSeconds(60)
	}
	assert.Equal(t, 5*time.Second, at.Timeout())
}

func TestAdaptiveTimeoutWindowEviction(t *testing.T) {
	config := AdaptiveTimeoutConfig{
		Percentile: 95,
		WindowSize: 10,
		MinTimeout: 100 * time.Millisecond,
		MaxTimeout: 30 * time.Second,
	}
	at := newTestTimeout(t, config)

	for i := 0; i < 10; i++ {
		at.RecordSeconds(0.1)
	}
	for i := 0; i < 10; i++ {
		at.RecordSeconds(1.0)
	}

	// The slow samples fully displaced the fast ones.
	assert.Equal(t, 10, at.SampleCount())
	assert.InDelta(t, 1.5, at.Timeout().Seconds(), 0.0001)
}

func TestAdaptiveTimeoutIgnoresInvalidSamples(t *testing.T) {
	at := newTestTimeout(t, DefaultAdaptiveTimeoutConfig())

	at.RecordSeconds(-1)
	at.Record(-5 * time.Second)
	assert.Equal(t, 0, at.SampleCount())
}

func TestAdaptiveTimeoutReset(t *testing.T) {
	at := newTestTimeout(t, DefaultAdaptiveTimeoutConfig())

	for i := 0; i < 50; i++ {
		at.RecordSeconds(0.2)
	}
	require.Equal(t, 50, at.SampleCount())

	at.Reset()

	assert.Equal(t, 0, at.SampleCount())
	assert.Equal(t, 2*time.Second, at.Timeout())
}

func TestAdaptiveTimeoutConcurrentAccess(t *testing.T) {
	at := newTestTimeout(t, DefaultAdaptiveTimeoutConfig())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				at.Record(10 * time.Millisecond)
				_ = at.Timeout()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, at.SampleCount())
	assert.Equal(t, 1*time.Second, at.Timeout())
}

func TestDurationWindowSnapshotOrder(t *testing.T) {
	w := newDurationWindow(3)
	w.add(1)
	w.add(2)
	w.add(3)
	w.add(4)

	assert.Equal(t, []float64{2, 3, 4}, w.snapshot())
}
