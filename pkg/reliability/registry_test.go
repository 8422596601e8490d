package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(DefaultGuardConfig("defaults"))

	guard, err := r.Register(DefaultGuardConfig("cache:sessions"))
	require.NoError(t, err)
	require.NotNil(t, guard)

	got, ok := r.Get("cache:sessions")
	assert.True(t, ok)
	assert.Same(t, guard, got)

	// Re-registering the same namespace is a configuration mistake.
	_, err = r.Register(DefaultGuardConfig("cache:sessions"))
	assert.Error(t, err)
}

func TestRegistryRegisterInvalidConfig(t *testing.T) {
	r := NewRegistry(DefaultGuardConfig("defaults"))

	config := DefaultGuardConfig("cache:sessions")
	config.Breaker.FailureThreshold = -1
	_, err := r.Register(config)
	assert.Error(t, err)

	_, ok := r.Get("cache:sessions")
	assert.False(t, ok)
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry(DefaultGuardConfig("defaults"))

	first, err := r.Register(DefaultGuardConfig("cache:sessions"))
	require.NoError(t, err)

	config := DefaultGuardConfig("cache:sessions")
	config.Breaker.FailureThreshold = 10
	second, err := r.Replace(config)
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	got, ok := r.Get("cache:sessions")
	require.True(t, ok)
	assert.Equal(t, 10, got.Stats().Breaker.Config.FailureThreshold)
}

func TestRegistryGetOrCreate(t *testing.T) {
	defaults := DefaultGuardConfig("defaults")
	defaults.Breaker.FailureThreshold = 7
	r := NewRegistry(defaults)

	guard, err := r.GetOrCreate("cache:profiles")
	require.NoError(t, err)

	// The template's namespace is replaced, its tuning kept.
	stats := guard.Stats()
	assert.Equal(t, "cache:profiles", stats.Namespace)
	assert.Equal(t, 7, stats.Breaker.Config.FailureThreshold)

	again, err := r.GetOrCreate("cache:profiles")
	require.NoError(t, err)
	assert.Same(t, guard, again)
}

func TestRegistryGetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry(DefaultGuardConfig("defaults"))

	const goroutines = 16
	guards := make([]*Guard, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := r.GetOrCreate("cache:sessions")
			assert.NoError(t, err)
			guards[i] = g
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, guards[0], guards[i])
	}
	assert.Equal(t, []string{"cache:sessions"}, r.Namespaces())
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(DefaultGuardConfig("defaults"))

	_, err := r.Register(DefaultGuardConfig("cache:sessions"))
	require.NoError(t, err)

	r.Remove("cache:sessions")
	_, ok := r.Get("cache:sessions")
	assert.False(t, ok)
}

func TestRegistryNamespacesSorted(t *testing.T) {
	r := NewRegistry(DefaultGuardConfig("defaults"))

	for _, ns := range []string{"zebra", "alpha", "mango"} {
		_, err := r.Register(DefaultGuardConfig(ns))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alpha", "mango", "zebra"}, r.Namespaces())
}

func TestRegistryStatsAndHealth(t *testing.T) {
	r := NewRegistry(DefaultGuardConfig("defaults"))

	config := DefaultGuardConfig("cache:sessions")
	config.Breaker.FailureThreshold = 1
	guard, err := r.Register(config)
	require.NoError(t, err)
	_, err = r.Register(DefaultGuardConfig("cache:profiles"))
	require.NoError(t, err)

	assert.True(t, r.Healthy())

	_ = guard.Do(context.Background(), "get", func(ctx context.Context) error {
		return errors.New("backend unavailable")
	})

	// One open breaker marks the whole registry unhealthy.
	assert.False(t, r.Healthy())

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "open", stats["cache:sessions"].Breaker.StateName)
	assert.Equal(t, "closed", stats["cache:profiles"].Breaker.StateName)
}

func TestRegistryResetAll(t *testing.T) {
	r := NewRegistry(DefaultGuardConfig("defaults"))

	config := DefaultGuardConfig("cache:sessions")
	config.Breaker.FailureThreshold = 1
	guard, err := r.Register(config)
	require.NoError(t, err)

	_ = guard.Do(context.Background(), "get", func(ctx context.Context) error {
		return errors.New("backend unavailable")
	})
	require.False(t, r.Healthy())

	r.ResetAll()
	assert.True(t, r.Healthy())
}
