package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"cachekit-reliability/pkg/reliability"
)

// LoadConfig loads the guard service configuration from defaults, an
// optional YAML file (with ${VAR} substitution), and CACHEKIT_GUARD_*
// environment variables, in increasing precedence.
func LoadConfig(configPath string) (*GuardServiceConfig, error) {
	v := viper.New()

	v.SetDefault("defaults.namespace", "default")
	v.SetDefault("defaults.circuit_breaker.failure_threshold", 5)
	v.SetDefault("defaults.circuit_breaker.success_threshold", 3)
	v.SetDefault("defaults.circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("defaults.circuit_breaker.half_open_requests", 1)
	v.SetDefault("defaults.adaptive_timeout.percentile", 95.0)
	v.SetDefault("defaults.adaptive_timeout.window_size", 1000)
	v.SetDefault("defaults.adaptive_timeout.min_timeout", 1*time.Second)
	v.SetDefault("defaults.adaptive_timeout.max_timeout", 30*time.Second)
	v.SetDefault("defaults.backpressure.max_concurrent", 100)
	v.SetDefault("defaults.backpressure.queue_size", 1000)
	v.SetDefault("defaults.backpressure.acquire_timeout", 100*time.Millisecond)
	v.SetDefault("defaults.rate_limit.enabled", false)
	v.SetDefault("defaults.rate_limit.requests_per_second", 100.0)
	v.SetDefault("defaults.rate_limit.burst_size", 200)
	v.SetDefault("defaults.rate_limit.wait_timeout", 1*time.Second)
	v.SetDefault("defaults.retry.max_retries", 3)
	v.SetDefault("defaults.retry.initial_delay", 100*time.Millisecond)
	v.SetDefault("defaults.retry.max_delay", 5*time.Second)
	v.SetDefault("defaults.retry.multiplier", 2.0)
	v.SetDefault("defaults.retry.jitter", "equal")
	v.SetDefault("defaults.retry.respect_deadline", true)

	v.SetDefault("timeout_manager.base_lock_timeout", 10*time.Second)
	v.SetDefault("timeout_manager.base_blocking_timeout", 5*time.Second)
	v.SetDefault("timeout_manager.min_lock_timeout", 2*time.Second)
	v.SetDefault("timeout_manager.max_lock_timeout", 60*time.Second)
	v.SetDefault("timeout_manager.min_blocking_timeout", 1*time.Second)
	v.SetDefault("timeout_manager.max_blocking_timeout", 30*time.Second)
	v.SetDefault("timeout_manager.adaptation_rate", 0.1)
	v.SetDefault("timeout_manager.load_factor_window", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", []string{"stdout"})
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.sanitize_fields", []string{"password", "token", "secret", "key"})

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.path", "/metrics")
	v.SetDefault("monitoring.prometheus.namespace", "cachekit")
	v.SetDefault("monitoring.prometheus.subsystem", "reliability")
	v.SetDefault("monitoring.health.enabled", true)
	v.SetDefault("monitoring.health.path", "/health")
	v.SetDefault("monitoring.health.ready_path", "/ready")
	v.SetDefault("monitoring.health.live_path", "/live")
	v.SetDefault("monitoring.health.stats_path", "/stats")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.tls.enabled", false)

	v.AutomaticEnv()
	v.SetEnvPrefix("CACHEKIT_GUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		if !filepath.IsAbs(configPath) {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to get working directory: %w", err)
			}
			configPath = filepath.Join(wd, configPath)
		}

		raw, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %s: %w", configPath, err)
		}

		substituted, err := NewEnvSubstituter().Substitute(string(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to substitute environment variables in %s: %w", configPath, err)
		}

		v.SetConfigType("yaml")
		if err := v.ReadConfig(strings.NewReader(substituted)); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %s: %w", configPath, err)
		}
	}

	var config GuardServiceConfig
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToErrorKindHook,
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	applyGuardDefaults(&config)

	return &config, nil
}

// applyGuardDefaults fills unset per-guard fields from the defaults
// section, so a guard entry only needs to state what differs.
func applyGuardDefaults(config *GuardServiceConfig) {
	for i := range config.Guards {
		guard := &config.Guards[i]

		if guard.Breaker.FailureThreshold == 0 {
			guard.Breaker.FailureThreshold = config.Defaults.Breaker.FailureThreshold
		}
		if guard.Breaker.SuccessThreshold == 0 {
			guard.Breaker.SuccessThreshold = config.Defaults.Breaker.SuccessThreshold
		}
		if guard.Breaker.Timeout == 0 {
			guard.Breaker.Timeout = config.Defaults.Breaker.Timeout
		}
		if guard.Breaker.HalfOpenRequests == 0 {
			guard.Breaker.HalfOpenRequests = config.Defaults.Breaker.HalfOpenRequests
		}
		if guard.Breaker.ExcludedErrorKinds == nil {
			guard.Breaker.ExcludedErrorKinds = config.Defaults.Breaker.ExcludedErrorKinds
		}

		if guard.Timeout.Percentile == 0 {
			guard.Timeout.Percentile = config.Defaults.Timeout.Percentile
		}
		if guard.Timeout.WindowSize == 0 {
			guard.Timeout.WindowSize = config.Defaults.Timeout.WindowSize
		}
		if guard.Timeout.MinTimeout == 0 {
			guard.Timeout.MinTimeout = config.Defaults.Timeout.MinTimeout
		}
		if guard.Timeout.MaxTimeout == 0 {
			guard.Timeout.MaxTimeout = config.Defaults.Timeout.MaxTimeout
		}

		if guard.Backpressure.MaxConcurrent == 0 {
			guard.Backpressure.MaxConcurrent = config.Defaults.Backpressure.MaxConcurrent
		}
		if guard.Backpressure.QueueSize == 0 {
			guard.Backpressure.QueueSize = config.Defaults.Backpressure.QueueSize
		}
		if guard.Backpressure.AcquireTimeout == 0 {
			guard.Backpressure.AcquireTimeout = config.Defaults.Backpressure.AcquireTimeout
		}

		if guard.RateLimit.RequestsPerSecond == 0 {
			guard.RateLimit.RequestsPerSecond = config.Defaults.RateLimit.RequestsPerSecond
		}
		if guard.RateLimit.BurstSize == 0 {
			guard.RateLimit.BurstSize = config.Defaults.RateLimit.BurstSize
		}
		if guard.RateLimit.WaitTimeout == 0 {
			guard.RateLimit.WaitTimeout = config.Defaults.RateLimit.WaitTimeout
		}

		if guard.Retry.MaxRetries == 0 {
			guard.Retry.MaxRetries = config.Defaults.Retry.MaxRetries
		}
		if guard.Retry.InitialDelay == 0 {
			guard.Retry.InitialDelay = config.Defaults.Retry.InitialDelay
		}
		if guard.Retry.MaxDelay == 0 {
			guard.Retry.MaxDelay = config.Defaults.Retry.MaxDelay
		}
		if guard.Retry.Multiplier == 0 {
			guard.Retry.Multiplier = config.Defaults.Retry.Multiplier
		}
		if guard.Retry.Jitter == "" {
			guard.Retry.Jitter = config.Defaults.Retry.Jitter
		}
	}
}

// stringToErrorKindHook decodes excluded error kinds from their
// snake_case names.
func stringToErrorKindHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(reliability.KindUnknown) {
		return data, nil
	}
	return reliability.ParseErrorKind(data.(string))
}
