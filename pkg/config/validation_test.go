package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachekit-reliability/pkg/reliability"
)

func validTestConfig(t *testing.T) *GuardServiceConfig {
	t.Helper()
	config, err := LoadConfig("")
	require.NoError(t, err)
	return config
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	assert.NoError(t, ValidateConfig(validTestConfig(t)))
}

func TestValidateConfigGuardWithoutNamespace(t *testing.T) {
	config := validTestConfig(t)
	config.Guards = []reliability.GuardConfig{reliability.DefaultGuardConfig("")}

	err := ValidateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guards[0].namespace")
}

func TestValidateConfigDuplicateNamespaces(t *testing.T) {
	config := validTestConfig(t)
	config.Guards = []reliability.GuardConfig{
		reliability.DefaultGuardConfig("cache:sessions"),
		reliability.DefaultGuardConfig("cache:sessions"),
	}

	err := ValidateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate namespace")
}

func TestValidateConfigInvalidGuardStage(t *testing.T) {
	config := validTestConfig(t)
	guard := reliability.DefaultGuardConfig("cache:sessions")
	guard.Breaker.FailureThreshold = -3
	config.Guards = []reliability.GuardConfig{guard}

	err := ValidateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guards[0]")
}

func TestValidateConfigLogging(t *testing.T) {
	config := validTestConfig(t)
	config.Logging.Level = "verbose"
	config.Logging.Format = "xml"
	config.Logging.Output = []string{"file"}
	config.Logging.FilePath = ""

	err := ValidateConfig(config)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "logging.level")
	assert.Contains(t, msg, "logging.format")
	assert.Contains(t, msg, "logging.file_path")
}

func TestValidateConfigMonitoringPaths(t *testing.T) {
	config := validTestConfig(t)
	config.Monitoring.Prometheus.Path = "metrics"
	config.Monitoring.Health.StatsPath = "stats"

	err := ValidateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.prometheus.path")
	assert.Contains(t, err.Error(), "monitoring.health.stats_path")

	// Disabled monitoring skips the path checks entirely.
	config.Monitoring.Enabled = false
	assert.NoError(t, ValidateConfig(config))
}

func TestValidateConfigServer(t *testing.T) {
	config := validTestConfig(t)
	config.Server.Port = 70000
	config.Server.ReadTimeout = 0

	err := ValidateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "server.read_timeout")
}

func TestValidateConfigTLSFiles(t *testing.T) {
	config := validTestConfig(t)
	config.Server.TLS.Enabled = true

	err := ValidateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.tls.cert_file")
	assert.Contains(t, err.Error(), "server.tls.key_file")
}

func TestValidateConfigTimeoutManager(t *testing.T) {
	config := validTestConfig(t)
	config.TimeoutManager.AdaptationRate = 2.0

	err := ValidateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout_manager")
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Message: "broken"},
		{Field: "b", Message: "also broken"},
	}

	msg := errs.Error()
	assert.True(t, strings.HasPrefix(msg, "multiple validation errors:"))
	assert.Contains(t, msg, "'a'")
	assert.Contains(t, msg, "'b'")

	single := ValidationErrors{{Field: "a", Message: "broken"}}
	assert.Equal(t, "validation error for field 'a': broken", single.Error())
	assert.Empty(t, ValidationErrors{}.Error())
}
