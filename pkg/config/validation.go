package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("multiple validation errors: %s", strings.Join(messages, "; "))
}

// ValidateConfig checks the whole service configuration and returns every
// violation at once.
func ValidateConfig(config *GuardServiceConfig) error {
	var errors ValidationErrors

	errors = append(errors, validateGuards(config)...)
	errors = append(errors, validateLoggingConfig(&config.Logging)...)
	errors = append(errors, validateMonitoringConfig(&config.Monitoring)...)
	errors = append(errors, validateServerConfig(&config.Server)...)

	if err := config.TimeoutManager.Validate(); err != nil {
		errors = append(errors, ValidationError{Field: "timeout_manager", Message: err.Error()})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func validateGuards(config *GuardServiceConfig) ValidationErrors {
	var errors ValidationErrors

	seen := make(map[string]bool)
	for i, guard := range config.Guards {
		field := fmt.Sprintf("guards[%d]", i)

		if guard.Namespace == "" {
			errors = append(errors, ValidationError{Field: field + ".namespace", Message: "namespace is required"})
			continue
		}
		if seen[guard.Namespace] {
			errors = append(errors, ValidationError{
				Field:   field + ".namespace",
				Message: fmt.Sprintf("duplicate namespace '%s'", guard.Namespace),
			})
		}
		seen[guard.Namespace] = true

		if err := guard.Validate(); err != nil {
			errors = append(errors, ValidationError{Field: field, Message: err.Error()})
		}
	}

	return errors
}

func validateLoggingConfig(logging *LoggingConfig) ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(logging.Level)] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(logging.Format)] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be 'json' or 'console'", logging.Format),
		})
	}

	for _, output := range logging.Output {
		switch output {
		case "stdout", "stderr", "file":
		default:
			errors = append(errors, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("invalid output '%s', must be 'stdout', 'stderr' or 'file'", output),
			})
		}
		if output == "file" && logging.FilePath == "" {
			errors = append(errors, ValidationError{
				Field:   "logging.file_path",
				Message: "file_path is required when output includes 'file'",
			})
		}
	}

	return errors
}

func validateMonitoringConfig(monitoring *MonitoringConfig) ValidationErrors {
	var errors ValidationErrors

	if !monitoring.Enabled {
		return nil
	}

	if monitoring.Prometheus.Enabled && !strings.HasPrefix(monitoring.Prometheus.Path, "/") {
		errors = append(errors, ValidationError{
			Field:   "monitoring.prometheus.path",
			Message: "path must start with '/'",
		})
	}
	if monitoring.Health.Enabled {
		for field, path := range map[string]string{
			"monitoring.health.path":       monitoring.Health.Path,
			"monitoring.health.ready_path": monitoring.Health.ReadyPath,
			"monitoring.health.live_path":  monitoring.Health.LivePath,
			"monitoring.health.stats_path": monitoring.Health.StatsPath,
		} {
			if !strings.HasPrefix(path, "/") {
				errors = append(errors, ValidationError{Field: field, Message: "path must start with '/'"})
			}
		}
	}

	return errors
}

func validateServerConfig(server *ServerConfig) ValidationErrors {
	var errors ValidationErrors

	if server.Port < 1 || server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("invalid port %d, must be between 1 and 65535", server.Port),
		})
	}
	if server.ReadTimeout <= 0 {
		errors = append(errors, ValidationError{Field: "server.read_timeout", Message: "must be > 0"})
	}
	if server.WriteTimeout <= 0 {
		errors = append(errors, ValidationError{Field: "server.write_timeout", Message: "must be > 0"})
	}
	if server.ShutdownTimeout <= 0 {
		errors = append(errors, ValidationError{Field: "server.shutdown_timeout", Message: "must be > 0"})
	}

	if server.TLS.Enabled {
		if server.TLS.CertFile == "" {
			errors = append(errors, ValidationError{Field: "server.tls.cert_file", Message: "required when TLS is enabled"})
		}
		if server.TLS.KeyFile == "" {
			errors = append(errors, ValidationError{Field: "server.tls.key_file", Message: "required when TLS is enabled"})
		}
	}

	return errors
}
