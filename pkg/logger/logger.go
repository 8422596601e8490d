package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"cachekit-reliability/pkg/config"
)

// Logger wraps zap with field sanitization so secrets never reach a log
// sink even when callers log whole config structs.
type Logger struct {
	*zap.Logger
	sanitizer *FieldSanitizer
}

type FieldSanitizer struct {
	sensitiveFields map[string]bool
}

// NewLogger builds a logger from configuration: level, JSON or console
// encoding, and any mix of stdout/stderr/rotated-file sinks.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config is nil")
	}

	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoder, err := createEncoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	cores := make([]zapcore.Core, 0, len(cfg.Output))

	for _, output := range cfg.Output {
		var writer zapcore.WriteSyncer

		switch output {
		case "stdout":
			writer = zapcore.AddSync(os.Stdout)
		case "stderr":
			writer = zapcore.AddSync(os.Stderr)
		case "file":
			if cfg.FilePath == "" {
				return nil, fmt.Errorf("file_path is required when using file output")
			}

			if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}

			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
			writer = zapcore.AddSync(fileWriter)
		default:
			return nil, fmt.Errorf("unsupported output type: %s", output)
		}

		cores = append(cores, zapcore.NewCore(encoder, writer, level))
	}

	zapLogger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	return &Logger{
		Logger:    zapLogger,
		sanitizer: NewFieldSanitizer(cfg.SanitizeFields),
	}, nil
}

// SafeLog logs with sensitive fields redacted.
func (l *Logger) SafeLog(level zapcore.Level, msg string, fields ...zap.Field) {
	l.Logger.Log(level, msg, l.sanitizer.SanitizeFields(fields)...)
}

// WithFields returns a child logger carrying the sanitized fields.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{
		Logger:    l.Logger.With(l.sanitizer.SanitizeFields(fields)...),
		sanitizer: l.sanitizer,
	}
}

// NewNop returns a logger that discards everything. For tests and
// defaults.
func NewNop() *Logger {
	return &Logger{
		Logger:    zap.NewNop(),
		sanitizer: NewFieldSanitizer(nil),
	}
}

func NewFieldSanitizer(sensitiveFields []string) *FieldSanitizer {
	fieldMap := make(map[string]bool)
	for _, field := range sensitiveFields {
		fieldMap[strings.ToLower(field)] = true
	}

	return &FieldSanitizer{
		sensitiveFields: fieldMap,
	}
}

func (fs *FieldSanitizer) SanitizeFields(fields []zap.Field) []zap.Field {
	if len(fs.sensitiveFields) == 0 {
		return fields
	}

	sanitized := make([]zap.Field, len(fields))

	for i, field := range fields {
		if fs.isSensitiveField(field.Key) {
			sanitized[i] = zap.String(field.Key, "***REDACTED***")
		} else {
			sanitized[i] = field
		}
	}

	return sanitized
}

func (fs *FieldSanitizer) isSensitiveField(fieldName string) bool {
	lowerFieldName := strings.ToLower(fieldName)

	if fs.sensitiveFields[lowerFieldName] {
		return true
	}

	for sensitiveField := range fs.sensitiveFields {
		if strings.Contains(lowerFieldName, sensitiveField) {
			return true
		}
	}

	return false
}

func parseLogLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func createEncoder(cfg *config.LoggingConfig) (zapcore.Encoder, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(cfg.Format) {
	case "json":
		return zapcore.NewJSONEncoder(encoderConfig), nil
	case "console":
		return zapcore.NewConsoleEncoder(encoderConfig), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
}
