package logger

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cachekit-reliability/pkg/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name        string
		config      *config.LoggingConfig
		expectError bool
	}{
		{
			name: "valid console config",
			config: &config.LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: []string{"stdout"},
			},
		},
		{
			name: "valid json config",
			config: &config.LoggingConfig{
				Level:  "debug",
				Format: "json",
				Output: []string{"stderr"},
			},
		},
		{
			name: "multiple outputs",
			config: &config.LoggingConfig{
				Level:  "warn",
				Format: "json",
				Output: []string{"stdout", "stderr"},
			},
		},
		{
			name:        "nil config",
			config:      nil,
			expectError: true,
		},
		{
			name: "invalid level",
			config: &config.LoggingConfig{
				Level:  "verbose",
				Format: "json",
				Output: []string{"stdout"},
			},
			expectError: true,
		},
		{
			name: "invalid format",
			config: &config.LoggingConfig{
				Level:  "info",
				Format: "xml",
				Output: []string{"stdout"},
			},
			expectError: true,
		},
		{
			name: "invalid output",
			config: &config.LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: []string{"syslog"},
			},
			expectError: true,
		},
		{
			name: "file output without path",
			config: &config.LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: []string{"file"},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			logger.Info("test entry")
		})
	}
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "guard.log")
	logger, err := NewLogger(&config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   []string{"file"},
		FilePath: path,
		MaxSize:  10,
	})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestFieldSanitizerRedactsSensitiveFields(t *testing.T) {
	fs := NewFieldSanitizer([]string{"password", "token"})

	fields := []zap.Field{
		zap.String("username", "admin"),
		zap.String("password", "hunter2"),
		zap.String("auth_token", "abc123"),
		zap.Int("attempts", 3),
	}
	sanitized := fs.SanitizeFields(fields)

	assert.Equal(t, "admin", sanitized[0].String)
	assert.Equal(t, "***REDACTED***", sanitized[1].String)
	// Substring matching catches derived field names.
	assert.Equal(t, "***REDACTED***", sanitized[2].String)
	assert.Equal(t, int64(3), sanitized[3].Integer)
}

func TestFieldSanitizerCaseInsensitive(t *testing.T) {
	fs := NewFieldSanitizer([]string{"Password"})

	sanitized := fs.SanitizeFields([]zap.Field{zap.String("PASSWORD", "hunter2")})
	assert.Equal(t, "***REDACTED***", sanitized[0].String)
}

func TestFieldSanitizerNoSensitiveFields(t *testing.T) {
	fs := NewFieldSanitizer(nil)

	fields := []zap.Field{zap.String("password", "hunter2")}
	assert.Equal(t, fields, fs.SanitizeFields(fields))
}

func TestSafeLogAndWithFields(t *testing.T) {
	logger, err := NewLogger(&config.LoggingConfig{
		Level:          "debug",
		Format:         "json",
		Output:         []string{"stdout"},
		SanitizeFields: []string{"secret"},
	})
	require.NoError(t, err)

	logger.SafeLog(zapcore.InfoLevel, "safe entry", zap.String("secret", "value"))

	child := logger.WithFields(zap.String("component", "test"))
	require.NotNil(t, child)
	child.Info("child entry")
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	require.NotNil(t, logger)
	logger.Info("discarded")
	logger.SafeLog(zapcore.ErrorLevel, "also discarded", zap.String("password", "x"))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
	}
	for _, tt := range tests {
		level, err := parseLogLevel(tt.input)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level)
	}

	_, err := parseLogLevel("catastrophic")
	assert.Error(t, err)
}

func TestRequestIDMiddleware(t *testing.T) {
	mw := NewHTTPMiddleware(NewNop())

	var seen string
	handler := mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// A caller-provided ID is propagated untouched.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-id-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "caller-id-42", seen)
	assert.Equal(t, "caller-id-42", rec.Header().Get("X-Request-ID"))

	// Without one, a fresh ID is generated and echoed back.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	assert.Len(t, seen, 16)
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	mw := NewHTTPMiddleware(NewNop())

	handler := mw.Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRequestIDFromContextMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}
