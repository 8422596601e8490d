package monitoring

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cachekit-reliability/pkg/config"
	"cachekit-reliability/pkg/logger"
)

// StatsProvider returns named stats sections for the stats endpoint.
// Each entry is merged into the payload next to the server's own
// "server" section.
type StatsProvider func() map[string]interface{}

// RequestMetrics records the monitoring server's own request metrics.
// Satisfied by metrics.ComprehensiveCollector.
type RequestMetrics interface {
	HTTPMiddleware(next http.Handler) http.Handler
}

// ServerOption configures optional collaborators.
type ServerOption func(*Server)

// WithRequestMetrics routes every monitoring request through the
// collector's HTTP middleware.
func WithRequestMetrics(rm RequestMetrics) ServerOption {
	return func(s *Server) {
		s.requestMetrics = rm
	}
}

// Server exposes the observability surface of the guard service:
// Prometheus metrics, health, readiness, liveness and aggregated stats.
type Server struct {
	serverConfig     config.ServerConfig
	monitoringConfig config.MonitoringConfig
	log              *logger.Logger
	health           *HealthRegistry
	statsProvider    StatsProvider
	requestMetrics   RequestMetrics

	server *http.Server

	mu              sync.RWMutex
	started         bool
	startTime       time.Time
	requestsServed  int64
	lastRequestTime time.Time
}

// ServerStats describes the server's own activity.
type ServerStats struct {
	Started         bool      `json:"started"`
	StartTime       time.Time `json:"start_time"`
	Uptime          string    `json:"uptime"`
	RequestsServed  int64     `json:"requests_served"`
	LastRequestTime time.Time `json:"last_request_time"`
	Address         string    `json:"address"`
	TLSEnabled      bool      `json:"tls_enabled"`
}

// NewServer creates the monitoring server. statsProvider may be nil, in
// which case the stats endpoint serves only server statistics.
func NewServer(serverConfig config.ServerConfig, monitoringConfig config.MonitoringConfig, log *logger.Logger, health *HealthRegistry, statsProvider StatsProvider, opts ...ServerOption) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if health == nil {
		health = NewHealthRegistry(0, log.Logger)
	}

	s := &Server{
		serverConfig:     serverConfig,
		monitoringConfig: monitoringConfig,
		log:              log,
		health:           health,
		statsProvider:    statsProvider,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins serving. It returns immediately; the listener runs on a
// background goroutine until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("monitoring server already started")
	}

	mux := http.NewServeMux()

	if s.monitoringConfig.Prometheus.Enabled {
		mux.Handle(s.monitoringConfig.Prometheus.Path, promhttp.Handler())
	}
	if s.monitoringConfig.Health.Enabled {
		mux.HandleFunc(s.monitoringConfig.Health.Path, s.healthHandler)
		mux.HandleFunc(s.monitoringConfig.Health.ReadyPath, s.readinessHandler)
		mux.HandleFunc(s.monitoringConfig.Health.LivePath, s.livenessHandler)
		mux.HandleFunc(s.monitoringConfig.Health.StatsPath, s.statsHandler)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.serverConfig.Host, s.serverConfig.Port),
		Handler:      s.middlewareStack(mux),
		ReadTimeout:  s.serverConfig.ReadTimeout,
		WriteTimeout: s.serverConfig.WriteTimeout,
		IdleTimeout:  s.serverConfig.IdleTimeout,
	}

	if s.serverConfig.TLS.Enabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	go func() {
		var err error
		if s.serverConfig.TLS.Enabled {
			s.log.Info("starting monitoring server with TLS",
				zap.String("addr", s.server.Addr))
			err = s.server.ListenAndServeTLS(s.serverConfig.TLS.CertFile, s.serverConfig.TLS.KeyFile)
		} else {
			s.log.Info("starting monitoring server",
				zap.String("addr", s.server.Addr))
			err = s.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			s.log.Error("monitoring server failed", zap.Error(err))
		}
	}()

	s.started = true
	s.startTime = time.Now()
	return nil
}

// Stop shuts the server down gracefully within the configured shutdown
// timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	server := s.server
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.serverConfig.ShutdownTimeout)
	defer cancel()

	// Shutdown waits for in-flight handlers; they take s.mu, so it must
	// not be held here.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitoring server shutdown failed: %w", err)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	s.log.Info("monitoring server stopped")
	return nil
}

// Health exposes the registry so the service can register checks.
func (s *Server) Health() *HealthRegistry {
	return s.health
}

// Stats returns the server's own activity counters.
func (s *Server) Stats() ServerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ServerStats{
		Started:         s.started,
		StartTime:       s.startTime,
		RequestsServed:  s.requestsServed,
		LastRequestTime: s.lastRequestTime,
		TLSEnabled:      s.serverConfig.TLS.Enabled,
	}
	if s.server != nil {
		stats.Address = s.server.Addr
	}
	if s.started {
		stats.Uptime = time.Since(s.startTime).String()
	}
	return stats
}

func (s *Server) middlewareStack(handler http.Handler) http.Handler {
	mw := logger.NewHTTPMiddleware(s.log)

	handler = mw.Logging(handler)
	handler = mw.RequestID(handler)
	if s.requestMetrics != nil {
		handler = s.requestMetrics.HTTPMiddleware(handler)
	}
	handler = s.requestCountingMiddleware(handler)
	handler = s.panicRecoveryMiddleware(handler)
	return handler
}

func (s *Server) panicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic in monitoring handler",
					zap.Any("error", err),
					zap.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestCountingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requestsServed++
		s.lastRequestTime = time.Now()
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := s.health.Run(r.Context())

	status := http.StatusOK
	if report.Status != StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	// Ready as soon as the listener is up; degraded guards still serve.
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	if !started {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"server": s.Stats(),
	}
	if s.statsProvider != nil {
		for name, section := range s.statsProvider() {
			payload[name] = section
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
