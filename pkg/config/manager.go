package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConfigSubscriber is notified after every accepted configuration reload.
type ConfigSubscriber interface {
	OnConfigChange(oldConfig, newConfig *GuardServiceConfig) error
	SubscriberName() string
}

// ManagerStats describes the manager's reload activity.
type ManagerStats struct {
	LastReload      time.Time `json:"last_reload"`
	ReloadCount     int64     `json:"reload_count"`
	SubscriberCount int       `json:"subscriber_count"`
	Watching        bool      `json:"watching"`
	ConfigPath      string    `json:"config_path"`
}

// Manager owns the configuration lifecycle: initial load, hot reload via
// the file watcher, and fan-out to subscribers. A subscriber rejecting a
// reload keeps the previous configuration active for everyone.
type Manager struct {
	mu          sync.RWMutex
	config      *GuardServiceConfig
	watcher     *ConfigWatcher
	logger      *zap.Logger
	configPath  string
	subscribers []ConfigSubscriber
	started     bool
	lastReload  time.Time
	reloadCount int64
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithManagerLogger attaches a structured logger.
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a configuration manager for the given file.
func NewManager(configPath string, opts ...ManagerOption) *Manager {
	m := &Manager{
		configPath: configPath,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.watcher = NewConfigWatcher(configPath, m.logger)
	return m
}

// Start loads the initial configuration and begins watching for changes.
func (m *Manager) Start(ctx context.Context) (*GuardServiceConfig, error) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil, fmt.Errorf("config manager already started")
	}
	m.mu.Unlock()

	config, err := m.watcher.LoadInitialConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	m.mu.Lock()
	m.config = config
	m.started = true
	m.lastReload = time.Now()
	m.mu.Unlock()

	m.watcher.AddChangeHandler(m.onReload)
	if err := m.watcher.Start(ctx); err != nil {
		return nil, err
	}

	return config, nil
}

// Stop ends watching.
func (m *Manager) Stop() {
	m.watcher.Stop()
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
}

// Config returns a copy of the active configuration.
func (m *Manager) Config() *GuardServiceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return nil
	}
	configCopy := *m.config
	return &configCopy
}

// Subscribe registers a subscriber for reload notifications.
func (m *Manager) Subscribe(subscriber ConfigSubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, subscriber)
}

// Stats returns reload activity counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		LastReload:      m.lastReload,
		ReloadCount:     m.reloadCount,
		SubscriberCount: len(m.subscribers),
		Watching:        m.started,
		ConfigPath:      m.configPath,
	}
}

func (m *Manager) onReload(oldConfig, newConfig *GuardServiceConfig) error {
	m.mu.RLock()
	subscribers := make([]ConfigSubscriber, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.RUnlock()

	for _, subscriber := range subscribers {
		if err := subscriber.OnConfigChange(oldConfig, newConfig); err != nil {
			m.logger.Error("subscriber rejected configuration change",
				zap.String("subscriber", subscriber.SubscriberName()),
				zap.Error(err))
			return fmt.Errorf("subscriber %s rejected change: %w", subscriber.SubscriberName(), err)
		}
	}

	m.mu.Lock()
	m.config = newConfig
	m.lastReload = time.Now()
	m.reloadCount++
	m.mu.Unlock()

	return nil
}
