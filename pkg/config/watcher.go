package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigChangeHandler is notified with the previous and the freshly
// loaded configuration. Returning an error keeps the previous
// configuration active.
type ConfigChangeHandler func(oldConfig, newConfig *GuardServiceConfig) error

// ConfigWatcher reloads the configuration file when it changes on disk.
// Reloads that fail to load or validate are logged and dropped; the last
// good configuration stays active.
type ConfigWatcher struct {
	mu             sync.RWMutex
	config         *GuardServiceConfig
	logger         *zap.Logger
	configPath     string
	changeHandlers []ConfigChangeHandler
	cancel         context.CancelFunc
	watching       bool

	// debounce collapses the editor write+rename bursts fsnotify reports.
	debounce time.Duration
}

// NewConfigWatcher creates a watcher for the given file.
func NewConfigWatcher(configPath string, logger *zap.Logger) *ConfigWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigWatcher{
		configPath: configPath,
		logger:     logger,
		debounce:   200 * time.Millisecond,
	}
}

// LoadInitialConfig loads and validates the configuration once, before
// watching starts.
func (cw *ConfigWatcher) LoadInitialConfig() (*GuardServiceConfig, error) {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()
	return config, nil
}

// CurrentConfig returns a copy of the active configuration.
func (cw *ConfigWatcher) CurrentConfig() *GuardServiceConfig {
	cw.mu.RLock()
	defer cw.mu.RUnlock()

	if cw.config == nil {
		return nil
	}
	configCopy := *cw.config
	return &configCopy
}

// AddChangeHandler registers a handler invoked on every successful
// reload.
func (cw *ConfigWatcher) AddChangeHandler(handler ConfigChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.changeHandlers = append(cw.changeHandlers, handler)
}

// Start begins watching the configuration file. It returns immediately;
// reloads happen on a background goroutine until Stop or ctx
// cancellation.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.watching {
		cw.mu.Unlock()
		return fmt.Errorf("config watcher already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cw.mu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory: editors replace files by rename, which drops
	// a watch on the file itself.
	if err := watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		watcher.Close()
		cw.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", cw.configPath, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cw.cancel = cancel
	cw.watching = true
	cw.mu.Unlock()

	go cw.watchLoop(ctx, watcher)
	return nil
}

// Stop ends watching. Safe to call more than once.
func (cw *ConfigWatcher) Stop() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.cancel != nil {
		cw.cancel()
	}
	cw.watching = false
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	target := filepath.Clean(cw.configPath)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounce, cw.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (cw *ConfigWatcher) reload() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.Error("config reload failed, keeping previous configuration",
			zap.String("path", cw.configPath),
			zap.Error(err))
		return
	}
	if err := ValidateConfig(newConfig); err != nil {
		cw.logger.Error("reloaded config invalid, keeping previous configuration",
			zap.String("path", cw.configPath),
			zap.Error(err))
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	handlers := make([]ConfigChangeHandler, len(cw.changeHandlers))
	copy(handlers, cw.changeHandlers)
	cw.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(oldConfig, newConfig); err != nil {
			cw.logger.Error("config change handler rejected new configuration",
				zap.Error(err))
			cw.mu.Lock()
			cw.config = oldConfig
			cw.mu.Unlock()
			return
		}
	}

	cw.logger.Info("configuration reloaded",
		zap.String("path", cw.configPath))
}
