package reliability

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"cachekit-reliability/pkg/metrics"
)

// Registry owns one Guard per namespace. Lookups for unknown namespaces
// can fall back to a defaults template so callers never pass nil guards
// around.
type Registry struct {
	mu       sync.RWMutex
	guards   map[string]*Guard
	defaults GuardConfig

	logger    *zap.Logger
	collector metrics.ExtendedCollector
}

// RegistryOption configures optional collaborators.
type RegistryOption func(*Registry)

// WithRegistryLogger attaches a structured logger, shared with every
// created guard.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryCollector attaches a metrics collector, shared with every
// created guard.
func WithRegistryCollector(collector metrics.ExtendedCollector) RegistryOption {
	return func(r *Registry) {
		if collector != nil {
			r.collector = collector
		}
	}
}

// NewRegistry creates a registry whose on-demand guards use defaults
// with the requested namespace substituted in.
func NewRegistry(defaults GuardConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		guards:    make(map[string]*Guard),
		defaults:  defaults,
		logger:    zap.NewNop(),
		collector: metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a guard from an explicit configuration. Registering a
// namespace twice is an error; reconfiguration goes through Replace.
func (r *Registry) Register(config GuardConfig) (*Guard, error) {
	guard, err := NewGuard(config, WithGuardLogger(r.logger), WithGuardCollector(r.collector))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.guards[config.Namespace]; exists {
		return nil, fmt.Errorf("guard for namespace %q already registered", config.Namespace)
	}
	r.guards[config.Namespace] = guard

	r.logger.Info("guard registered",
		zap.String("namespace", config.Namespace))
	return guard, nil
}

// Replace swaps the guard for a namespace, creating it if absent. The
// old guard's live permits drain naturally; its counters are not
// carried over.
func (r *Registry) Replace(config GuardConfig) (*Guard, error) {
	guard, err := NewGuard(config, WithGuardLogger(r.logger), WithGuardCollector(r.collector))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.guards[config.Namespace] = guard
	r.mu.Unlock()

	r.logger.Info("guard replaced",
		zap.String("namespace", config.Namespace))
	return guard, nil
}

// Get returns the guard for a namespace.
func (r *Registry) Get(namespace string) (*Guard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	guard, ok := r.guards[namespace]
	return guard, ok
}

// GetOrCreate returns the guard for a namespace, creating one from the
// defaults template on first use.
func (r *Registry) GetOrCreate(namespace string) (*Guard, error) {
	r.mu.RLock()
	guard, ok := r.guards[namespace]
	r.mu.RUnlock()
	if ok {
		return guard, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; another caller may have won.
	if guard, ok = r.guards[namespace]; ok {
		return guard, nil
	}

	config := r.defaults
	config.Namespace = namespace
	guard, err := NewGuard(config, WithGuardLogger(r.logger), WithGuardCollector(r.collector))
	if err != nil {
		return nil, err
	}
	r.guards[namespace] = guard

	r.logger.Info("guard created from defaults",
		zap.String("namespace", namespace))
	return guard, nil
}

// Remove drops the guard for a namespace.
func (r *Registry) Remove(namespace string) {
	r.mu.Lock()
	delete(r.guards, namespace)
	r.mu.Unlock()
}

// Namespaces returns the registered namespaces, sorted.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.guards))
	for name := range r.guards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot per namespace.
func (r *Registry) Stats() map[string]GuardStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]GuardStats, len(r.guards))
	for name, guard := range r.guards {
		stats[name] = guard.Stats()
	}
	return stats
}

// Healthy reports whether every registered guard accepts traffic.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, guard := range r.guards {
		if !guard.Healthy() {
			return false
		}
	}
	return true
}

// ResetAll resets every registered guard. Operational override.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, guard := range r.guards {
		guard.Reset()
	}
}
