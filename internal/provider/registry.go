package provider

import (
	"sort"
	"sync"

	"github.com/Iron-Ham/uplink/internal/errors"
)

// Registry maps provider ids to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register sets the adapter for id, silently replacing any existing one.
func (r *Registry) Register(id string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[id] = adapter
}

// Resolve returns the adapter for id, or a ConfigurationError wrapping
// errors.ErrProviderNotRegistered.
func (r *Registry) Resolve(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, errors.NewConfigurationError("no adapter registered", errors.ErrProviderNotRegistered).WithProvider(id)
	}
	return a, nil
}

// IDs returns the registered provider ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
