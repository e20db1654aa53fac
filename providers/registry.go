package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-keyprobe/core"
)

// Registry resolves adapters by provider id at dispatch time.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.ProviderAdapter
}

func NewRegistry(adapters ...core.ProviderAdapter) (*Registry, error) {
	registry := &Registry{adapters: make(map[string]core.ProviderAdapter)}
	for _, adapter := range adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(adapter core.ProviderAdapter) error {
	if adapter == nil {
		return fmt.Errorf("providers: adapter is nil")
	}
	id := normalizeID(adapter.ID())
	if id == "" {
		return fmt.Errorf("providers: adapter id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("providers: adapter already registered: %s", id)
	}
	r.adapters[id] = adapter
	return nil
}

func (r *Registry) Adapter(providerID string) (core.ProviderAdapter, error) {
	id := normalizeID(providerID)
	if r == nil || id == "" {
		return nil, core.UnknownProviderError(providerID)
	}
	r.mu.RLock()
	adapter, ok := r.adapters[id]
	r.mu.RUnlock()
	if !ok {
		return nil, core.UnknownProviderError(providerID)
	}
	return adapter, nil
}

func (r *Registry) List() []core.ProviderAdapter {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	adapters := make([]core.ProviderAdapter, 0, len(keys))
	for _, id := range keys {
		adapters = append(adapters, r.adapters[id])
	}
	return adapters
}

func normalizeID(id string) string {
	return strings.TrimSpace(strings.ToLower(id))
}

var _ core.AdapterResolver = (*Registry)(nil)
