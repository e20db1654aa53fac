package keyprobe

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/engine"
	"github.com/goliatone/go-keyprobe/providers"
	"github.com/goliatone/go-keyprobe/scheduler"
)

// ProviderPack is a named group of adapters registered alongside the
// built-in providers.
type ProviderPack struct {
	Name      string
	Providers []core.ProviderAdapter
}

// ExtensionHooks collects what SetupWithExtensions adds on top of the
// built-in setup: provider packs and scheduler hooks.
type ExtensionHooks struct {
	mu sync.RWMutex

	packs          map[string]ProviderPack
	owners         map[string]string
	schedulerHooks []scheduler.Hook
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		packs:  map[string]ProviderPack{},
		owners: map[string]string{},
	}
}

// RegisterProviderPack stores pack. Pack names and provider ids must be
// unique across every registered pack.
func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("keyprobe: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("keyprobe: provider pack name is required")
	}
	if len(pack.Providers) == 0 {
		return fmt.Errorf("keyprobe: provider pack %q has no providers", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.packs[name]; exists {
		return fmt.Errorf("keyprobe: provider pack %q already registered", name)
	}
	ids := make([]string, 0, len(pack.Providers))
	for _, adapter := range pack.Providers {
		if adapter == nil {
			return fmt.Errorf("keyprobe: provider pack %q contains nil provider", name)
		}
		id := strings.ToLower(strings.TrimSpace(adapter.ID()))
		if owner, taken := h.owners[id]; taken {
			return fmt.Errorf("keyprobe: provider %q in pack %q already provided by pack %q", id, name, owner)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		h.owners[id] = name
	}
	h.packs[name] = ProviderPack{Name: name, Providers: append([]core.ProviderAdapter(nil), pack.Providers...)}
	return nil
}

// RegisterSchedulerHook adds a hook attached to every controller built by
// SetupWithExtensions.
func (h *ExtensionHooks) RegisterSchedulerHook(hook scheduler.Hook) error {
	if h == nil {
		return fmt.Errorf("keyprobe: extension hooks are nil")
	}
	if hook == nil {
		return fmt.Errorf("keyprobe: scheduler hook is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schedulerHooks = append(h.schedulerHooks, hook)
	return nil
}

// ApplyProviderPacks registers every pack's adapters in pack name order. A
// provider id already present in registry fails the whole call.
func (h *ExtensionHooks) ApplyProviderPacks(registry *providers.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("keyprobe: registry is required")
	}
	for _, pack := range h.ProviderPacks() {
		for _, adapter := range pack.Providers {
			if err := registry.Register(adapter); err != nil {
				return fmt.Errorf("keyprobe: provider pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.packs))
	for name := range h.packs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ProviderPack, 0, len(names))
	for _, name := range names {
		pack := h.packs[name]
		out = append(out, ProviderPack{Name: pack.Name, Providers: append([]core.ProviderAdapter(nil), pack.Providers...)})
	}
	return out
}

func (h *ExtensionHooks) options() []Option {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Option, 0, len(h.schedulerHooks))
	for _, hook := range h.schedulerHooks {
		out = append(out, engine.WithSchedulerHook(hook))
	}
	return out
}
