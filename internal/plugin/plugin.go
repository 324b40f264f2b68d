// Package plugin resolves plugin load order from declared dependencies and
// drives each plugin through load, start and stop.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mattjoyce/arbor/internal/compose"
	"github.com/mattjoyce/arbor/internal/events"
	"github.com/mattjoyce/arbor/internal/metrics"
	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/records"
)

//go:generate mockgen -destination=mocks/mock_plugin.go -package=mocks github.com/mattjoyce/arbor/internal/plugin Plugin

// Plugin is a unit of behaviour attached to the tree. Load registers
// listeners and actions; Start and Stop bracket any background work.
type Plugin interface {
	Descriptor() Descriptor
	Load(ctx context.Context, host *Host) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Host is what a plugin may touch. The manager hands each plugin its own
// copy with Logger and Config scoped to it.
type Host struct {
	Tree    *part.Tree
	Actions *compose.Actions
	Hub     *events.Hub
	Metrics *metrics.Collector
	Records *records.Store
	Logger  *slog.Logger
	Config  map[string]any
}

// ConfigString returns a string config value or def.
func (h *Host) ConfigString(key, def string) string {
	if v, ok := h.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Factory builds a fresh plugin instance.
type Factory func() Plugin

type entry struct {
	desc    Descriptor
	factory Factory
	source  string
}

// Registry holds known plugins keyed by canonical name. A plugin may be
// compiled in (it has a factory) or only declared by a manifest.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*entry)}
}

// Register adds a compiled-in plugin.
func (r *Registry) Register(f Factory) error {
	if f == nil {
		return fmt.Errorf("nil plugin factory")
	}
	d := f().Descriptor()
	return r.add(d, f, "builtin")
}

// MustRegister is Register for package init paths.
func (r *Registry) MustRegister(f Factory) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// Declare adds a descriptor without an implementation. When the name is
// already registered, the declared dependencies are merged into the
// existing descriptor instead.
func (r *Registry) Declare(d Descriptor, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.CanonicalName()
	if existing, ok := r.plugins[name]; ok {
		existing.desc.Dependencies = mergeDeps(existing.desc.Dependencies, d.Dependencies)
		if existing.desc.ConfigKeys == nil {
			existing.desc.ConfigKeys = d.ConfigKeys
		}
		return nil
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("plugin %q: %w", name, err)
	}
	r.plugins[name] = &entry{desc: d, source: source}
	return nil
}

func (r *Registry) add(d Descriptor, f Factory, source string) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("plugin %q: %w", d.CanonicalName(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.CanonicalName()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	r.plugins[name] = &entry{desc: d, factory: f, source: source}
	return nil
}

// Get returns the descriptor for a canonical name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Source reports where a plugin came from: "builtin" or a manifest path.
func (r *Registry) Source(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.plugins[name]; ok {
		return e.source
	}
	return ""
}

// All returns every descriptor keyed by canonical name.
func (r *Registry) All() map[string]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Descriptor, len(r.plugins))
	for name, e := range r.plugins {
		out[name] = e.desc
	}
	return out
}

// Names returns the registered canonical names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Subset returns descriptors for the given names. Unknown names are
// reported together.
func (r *Registry) Subset(names []string) (map[string]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Descriptor, len(names))
	var missing []string
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		e, ok := r.plugins[key]
		if !ok {
			missing = append(missing, n)
			continue
		}
		out[key] = e.desc
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, strings.Join(missing, ", "))
	}
	return out, nil
}

func (r *Registry) instantiate(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[name]
	if !ok || e.factory == nil {
		return nil, false
	}
	return e.factory(), true
}

func mergeDeps(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, d := range append(append([]string{}, a...), b...) {
		k := strings.ToLower(strings.TrimSpace(d))
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, d)
	}
	return out
}
