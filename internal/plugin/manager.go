package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/log"
)

// Status is one row of Manager.Snapshot.
type Status struct {
	Name         string   `json:"name"`
	Position     int      `json:"position"`
	State        State    `json:"state"`
	Dependencies []string `json:"dependencies,omitempty"`
	Description  string   `json:"description,omitempty"`
	Source       string   `json:"source"`
	Declared     bool     `json:"declared_only,omitempty"`
}

// Manager runs the enabled plugins of a registry in resolved order.
type Manager struct {
	registry *Registry
	host     Host
	configs  map[string]map[string]any
	logger   *slog.Logger

	mu        sync.Mutex
	order     []string
	instances map[string]Plugin
	states    map[string]State
}

// NewManager prepares a manager for the enabled plugins. configs maps
// canonical name to that plugin's config block; only its keys are enabled.
func NewManager(reg *Registry, host Host, configs map[string]map[string]any) *Manager {
	return &Manager{
		registry:  reg,
		host:      host,
		configs:   configs,
		logger:    log.WithComponent(host.Logger, "plugin-manager"),
		instances: make(map[string]Plugin),
		states:    make(map[string]State),
	}
}

// Resolve computes the load order of the enabled plugins.
func (m *Manager) Resolve() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked()
}

func (m *Manager) resolveLocked() ([]string, error) {
	if m.order != nil {
		return append([]string(nil), m.order...), nil
	}
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	descs, err := m.registry.Subset(names)
	if err != nil {
		return nil, apperr.Startup(err, "enable plugins")
	}
	order, err := Resolve(descs)
	if err != nil {
		return nil, err
	}
	m.order = order
	for _, name := range order {
		if _, ok := m.states[name]; !ok {
			m.states[name] = StateUnloaded
		}
	}
	m.logger.Info("plugin order resolved", "order", order)
	return append([]string(nil), order...), nil
}

// LoadAll loads every plugin in resolved order. The first failure stops the
// sequence and is returned as a startup error.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.resolveLocked()
	if err != nil {
		return err
	}
	for _, name := range order {
		if err := m.transitionLocked(name, StateLoaded); err != nil {
			return apperr.Startup(err, "load plugin %q", name)
		}
		p, ok := m.registry.instantiate(name)
		if !ok {
			m.logger.Info("plugin declared without implementation", "plugin", name)
			m.states[name] = StateLoaded
			continue
		}
		host := m.host
		host.Logger = log.WithPlugin(m.host.Logger, name)
		host.Config = m.configs[name]
		if err := p.Load(ctx, &host); err != nil {
			return apperr.Startup(err, "load plugin %q", name)
		}
		m.instances[name] = p
		m.states[name] = StateLoaded
		m.logger.Debug("plugin loaded", "plugin", name)
	}
	return nil
}

// StartAll starts every loaded plugin in resolved order.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		if err := m.transitionLocked(name, StateStarted); err != nil {
			return apperr.Startup(err, "start plugin %q", name)
		}
		if p, ok := m.instances[name]; ok {
			if err := p.Start(ctx); err != nil {
				return apperr.Startup(err, "start plugin %q", name)
			}
		}
		m.states[name] = StateStarted
		m.logger.Info("plugin started", "plugin", name)
	}
	m.reportStartedLocked()
	return nil
}

// StopAll stops started plugins in reverse order. Every plugin is given a
// chance to stop; the first error is returned.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		if m.states[name] != StateStarted {
			continue
		}
		if p, ok := m.instances[name]; ok {
			if err := p.Stop(ctx); err != nil {
				m.logger.Error("plugin stop failed", "plugin", name, "error", err)
				if first == nil {
					first = fmt.Errorf("stop plugin %q: %w", name, err)
				}
			}
		}
		m.states[name] = StateStopped
		m.logger.Info("plugin stopped", "plugin", name)
	}
	m.reportStartedLocked()
	return first
}

func (m *Manager) reportStartedLocked() {
	if m.host.Metrics == nil {
		return
	}
	n := 0
	for _, s := range m.states {
		if s == StateStarted {
			n++
		}
	}
	m.host.Metrics.PluginsStarted.Set(float64(n))
}

// State returns the current state of a plugin.
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[name]
	return s, ok
}

// Snapshot reports every enabled plugin in resolved order.
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.order))
	for i, name := range m.order {
		d, _ := m.registry.Get(name)
		_, hasImpl := m.instances[name]
		out = append(out, Status{
			Name:         name,
			Position:     i,
			State:        m.states[name],
			Dependencies: d.Dependencies,
			Description:  d.Description,
			Source:       m.registry.Source(name),
			Declared:     m.states[name].IsLoaded() && !hasImpl,
		})
	}
	return out
}

func (m *Manager) transitionLocked(name string, next State) error {
	cur := m.states[name]
	if !cur.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	return nil
}
