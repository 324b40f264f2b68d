package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattjoyce/arbor/internal/emitter"
	"github.com/mattjoyce/arbor/internal/events"
	"github.com/mattjoyce/arbor/internal/lifecycle"
	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/plugin"
	"github.com/mattjoyce/arbor/internal/records"
)

const auditName = "core/v1/audit"

// Audit mirrors every lifecycle event of every resource onto the events hub
// under a canonical name such as "arbor/v1/api/users/on-read".
type Audit struct {
	hub     *events.Hub
	records *records.Store
	logger  *slog.Logger
	prefix  string
	version string

	mu      sync.Mutex
	active  bool
	count   int64
	lastEvt string
}

// AuditEvent is the hub payload for one mirrored lifecycle event.
type AuditEvent struct {
	EventID string       `json:"event_id"`
	Event   string       `json:"event"`
	Path    string       `json:"path"`
	Target  *part.Target `json:"target,omitempty"`
}

func (a *Audit) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Domain:       domain,
		Version:      "v1",
		Name:         "audit",
		Description:  "Mirrors lifecycle events to the event stream",
		Dependencies: []string{"core/v1/store"},
		ConfigKeys:   &plugin.ConfigKeys{Optional: []string{"prefix", "version"}},
	}
}

func (a *Audit) Load(_ context.Context, host *plugin.Host) error {
	if host.Hub == nil {
		return fmt.Errorf("audit: no event hub")
	}
	a.hub = host.Hub
	a.records = host.Records
	a.logger = host.Logger
	a.prefix = host.ConfigString("prefix", "arbor")
	a.version = host.ConfigString("version", "v1")

	all, err := emitter.Glob("*")
	if err != nil {
		return err
	}
	for _, p := range host.Tree.Resources() {
		p.Events.On(all, a.mirror)
	}
	return nil
}

func (a *Audit) Start(ctx context.Context) error {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
	if a.records == nil {
		return nil
	}
	raw, err := a.records.PluginState(ctx, auditName)
	if err != nil {
		return fmt.Errorf("audit: restore state: %w", err)
	}
	var st struct {
		Events int64 `json:"events"`
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("audit: decode state: %w", err)
	}
	a.mu.Lock()
	a.count += st.Events
	a.mu.Unlock()
	return nil
}

func (a *Audit) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.active = false
	st, _ := json.Marshal(map[string]any{"events": a.count, "last_event": a.lastEvt})
	a.count = 0
	a.mu.Unlock()

	if a.records == nil {
		return nil
	}
	if _, err := a.records.MergePluginState(ctx, auditName, st); err != nil {
		return fmt.Errorf("audit: persist state: %w", err)
	}
	return nil
}

// Count returns how many events were mirrored, including persisted totals.
func (a *Audit) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *Audit) mirror(_ context.Context, ev *emitter.Event) error {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return nil
	}
	segments := append(strings.Split(ev.Path, "/"), ev.Name)
	name := lifecycle.CanonicalName(a.prefix, a.version, segments...)
	a.count++
	a.lastEvt = name
	a.mu.Unlock()

	target, _ := ev.Payload.(*part.Target)
	a.hub.Publish(name, AuditEvent{EventID: ev.ID, Event: ev.Name, Path: ev.Path, Target: target})
	return nil
}
