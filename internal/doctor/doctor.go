// Package doctor validates arbor configuration, plugins and the tree.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/mattjoyce/arbor/internal/app"
	"github.com/mattjoyce/arbor/internal/auth"
	"github.com/mattjoyce/arbor/internal/config"
	"github.com/mattjoyce/arbor/internal/log"
	"github.com/mattjoyce/arbor/internal/plugin"
	"github.com/mattjoyce/arbor/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
	// Order is the resolved plugin order when resolution succeeded.
	Order []string `json:"order,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var knownScopes = map[string]bool{
	auth.ScopeAll:         true,
	auth.ScopeResourcesRO: true,
	auth.ScopeResourcesRW: true,
	auth.ScopeEventsRO:    true,
	"events:rw":           true,
	auth.ScopePluginsRO:   true,
	"plugins:rw":          true,
	auth.ScopeTreeRO:      true,
}

// Doctor validates configuration against a plugin registry.
type Doctor struct {
	cfg      *config.Config
	registry *plugin.Registry
}

// New creates a Doctor from a loaded config and plugin registry.
func New(cfg *config.Config, registry *plugin.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateState(r)
	d.validatePluginRefs(r)
	d.validateResolution(r)
	d.validateTokenScopes(r)
	d.dryRun(ctx, r)
	d.warnAuth(r)
	d.warnUnusedPlugins(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
		return
	}
	if d.cfg.State.Path != ":memory:" {
		if err := storage.CheckLocalFilesystem(d.cfg.State.Path); err != nil {
			d.addError(r, "service", "state.path", err.Error())
		}
	}
	if d.cfg.Service.PIDFile == "" {
		d.addWarning(r, "service", "service.pid_file", "no pid_file: nothing stops two instances sharing state")
	}
}

// validatePluginRefs checks that enabled plugins are known and configured.
func (d *Doctor) validatePluginRefs(r *Result) {
	for _, name := range d.cfg.EnabledPluginNames() {
		pc := d.cfg.Plugins[name]
		field := "plugins." + name
		desc, ok := d.registry.Get(name)
		if !ok {
			d.addError(r, "plugin_refs", field,
				fmt.Sprintf("plugin %q is enabled but neither builtin nor declared in plugins_dir", name))
			continue
		}
		if src := d.registry.Source(name); src != "builtin" {
			d.addWarning(r, "plugin_refs", field,
				fmt.Sprintf("plugin %q is only declared by %s; it orders others but has no behaviour", name, src))
		}
		if desc.ConfigKeys == nil {
			continue
		}
		for _, key := range desc.ConfigKeys.Required {
			if _, exists := pc.Config[key]; !exists {
				d.addError(r, "plugin_refs", field+".config."+key,
					fmt.Sprintf("plugin %q requires config key %q", name, key))
			}
		}
		keys := make([]string, 0, len(pc.Config))
		for key := range pc.Config {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if !desc.ConfigKeys.Known(key) {
				d.addWarning(r, "plugin_refs", field+".config."+key,
					fmt.Sprintf("plugin %q does not use config key %q", name, key))
			}
		}
	}
}

// validateResolution runs the dependency resolver over the enabled set.
func (d *Doctor) validateResolution(r *Result) {
	descs, err := d.registry.Subset(d.cfg.EnabledPluginNames())
	if err != nil {
		// Already reported per plugin.
		return
	}
	order, err := plugin.Resolve(descs)
	if err != nil {
		d.addError(r, "dependencies", "plugins", err.Error())
		return
	}
	r.Order = order
}

// validateTokenScopes checks scope names.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			s := strings.ToLower(strings.TrimSpace(scope))
			if !knownScopes[s] {
				d.addError(r, "token_scopes", field,
					fmt.Sprintf("unknown scope %q (valid: resources:ro|rw, events:ro, plugins:ro, tree:ro, *)", scope))
			}
		}
	}
}

// dryRun assembles the service against in-memory state and loads every
// plugin, which surfaces load failures and actions nobody registers.
func (d *Doctor) dryRun(ctx context.Context, r *Result) {
	if len(r.Errors) > 0 {
		return
	}
	a, err := app.New(ctx, d.cfg, log.Discard(), app.Options{StatePath: ":memory:", Registry: d.registry})
	if err != nil {
		d.addError(r, "tree", "tree", err.Error())
		return
	}
	defer func() { _ = a.Close(ctx) }()

	if err := a.Load(ctx); err != nil {
		d.addError(r, "plugins", "plugins", err.Error())
		return
	}
	for _, u := range a.Unbound {
		d.addError(r, "tree", "tree", fmt.Sprintf("action %s has no registered handler", u))
	}
	if len(a.Tree.Resources()) == 0 && len(a.Tree.Actions()) == 0 {
		d.addWarning(r, "tree", "tree", "tree has no resources or actions; every request will 404")
	}
}

func (d *Doctor) warnAuth(r *Result) {
	a := d.cfg.API.Auth
	if !a.Enabled() && !isLoopback(d.cfg.API.Listen) {
		d.addWarning(r, "api", "api.auth",
			fmt.Sprintf("API listens on %s without authentication", d.cfg.API.Listen))
	}
	if a.APIKey != "" && len(a.Tokens) > 0 {
		d.addWarning(r, "api", "api.auth",
			"both api_key and tokens configured; api_key grants every scope")
	}
}

func isLoopback(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// warnUnusedPlugins warns about declared plugins not referenced in config.
func (d *Doctor) warnUnusedPlugins(r *Result) {
	for _, name := range d.registry.Names() {
		if d.registry.Source(name) == "builtin" {
			continue
		}
		if _, inConfig := d.cfg.Plugins[name]; !inConfig {
			d.addWarning(r, "unused", "",
				fmt.Sprintf("plugin %q declared but not referenced in config", name))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	if len(r.Order) > 0 {
		fmt.Fprintf(&b, "Plugin order: %s\n", strings.Join(r.Order, " -> "))
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
