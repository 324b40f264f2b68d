package doctor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/arbor/internal/builtin"
	"github.com/mattjoyce/arbor/internal/config"
	"github.com/mattjoyce/arbor/internal/plugin"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.State.Path = filepath.Join(t.TempDir(), "arbor.db")
	cfg.Plugins = map[string]config.PluginConf{
		"core/v1/store": {Enabled: true},
		"core/v1/echo":  {Enabled: true, Config: map[string]any{"timezone": "UTC"}},
	}
	cfg.Tree = config.NodeSpec{
		Name: "api",
		Kind: "namespace",
		Children: []config.NodeSpec{
			{Name: "users", Kind: "resource"},
			{Name: "ping", Kind: "action", Action: "echo"},
		},
	}
	return cfg
}

func builtinRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		t.Fatal(err)
	}
	return reg
}

func validate(t *testing.T, cfg *config.Config, reg *plugin.Registry) *Result {
	t.Helper()
	return New(cfg, reg).Validate(context.Background())
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := validate(t, validConfig(t), builtinRegistry(t))
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if strings.Join(r.Order, ",") != "core/v1/echo,core/v1/store" {
		t.Fatalf("order = %v", r.Order)
	}
}

func TestValidate_MissingStatePath(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.State.Path = ""
	r := validate(t, cfg, builtinRegistry(t))
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "service", "state.path")
}

func TestValidate_UnknownPlugin(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Plugins["acme/v1/missing"] = config.PluginConf{Enabled: true}
	r := validate(t, cfg, builtinRegistry(t))
	assertHasError(t, r, "plugin_refs", "acme/v1/missing")
}

func TestValidate_MissingDependency(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Plugins["core/v1/audit"] = config.PluginConf{Enabled: true}
	cfg.Plugins["core/v1/store"] = config.PluginConf{Enabled: false}
	r := validate(t, cfg, builtinRegistry(t))
	assertHasError(t, r, "dependencies", "core/v1/store")
}

func TestValidate_CyclicDeclaredPlugins(t *testing.T) {
	t.Parallel()
	reg := builtinRegistry(t)
	_ = reg.Declare(plugin.Descriptor{Domain: "acme", Version: "v1", Name: "a", Dependencies: []string{"acme/v1/b"}}, "a/manifest.yaml")
	_ = reg.Declare(plugin.Descriptor{Domain: "acme", Version: "v1", Name: "b", Dependencies: []string{"acme/v1/a"}}, "b/manifest.yaml")
	cfg := validConfig(t)
	cfg.Plugins["acme/v1/a"] = config.PluginConf{Enabled: true}
	cfg.Plugins["acme/v1/b"] = config.PluginConf{Enabled: true}

	r := validate(t, cfg, reg)
	assertHasError(t, r, "dependencies", "circular")
	assertHasWarning(t, r, "plugin_refs", "only declared")
}

func TestValidate_RequiredConfigKey(t *testing.T) {
	t.Parallel()
	reg := builtinRegistry(t)
	_ = reg.Declare(plugin.Descriptor{
		Domain: "acme", Version: "v1", Name: "billing",
		ConfigKeys: &plugin.ConfigKeys{Required: []string{"api_token"}},
	}, "billing/manifest.yaml")
	cfg := validConfig(t)
	cfg.Plugins["acme/v1/billing"] = config.PluginConf{Enabled: true}

	r := validate(t, cfg, reg)
	assertHasError(t, r, "plugin_refs", "api_token")
}

func TestValidate_UnknownConfigKeyWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Plugins["core/v1/echo"] = config.PluginConf{Enabled: true, Config: map[string]any{"tz": "UTC"}}
	r := validate(t, cfg, builtinRegistry(t))
	if !r.Valid {
		t.Fatalf("unknown keys should only warn: %v", r.Errors)
	}
	assertHasWarning(t, r, "plugin_refs", `"tz"`)
}

func TestValidate_UnboundAction(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Tree.Children = append(cfg.Tree.Children, config.NodeSpec{Name: "reboot", Kind: "action"})
	r := validate(t, cfg, builtinRegistry(t))
	assertHasError(t, r, "tree", "/reboot (reboot)")
}

func TestValidate_LoadFailure(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Plugins["core/v1/echo"] = config.PluginConf{Enabled: true, Config: map[string]any{"timezone": "Nowhere/Special"}}
	r := validate(t, cfg, builtinRegistry(t))
	assertHasError(t, r, "plugins", "core/v1/echo")
}

func TestValidate_EmptyTreeWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Tree.Children = nil
	r := validate(t, cfg, builtinRegistry(t))
	assertHasWarning(t, r, "tree", "every request will 404")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"resources:ro", "Events:RO"}},
		{Token: "b", Scopes: []string{"jobs:rw"}},
	}
	r := validate(t, cfg, builtinRegistry(t))
	assertHasError(t, r, "token_scopes", "jobs:rw")
	if len(r.Errors) != 1 {
		t.Fatalf("errors = %v", r.Errors)
	}
}

func TestValidate_AuthWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Listen = "0.0.0.0:8080"
	r := validate(t, cfg, builtinRegistry(t))
	assertHasWarning(t, r, "api", "without authentication")

	cfg = validConfig(t)
	cfg.API.Auth.APIKey = "k"
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"*"}}}
	r = validate(t, cfg, builtinRegistry(t))
	assertHasWarning(t, r, "api", "both")
}

func TestValidate_UnusedDeclaredPlugin(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "extra")
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "manifest_spec: arbor.plugin\nmanifest_version: 1\ndomain: acme\nversion: v1\nname: extra\n"
	if err := os.WriteFile(filepath.Join(p, "manifest.yaml"), []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	reg := builtinRegistry(t)
	if _, err := plugin.Discover(reg, dir, nil); err != nil {
		t.Fatal(err)
	}
	r := validate(t, validConfig(t), reg)
	assertHasWarning(t, r, "unused", "acme/v1/extra")
}

func TestIsLoopback(t *testing.T) {
	t.Parallel()
	for listen, want := range map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		"0.0.0.0:8080":   false,
		":8080":          false,
		"garbage":        false,
	} {
		if got := isLoopback(listen); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", listen, got, want)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true, Order: []string{"a/v1/x", "a/v1/y"}})
	if !strings.Contains(out, "valid") || !strings.Contains(out, "a/v1/x -> a/v1/y") {
		t.Fatalf("unexpected output: %s", out)
	}
	out = FormatHuman(&Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	})
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
