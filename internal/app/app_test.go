package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/config"
	"github.com/mattjoyce/arbor/internal/log"
)

const testConfig = `
plugins:
  core/v1/store:
    enabled: true
  core/v1/audit:
    enabled: true
  core/v1/echo:
    enabled: true
tree:
  name: api
  children:
    - name: users
      kind: resource
    - name: admin
      children:
        - name: echo
          kind: action
        - name: reboot
          kind: action
`

func parse(t *testing.T, body string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(body))
	require.NoError(t, err)
	cfg.State.Path = filepath.Join(t.TempDir(), "arbor.db")
	return cfg
}

func TestAppEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, parse(t, testConfig), log.Discard(), Options{})
	require.NoError(t, err)
	require.NoError(t, a.Load(ctx))
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { _ = a.Close(ctx) })

	assert.Equal(t, []string{"/admin/reboot (reboot)"}, a.Unbound)

	order, err := a.Manager.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"core/v1/audit", "core/v1/echo", "core/v1/store"}, order)

	h := a.Server().Handler()
	send := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
		return rec
	}

	assert.Equal(t, http.StatusNotFound, send("GET", "/users/1", "").Code)
	assert.Equal(t, http.StatusCreated, send("POST", "/users/1", `{"name":"ada"}`).Code)
	rec := send("GET", "/users/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"ada"`)
	assert.Equal(t, http.StatusOK, send("POST", "/admin/echo", `{"x":1}`).Code)
	assert.Equal(t, http.StatusNotImplemented, send("GET", "/admin/reboot", "").Code)

	stats := a.Hub.Stats()
	assert.Equal(t, int64(8), stats.Published, "the first read is cancelled at on-read so after-read is never emitted")
}

func TestAppUnknownPluginIsStartupError(t *testing.T) {
	ctx := context.Background()
	cfg := parse(t, "plugins:\n  acme/v1/missing:\n    enabled: true\n")
	a, err := New(ctx, cfg, log.Discard(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	err = a.Load(ctx)
	require.Error(t, err)
	assert.Equal(t, apperr.KindStartup, apperr.KindOf(err))
	assert.False(t, a.Tree.Initialized())
}

func TestAppManifestDeclaresDependency(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "billing")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "manifest.yaml"), []byte(`
manifest_spec: arbor.plugin
manifest_version: 1
domain: acme
version: v1
name: billing
dependencies: [core/v1/store]
`), 0o600))

	cfg := parse(t, `
plugins:
  acme/v1/billing:
    enabled: true
  core/v1/store:
    enabled: true
`)
	cfg.PluginsDir = dir

	a, err := New(ctx, cfg, log.Discard(), Options{StatePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	require.NoError(t, a.Load(ctx))

	order, err := a.Manager.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/v1/billing", "core/v1/store"}, order)
	for _, st := range a.Manager.Snapshot() {
		if st.Name == "acme/v1/billing" {
			assert.True(t, st.Declared)
		}
	}
}
