package builtin

import (
	"context"
	"encoding/json"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/compose"
	"github.com/mattjoyce/arbor/internal/config"
	"github.com/mattjoyce/arbor/internal/events"
	"github.com/mattjoyce/arbor/internal/log"
	"github.com/mattjoyce/arbor/internal/metrics"
	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/plugin"
	"github.com/mattjoyce/arbor/internal/records"
	"github.com/mattjoyce/arbor/internal/storage"
)

type harness struct {
	tree    *part.Tree
	manager *plugin.Manager
	hub     *events.Hub
	reg     *prometheus.Registry
	records *records.Store
}

func newHarness(t *testing.T, enabled map[string]map[string]any) *harness {
	t.Helper()
	ctx := context.Background()

	spec := config.NodeSpec{
		Name: "api",
		Kind: "namespace",
		Children: []config.NodeSpec{
			{Name: "users", Kind: "resource", Children: []config.NodeSpec{
				{Name: "orders", Kind: "resource"},
			}},
			{Name: "admin", Children: []config.NodeSpec{
				{Name: "echo", Kind: "action"},
				{Name: "clock", Kind: "action", Action: "time"},
			}},
		},
	}
	actions := compose.NewActions()
	tree, err := compose.Build(spec, actions)
	require.NoError(t, err)

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "arbor.db"), storage.Options{SkipFilesystemCheck: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := plugin.NewRegistry()
	require.NoError(t, Register(reg))

	promReg := prometheus.NewRegistry()
	h := &harness{
		tree:    tree,
		hub:     events.NewHub(64),
		reg:     promReg,
		records: records.NewStore(db),
	}
	host := plugin.Host{
		Tree:    tree,
		Actions: actions,
		Hub:     h.hub,
		Metrics: metrics.NewWithRegistry(promReg),
		Records: h.records,
		Logger:  log.Discard(),
	}
	h.manager = plugin.NewManager(reg, host, enabled)
	require.NoError(t, h.manager.LoadAll(ctx))
	unbound, err := compose.Bind(tree, actions)
	require.NoError(t, err)
	require.Empty(t, unbound)
	require.NoError(t, tree.Initialize(ctx))
	require.NoError(t, h.manager.StartAll(ctx))
	return h
}

func allBuiltins() map[string]map[string]any {
	return map[string]map[string]any{
		"core/v1/store":   nil,
		"core/v1/audit":   nil,
		"core/v1/metrics": nil,
		"core/v1/echo":    {"timezone": "UTC"},
	}
}

func (h *harness) serve(t *testing.T, method, path string, query url.Values, body map[string]any) (*part.Request, error) {
	t.Helper()
	req := part.NewRequest(context.Background(), method, path, query)
	req.Body = body
	return req, h.tree.Serve(req)
}

func TestStoreLifecycle(t *testing.T) {
	h := newHarness(t, allBuiltins())

	_, err := h.serve(t, "GET", "/users/42", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	req, err := h.serve(t, "POST", "/users/42", nil, map[string]any{"name": "ada", "role": "admin"})
	require.NoError(t, err)
	rec, ok := req.Target.Result.(*records.Record)
	require.True(t, ok, "result = %T", req.Target.Result)
	assert.Equal(t, "users", rec.Key.Resource)

	_, err = h.serve(t, "POST", "/users/42", nil, map[string]any{"name": "dup"})
	assert.Equal(t, apperr.KindUnprocessableEntity, apperr.KindOf(err))

	req, err = h.serve(t, "PATCH", "/users/42", nil, map[string]any{"name": "grace"})
	require.NoError(t, err)
	rec = req.Target.Result.(*records.Record)
	assert.Equal(t, "grace", rec.Data["name"])
	assert.Equal(t, "admin", rec.Data["role"])

	req, err = h.serve(t, "GET", "/users/42", url.Values{"role": {"admin"}}, nil)
	require.NoError(t, err)
	found, ok := req.Target.Result.([]*records.Record)
	require.True(t, ok)
	require.Len(t, found, 1)

	_, err = h.serve(t, "DELETE", "/users/42", nil, nil)
	require.NoError(t, err)
	_, err = h.serve(t, "GET", "/users/42", nil, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStoreNestedResources(t *testing.T) {
	h := newHarness(t, allBuiltins())

	// Parent must exist before a child can be addressed.
	_, err := h.serve(t, "POST", "/users/1/orders/7", nil, map[string]any{"total": 10})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = h.serve(t, "POST", "/users/1", nil, nil)
	require.NoError(t, err)
	req, err := h.serve(t, "POST", "/users/1/orders/7", nil, map[string]any{"total": 10})
	require.NoError(t, err)
	rec := req.Target.Result.(*records.Record)
	assert.Equal(t, records.Key{Resource: "users/orders", Parent: "1", ID: "7"}, rec.Key)

	_, err = h.serve(t, "DELETE", "/users/1", nil, nil)
	require.NoError(t, err)
	_, err = h.records.Get(context.Background(), rec.Key)
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestAuditMirrorsToHub(t *testing.T) {
	h := newHarness(t, allBuiltins())
	ch, cancel := h.hub.Subscribe("arbor/v1/api/users/")
	defer cancel()

	_, err := h.serve(t, "POST", "/users/5", nil, map[string]any{"a": 1})
	require.NoError(t, err)

	var names []string
	timeout := time.After(time.Second)
	for len(names) < 3 {
		select {
		case ev := <-ch:
			names = append(names, ev.Type)
		case <-timeout:
			t.Fatalf("got %v before timeout", names)
		}
	}
	assert.Equal(t, []string{
		"arbor/v1/api/users/before-create",
		"arbor/v1/api/users/on-create",
		"arbor/v1/api/users/after-create",
	}, names)
}

func TestAuditPersistsCountAcrossRestart(t *testing.T) {
	h := newHarness(t, allBuiltins())
	ctx := context.Background()

	_, err := h.serve(t, "POST", "/users/5", nil, nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StopAll(ctx))

	raw, err := h.records.PluginState(ctx, auditName)
	require.NoError(t, err)
	var st struct {
		Events int64 `json:"events"`
	}
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, int64(3), st.Events)

	// Stopped plugins do not observe traffic.
	_, err = h.serve(t, "GET", "/users/5", nil, nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartAll(ctx))
}

func TestMetricsCountsLifecycleEvents(t *testing.T) {
	h := newHarness(t, allBuiltins())
	_, err := h.serve(t, "POST", "/users/9", nil, nil)
	require.NoError(t, err)

	families, err := h.reg.Gather()
	require.NoError(t, err)
	var total float64
	var started float64
	for _, mf := range families {
		switch mf.GetName() {
		case "arbor_lifecycle_events_total":
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
		case "arbor_plugins_started":
			started = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(3), total)
	assert.Equal(t, float64(4), started)
}

func TestEchoActions(t *testing.T) {
	h := newHarness(t, allBuiltins())

	req, err := h.serve(t, "POST", "/admin/echo", url.Values{"x": {"1"}}, map[string]any{"hello": "world"})
	require.NoError(t, err)
	out := req.Result.(map[string]any)
	assert.Equal(t, []string{"admin", "echo"}, out["trail"])
	assert.Equal(t, map[string]any{"hello": "world"}, out["body"])

	req, err = h.serve(t, "GET", "/admin/clock", nil, nil)
	require.NoError(t, err)
	out = req.Result.(map[string]any)
	assert.Equal(t, "UTC", out["timezone"])
	assert.True(t, strings.HasSuffix(out["now"].(string), "Z"))
}

func TestStoreDisabledLeavesTargetUnpersisted(t *testing.T) {
	h := newHarness(t, map[string]map[string]any{"core/v1/echo": nil})
	req, err := h.serve(t, "GET", "/users/1", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, req.Target.Result)
}

func TestAuditRequiresStore(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, Register(reg))
	m := plugin.NewManager(reg, plugin.Host{Logger: log.Discard()}, map[string]map[string]any{"core/v1/audit": nil})
	_, err := m.Resolve()
	assert.ErrorIs(t, err, plugin.ErrDependencyNotFound)
}

func TestEchoRejectsBadTimezone(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, Register(reg))
	host := plugin.Host{Actions: compose.NewActions(), Logger: log.Discard()}
	m := plugin.NewManager(reg, host, map[string]map[string]any{"core/v1/echo": {"timezone": "Mars/Olympus"}})
	err := m.LoadAll(context.Background())
	assert.Equal(t, apperr.KindStartup, apperr.KindOf(err))
}

func TestResourcePathHelpers(t *testing.T) {
	assert.Equal(t, "users/orders", resourcePath("api/users/orders"))
	assert.Equal(t, "api", resourcePath("api"))

	tgt := &part.Target{ID: "7", Parent: &part.Target{ID: "42", Parent: &part.Target{ID: "1"}}}
	assert.Equal(t, "1/42", parentChain(tgt))
	assert.Equal(t, "", parentChain(&part.Target{ID: "1"}))
}
