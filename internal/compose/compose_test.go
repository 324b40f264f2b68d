package compose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/config"
	"github.com/mattjoyce/arbor/internal/part"
)

func shopSpec() config.NodeSpec {
	return config.NodeSpec{
		Name: "api",
		Children: []config.NodeSpec{
			{Name: "users", Kind: "resource", Children: []config.NodeSpec{
				{Name: "orders", Kind: "resource"},
			}},
			{Name: "admin", Kind: "namespace", Children: []config.NodeSpec{
				{Name: "ping", Kind: "action", Action: "echo"},
				{Name: "time", Kind: "action"},
			}},
		},
	}
}

func pong(ctx context.Context, req *part.Request) (any, error) { return "pong", nil }

func TestBuild(t *testing.T) {
	actions := NewActions()
	require.NoError(t, actions.Register("echo", pong))

	tree, err := Build(shopSpec(), actions)
	require.NoError(t, err)

	orders, ok := tree.Lookup("users", "orders")
	require.True(t, ok)
	assert.Equal(t, part.KindResource, tree.MustGet(orders).Kind)

	ping, ok := tree.Lookup("admin", "ping")
	require.True(t, ok)
	assert.Equal(t, "echo", tree.MustGet(ping).Handler)
	assert.NotNil(t, tree.MustGet(ping).Action)

	tm, ok := tree.Lookup("admin", "time")
	require.True(t, ok)
	assert.Equal(t, "time", tree.MustGet(tm).Handler)
	assert.Nil(t, tree.MustGet(tm).Action)
}

func TestBindLateHandlers(t *testing.T) {
	actions := NewActions()
	tree, err := Build(shopSpec(), actions)
	require.NoError(t, err)

	unbound, err := Bind(tree, actions)
	require.NoError(t, err)
	assert.Equal(t, []string{"/admin/ping (echo)", "/admin/time (time)"}, unbound)

	require.NoError(t, actions.Register("echo", pong))
	unbound, err = Bind(tree, actions)
	require.NoError(t, err)
	assert.Equal(t, []string{"/admin/time (time)"}, unbound)

	require.NoError(t, tree.Initialize(context.Background()))

	req := part.NewRequest(context.Background(), "POST", "/admin/ping", nil)
	require.NoError(t, tree.Serve(req))
	assert.Equal(t, "pong", req.Result)

	err = tree.Serve(part.NewRequest(context.Background(), "POST", "/admin/time", nil))
	assert.Equal(t, apperr.KindNotImplemented, apperr.KindOf(err))
}

func TestBuildRejectsBadSpecs(t *testing.T) {
	_, err := Build(config.NodeSpec{Name: "api", Kind: "resource"}, nil)
	assert.Error(t, err)

	_, err = Build(config.NodeSpec{Name: "api", Children: []config.NodeSpec{{Name: "x", Kind: "widget"}}}, nil)
	assert.Error(t, err)

	_, err = Build(config.NodeSpec{Name: "api", Children: []config.NodeSpec{
		{Name: "run", Kind: "action", Children: []config.NodeSpec{{Name: "deeper"}}},
	}}, nil)
	assert.Error(t, err)
}

func TestActionsRegistry(t *testing.T) {
	a := NewActions()
	require.NoError(t, a.Register("Echo", pong))
	assert.Error(t, a.Register("echo", pong))
	assert.Error(t, a.Register("", pong))
	assert.Error(t, a.Register("nil", nil))

	_, ok := a.Get(" ECHO ")
	assert.True(t, ok)
	assert.Equal(t, []string{"echo"}, a.Names())
}
