package part

import (
	"context"
	"errors"
	"testing"

	"github.com/mattjoyce/arbor/internal/emitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTreeRejectsEmptyRoot(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}

func TestAddAndNavigate(t *testing.T) {
	tr, err := New("API")
	require.NoError(t, err)
	assert.Equal(t, "api", tr.MustGet(tr.Root()).Name)

	users, err := tr.AddResource(tr.Root(), " Users ")
	require.NoError(t, err)
	orders, err := tr.AddResource(users, "orders")
	require.NoError(t, err)
	admin, err := tr.AddNamespace(tr.Root(), "admin")
	require.NoError(t, err)
	ping, err := tr.AddAction(admin, "ping", nil)
	require.NoError(t, err)

	got, ok := tr.Lookup("USERS", "Orders")
	require.True(t, ok)
	assert.Equal(t, orders, got)

	_, ok = tr.Lookup("users", "missing")
	assert.False(t, ok)
	_, ok = tr.Lookup(" users")
	assert.False(t, ok, "segments are not trimmed")
	assert.True(t, tr.MustGet(users).Matches("USERS"))
	assert.False(t, tr.MustGet(users).Matches(" users"))

	assert.Equal(t, []ID{users, admin}, tr.Children(tr.Root()))
	assert.Equal(t, []string{"api", "users", "orders"}, tr.Path(orders))

	parent, ok := tr.Parent(orders)
	require.True(t, ok)
	assert.Equal(t, users, parent)
	_, ok = tr.Parent(tr.Root())
	assert.False(t, ok)

	assert.Equal(t, KindAction, tr.MustGet(ping).Kind)
	assert.Len(t, tr.Resources(), 2)
	assert.Len(t, tr.Actions(), 1)
}

func TestAddValidation(t *testing.T) {
	tr, err := New("api")
	require.NoError(t, err)

	act, err := tr.AddAction(tr.Root(), "run", nil)
	require.NoError(t, err)

	_, err = tr.AddNamespace(act, "nested")
	assert.Error(t, err, "actions are leaves")

	_, err = tr.AddResource(tr.Root(), "a/b")
	assert.Error(t, err)

	_, err = tr.AddResource(tr.Root(), "")
	assert.Error(t, err)

	_, err = tr.AddResource(ID(99), "x")
	assert.True(t, errors.Is(err, ErrUnknownPart))
}

func TestLastRegistrationWins(t *testing.T) {
	tr, err := New("api")
	require.NoError(t, err)

	_, err = tr.AddNamespace(tr.Root(), "users")
	require.NoError(t, err)
	second, err := tr.AddResource(tr.Root(), "Users")
	require.NoError(t, err)

	got, ok := tr.Child(tr.Root(), "users")
	require.True(t, ok)
	assert.Equal(t, second, got)
	assert.Len(t, tr.Children(tr.Root()), 1)
}

func TestWalkOrder(t *testing.T) {
	tr, err := New("root")
	require.NoError(t, err)
	a, _ := tr.AddNamespace(tr.Root(), "a")
	_, _ = tr.AddResource(a, "a1")
	_, _ = tr.AddResource(a, "a2")
	_, _ = tr.AddAction(tr.Root(), "b", nil)

	var names []string
	require.NoError(t, tr.Walk(func(p *Part) error {
		names = append(names, p.Name)
		return nil
	}))
	assert.Equal(t, []string{"root", "a", "a1", "a2", "b"}, names)
}

func TestInitializeFreezesAndFinalizeReverses(t *testing.T) {
	tr, err := New("api")
	require.NoError(t, err)
	users, _ := tr.AddResource(tr.Root(), "users")

	require.NoError(t, tr.Initialize(context.Background()))
	assert.True(t, tr.Initialized())
	assert.True(t, tr.MustGet(users).Initialized())

	_, err = tr.AddResource(tr.Root(), "late")
	assert.ErrorIs(t, err, ErrFrozen)
	assert.ErrorIs(t, tr.SetAction(users, "x", nil), ErrFrozen)

	require.NoError(t, tr.Finalize(context.Background()))
	assert.False(t, tr.Initialized())
	assert.False(t, tr.MustGet(users).Initialized())
}

func TestInitializeHonoursContext(t *testing.T) {
	tr, err := New("api")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, tr.Initialize(ctx))
	assert.False(t, tr.Initialized())
}

func TestSetActionRequiresAction(t *testing.T) {
	tr, err := New("api")
	require.NoError(t, err)
	users, _ := tr.AddResource(tr.Root(), "users")
	assert.Error(t, tr.SetAction(users, "echo", nil))
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"namespace": KindNamespace, "Resource": KindResource, "action": KindAction, "": KindNamespace} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("widget")
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	tr, err := New("api")
	require.NoError(t, err)
	users, err := tr.AddResource(tr.Root(), "users")
	require.NoError(t, err)
	_, err = tr.AddResource(users, "orders")
	require.NoError(t, err)
	ping, err := tr.AddAction(tr.Root(), "ping", nil)
	require.NoError(t, err)
	_, err = tr.AddAction(tr.Root(), "reboot", nil)
	require.NoError(t, err)

	require.NoError(t, tr.SetAction(ping, "echo", func(context.Context, *Request) (any, error) { return nil, nil }))
	tr.MustGet(users).Events.On(emitter.Exact("on-read"), func(context.Context, *emitter.Event) error { return nil })

	d := tr.Describe()
	assert.Equal(t, "api", d.Name)
	assert.Equal(t, "namespace", d.Kind)
	require.Len(t, d.Children, 3)

	assert.Equal(t, "users", d.Children[0].Name)
	assert.Equal(t, 1, d.Children[0].Listeners)
	require.Len(t, d.Children[0].Children, 1)
	assert.Equal(t, "orders", d.Children[0].Children[0].Name)

	assert.Equal(t, &Node{Name: "ping", Kind: "action", Handler: "echo", Bound: true}, d.Children[1])
	assert.False(t, d.Children[2].Bound)
}
