package watch

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/arbor/internal/events"
	"github.com/mattjoyce/arbor/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditEvent(t *testing.T, id int64, name, path, target string) events.Event {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"event_id": "x",
		"event":    name,
		"path":     path,
		"target":   map[string]any{"id": target},
	})
	require.NoError(t, err)
	return events.Event{ID: id, Type: "arbor/v1/" + path + "/" + name, Data: data}
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: arbor/v1/api/users/on-read",
		`data: {"path":"api/users"}`,
		"",
		"id: 8",
		"event: empty",
		"",
		"id: 9",
		`data: {}`,
		"",
	}, "\n") + "\n"

	var got []events.Event
	readSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) })

	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "arbor/v1/api/users/on-read", got[0].Type)
	assert.JSONEq(t, `{"path":"api/users"}`, string(got[0].Data))
	assert.Equal(t, int64(9), got[1].ID)
	assert.Empty(t, got[1].Type)
}

func TestReadSSEDropsUnterminatedEvent(t *testing.T) {
	stream := "id: 1\ndata: {}\n\nid: 2\ndata: {\"partial\":true}\n"

	var got []events.Event
	readSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) })

	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}

func TestUpdateResourceState(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	resources := make(map[string]*ResourceState)

	updateResourceState(resources, auditEvent(t, 1, "before-create", "api/users", "1"), now)
	r := resources["api/users"]
	require.NotNil(t, r)
	assert.Equal(t, 1, r.Pending)
	assert.Equal(t, 0, r.Total())

	updateResourceState(resources, auditEvent(t, 2, "on-create", "api/users", "1"), now)
	updateResourceState(resources, auditEvent(t, 3, "after-create", "api/users", "1"), now)
	updateResourceState(resources, auditEvent(t, 4, "after-read", "api/users", "2"), now)

	assert.Equal(t, 0, r.Pending)
	assert.Equal(t, 1, r.Counts[lifecycle.OpCreate])
	assert.Equal(t, 1, r.Counts[lifecycle.OpRead])
	assert.Equal(t, 2, r.Total())
	assert.Equal(t, lifecycle.OpRead, r.LastOp)
	assert.Equal(t, "2", r.LastID)

	updateResourceState(resources, events.Event{ID: 5, Type: "other", Data: []byte(`{"path":"x","event":"boot"}`)}, now)
	updateResourceState(resources, events.Event{ID: 6, Type: "other", Data: []byte(`not json`)}, now)
	assert.Len(t, resources, 1)
}

func TestActivityDecay(t *testing.T) {
	start := time.Now()
	var a Activity
	a.OnEvent(start)
	assert.Equal(t, 5, a.Dots())

	a.Decay(start.Add(3 * time.Second))
	assert.Equal(t, 4, a.Dots())

	a.Decay(start.Add(time.Minute))
	assert.Equal(t, 0, a.Dots())
}

func TestModelUpdate(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := New(Options{APIURL: "http://127.0.0.1:0"})
	m.now = func() time.Time { return fixed }

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model := next.(Model)

	next, cmd := model.Update(eventMsg(auditEvent(t, 11, "after-update", "api/users", "1")))
	model = next.(Model)
	assert.NotNil(t, cmd)
	assert.Equal(t, int64(11), model.lastID)
	assert.Len(t, model.eventLog, 1)
	assert.True(t, model.health.Connected)

	next, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	model = next.(Model)
	assert.True(t, model.paused)

	next, _ = model.Update(eventMsg(auditEvent(t, 12, "after-read", "api/users", "1")))
	model = next.(Model)
	assert.Len(t, model.eventLog, 1, "paused stream keeps its log")
	assert.Equal(t, 2, model.resources["api/users"].Total())

	next, _ = model.Update(healthMsg{Status: "ok", TreeReady: true, PluginsStarted: 3, Events: events.Stats{Published: 12}})
	model = next.(Model)
	assert.Equal(t, 3, model.health.PluginsStarted)
	assert.Equal(t, int64(12), model.health.Published)

	next, _ = model.Update(sseDisconnectedMsg{})
	model = next.(Model)
	assert.False(t, model.health.Connected)
	assert.Contains(t, model.lastError, "disconnected")

	view := model.View()
	assert.Contains(t, view, "ARBOR WATCH")
	assert.Contains(t, view, "api/users")
	assert.Contains(t, view, "PAUSED")
}

func TestViewBeforeResize(t *testing.T) {
	m := New(Options{})
	assert.Equal(t, "Connecting to arbor...", m.View())
}

func TestQuitKey(t *testing.T) {
	m := New(Options{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}
