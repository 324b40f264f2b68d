package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/arbor/internal/events"
)

// Options configures the watch TUI.
type Options struct {
	APIURL string
	APIKey string
	// Prefix filters the event stream by canonical name prefix.
	Prefix string
}

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	opts Options

	width  int
	height int

	health    HealthState
	resources map[string]*ResourceState
	eventLog  []events.Event
	lastID    int64

	ticker   Ticker
	activity Activity

	theme    Theme
	keys     keyMap
	help     help.Model
	selected int
	paused   bool

	hubEvents chan events.Event
	now       func() time.Time

	lastError string
}

// New creates a watch TUI model.
func New(opts Options) *Model {
	return &Model{
		opts:      opts,
		resources: make(map[string]*ResourceState),
		hubEvents: make(chan events.Event, 128),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		keys:      defaultKeys(),
		help:      help.New(),
		now:       time.Now,
	}
}

// Run starts the TUI and blocks until the user quits.
func Run(opts Options) error {
	_, err := tea.NewProgram(New(opts), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.opts.APIURL, m.opts.APIKey, m.opts.Prefix, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.opts.APIURL) },
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) healthLater() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.opts.APIURL) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.resources)-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Clear):
			m.eventLog = nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		m.ticker.Tick()
		m.activity.Decay(time.Time(msg))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		now := m.now()
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.activity.OnEvent(now)
		updateResourceState(m.resources, e, now)
		if !m.paused {
			m.eventLog = append([]events.Event{e}, m.eventLog...)
			if len(m.eventLog) > eventLogSize {
				m.eventLog = m.eventLog[:eventLogSize]
			}
		}
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.TreeReady = msg.TreeReady
		m.health.PluginsStarted = msg.PluginsStarted
		m.health.Published = msg.Events.Published
		m.health.Dropped = msg.Events.Dropped
		m.health.Subscribers = msg.Events.Subscribers
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, m.healthLater()

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// The pending receiveNextEvent keeps reading the same channel.
		return m, subscribeToEvents(m.opts.APIURL, m.opts.APIKey, m.opts.Prefix, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, m.healthLater()
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to arbor..."
	}
	now := m.now()

	rows := 10
	if m.height > 0 {
		rows = max(m.height-12-len(m.resources), 3)
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.activity, m.theme, m.width, now),
		renderResources(m.resources, m.selected, m.theme, m.width, now),
		renderEventStream(m.eventLog, m.theme, m.width, rows),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	footer := " " + m.help.View(m.keys)
	if m.paused {
		footer += "  " + m.theme.Highlight.Render("PAUSED")
	}
	parts = append(parts, footer)

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
