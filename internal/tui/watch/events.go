package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/arbor/internal/events"
	"github.com/mattjoyce/arbor/internal/lifecycle"
)

const eventLogSize = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4
	title := theme.Title.Render("EVENT STREAM")

	if len(eventLog) == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  Waiting for events...")),
		)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}
	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	name := e.Type
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	style := theme.Dim
	if phase, op, ok := lifecycle.ParseEventName(name); ok {
		switch {
		case phase == lifecycle.PhaseBefore:
			style = theme.StatusRunning
		case phase == lifecycle.PhaseAfter && op.Mutating():
			style = theme.Highlight
		case phase == lifecycle.PhaseAfter:
			style = theme.StatusOK
		}
	}

	return fmt.Sprintf("%s %5d %s %s", ts, e.ID, style.Render(fmt.Sprintf("%-14s", name)), describeEvent(e))
}

func describeEvent(e events.Event) string {
	var p auditPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.Path == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	if p.Target != nil && p.Target.ID != "" {
		return p.Path + "/" + p.Target.ID
	}
	return p.Path
}
