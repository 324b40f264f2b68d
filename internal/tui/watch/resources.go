package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/arbor/internal/events"
	"github.com/mattjoyce/arbor/internal/lifecycle"
)

// ResourceState tracks one resource node seen in the event stream.
type ResourceState struct {
	Path string
	// Counts holds completed operations, keyed by operation.
	Counts map[lifecycle.Operation]int
	// Pending counts operations that fired before-* without after-*.
	Pending  int
	LastOp   lifecycle.Operation
	LastID   string
	LastSeen time.Time
}

// Total is the number of completed operations.
func (r *ResourceState) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

type auditPayload struct {
	Event  string `json:"event"`
	Path   string `json:"path"`
	Target *struct {
		ID string `json:"id"`
	} `json:"target"`
}

// updateResourceState folds a lifecycle event into resources. Events that
// are not lifecycle notifications are ignored.
func updateResourceState(resources map[string]*ResourceState, e events.Event, now time.Time) {
	var p auditPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.Path == "" {
		return
	}
	phase, op, ok := lifecycle.ParseEventName(p.Event)
	if !ok {
		return
	}

	r, ok := resources[p.Path]
	if !ok {
		r = &ResourceState{Path: p.Path, Counts: make(map[lifecycle.Operation]int)}
		resources[p.Path] = r
	}
	r.LastSeen = now

	switch phase {
	case lifecycle.PhaseBefore:
		r.Pending++
	case lifecycle.PhaseAfter:
		if r.Pending > 0 {
			r.Pending--
		}
		r.Counts[op]++
		r.LastOp = op
		if p.Target != nil {
			r.LastID = p.Target.ID
		}
	}
}

func sortedResources(resources map[string]*ResourceState) []*ResourceState {
	out := make([]*ResourceState, 0, len(resources))
	for _, r := range resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func renderResources(resources map[string]*ResourceState, selected int, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4
	title := theme.Title.Render("RESOURCES")

	if len(resources) == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  No resource traffic yet")),
		)
	}

	ops := lifecycle.Operations()
	cols := make([]string, 0, len(ops))
	for _, op := range ops {
		cols = append(cols, fmt.Sprintf("%7s", op))
	}
	lines := []string{theme.Header.Render(fmt.Sprintf("  %-28s%s  %s", "PATH", strings.Join(cols, ""), "LAST"))}

	for i, r := range sortedResources(resources) {
		counts := make([]string, 0, len(ops))
		for _, op := range ops {
			counts = append(counts, fmt.Sprintf("%7d", r.Counts[op]))
		}
		marker := "  "
		if i == selected {
			marker = theme.Highlight.Render("> ")
		}
		last := theme.Dim.Render("-")
		if r.LastOp != "" {
			last = fmt.Sprintf("%s %s", r.LastOp, r.LastID)
		}
		status := theme.StatusIdle
		switch {
		case r.Pending > 0:
			status = theme.StatusRunning
		case now.Sub(r.LastSeen) < 5*time.Second:
			status = theme.StatusOK
		}
		lines = append(lines, marker+status.Render(fmt.Sprintf("%-28s", truncate(r.Path, 28)))+strings.Join(counts, "")+"  "+last)
	}

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
