package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status         string
	UptimeSeconds  int64
	TreeReady      bool
	PluginsStarted int
	Published      int64
	Dropped        int64
	Subscribers    int
	Connected      bool
	LastCheck      time.Time
}

func renderHeader(health HealthState, ticker Ticker, activity Activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case !health.TreeReady:
		statusText = theme.StatusRunning.Render("STARTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEventStr := "never"
	if !activity.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", now.Sub(activity.LastEvent()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" ARBOR WATCH %s", theme.Highlight.Render(ticker.Current()))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  plugins: %d  published: %d  dropped: %d  watchers: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.PluginsStarted,
		health.Published,
		health.Dropped,
		health.Subscribers,
	)
	activityLine := fmt.Sprintf(" last event: %s %s", lastEventStr, activity.Render(theme))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
