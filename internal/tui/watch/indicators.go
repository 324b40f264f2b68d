package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames on each clock tick; a frozen ticker means the
// UI loop stalled.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"◐", "◓", "◑", "◒"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Activity lights up on events and fades one dot every two seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

const activityDots = 5

func (a *Activity) OnEvent(now time.Time) {
	a.dots = activityDots
	a.lastEvent = now
}

func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	faded := int(now.Sub(a.lastEvent) / (2 * time.Second))
	a.dots = max(activityDots-faded, 0)
}

func (a Activity) Dots() int { return a.dots }

func (a Activity) LastEvent() time.Time { return a.lastEvent }

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityDots {
		if i < a.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}
