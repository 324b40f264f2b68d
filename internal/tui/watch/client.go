package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/arbor/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status         string       `json:"status"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	TreeReady      bool         `json:"tree_ready"`
	PluginsStarted int          `json:"plugins_started"`
	Events         events.Stats `json:"events"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents streams /events into ch, resuming after lastID. It
// returns sseDisconnectedMsg when the stream ends.
func subscribeToEvents(apiURL, apiKey, prefix string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		u := apiURL + "/events"
		if prefix != "" {
			u += "?prefix=" + prefix
		}
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, u, nil)
		if err != nil {
			return errMsg(err)
		}
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("events: %s", resp.Status))
		}

		readSSE(resp.Body, func(e events.Event) { ch <- e })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses a text/event-stream body, calling emit once per event
// that carries data. Comment lines are keep-alives.
func readSSE(r io.Reader, emit func(events.Event)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var cur events.Event
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				cur.Data = json.RawMessage(data.String())
				cur.At = time.Now()
				emit(cur)
			}
			cur = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data.WriteString(line[6:])
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries /healthz. A 503 still carries a body.
func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(fmt.Errorf("healthz: %w", err))
	}
	return h
}
