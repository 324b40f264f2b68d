// Package events fans lifecycle notifications out to live observers
// (the SSE endpoint and the watch TUI).
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one published notification. Type is the canonical event name,
// e.g. "arbor/v1/api/users/on-read".
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type subscriber struct {
	ch     chan Event
	prefix string
}

// Hub is an in-memory pub/sub with a ring buffer for late clients.
type Hub struct {
	nextID    atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]*subscriber
	nextSubID int
}

// NewHub keeps the last capacity events for replay.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]*subscriber),
	}
}

// Publish records an event and offers it to every matching subscriber.
// Slow subscribers miss events rather than block the publisher.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.pushLocked(ev)
	h.published.Add(1)
	for _, s := range h.subs {
		if !matches(s.prefix, ev.Type) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	return ev
}

// Subscribe returns a channel of events whose type starts with prefix
// ("" for all) and a cancel func that closes it.
func (h *Hub) Subscribe(prefix string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	s := &subscriber{ch: make(chan Event, 128), prefix: prefix}
	h.subs[id] = s

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(s.ch)
			h.mu.Unlock()
		})
	}
	return s.ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID whose type starts
// with prefix, oldest first.
func (h *Hub) SnapshotSince(lastID int64, prefix string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID && matches(prefix, ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

// Stats reports publish counters and the live subscriber count.
type Stats struct {
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
	Buffered    int   `json:"buffered"`
	Subscribers int   `json:"subscribers"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Buffered:    h.size,
		Subscribers: len(h.subs),
	}
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

func matches(prefix, eventType string) bool {
	return prefix == "" || strings.HasPrefix(eventType, prefix)
}
