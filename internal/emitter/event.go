package emitter

import (
	"sync"
	"time"
)

// Event is one emission. Name is what matchers test; Path locates the node
// that emitted it. Payload is the operation target and may be mutated by
// listeners.
type Event struct {
	ID      string
	Name    string
	Path    string
	Payload any
	At      time.Time

	mu        sync.Mutex
	cancelled bool
	cause     any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(name string, payload any) *Event {
	return &Event{
		Name:    name,
		Payload: payload,
		At:      time.Now().UTC(),
	}
}

// Cancel stops the current emission after the running handler returns.
// The first recorded cause wins.
func (e *Event) Cancel(cause any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return
	}
	e.cancelled = true
	e.cause = cause
}

func (e *Event) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *Event) Cause() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cause
}
