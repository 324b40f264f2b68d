// Package emitter is an insertion-ordered, sequential event emitter with
// cooperative cancellation.
//
// Emit makes one pass over a snapshot of the registry. Matching handlers run
// one at a time in registration order; after each one the event's cancel
// flag is checked and, once set, the pass stops and Emit fails with an error
// derived from the recorded cause. Once-listeners that fired are dropped from
// the registry after the pass.
//
// The registry is copy-on-write: readers take the current slice under the
// lock and never see it mutate. Removal of fired once-listeners filters the
// registry current at removal time by identity, so listeners registered
// while a pass was running are kept. A once-listener is claimed before it
// runs, so two racing emissions cannot both fire it.
package emitter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/arbor/internal/apperr"
)

// Handler observes or mutates an event. Returning an error cancels the
// emission with that error as the cause.
type Handler func(ctx context.Context, ev *Event) error

// ListenerID identifies a registered entry for Off.
type ListenerID uint64

type entry struct {
	id      ListenerID
	matcher Matcher
	handler Handler
	once    bool
	fired   atomic.Bool
}

// Emitter holds the listener registry.
type Emitter struct {
	mu      sync.Mutex
	entries []*entry
	nextID  ListenerID
}

func New() *Emitter {
	return &Emitter{}
}

// On appends a listener to the registry.
func (e *Emitter) On(m Matcher, h Handler) ListenerID {
	return e.add(m, h, false)
}

// Once appends a listener that is dropped after its first matching emission.
func (e *Emitter) Once(m Matcher, h Handler) ListenerID {
	return e.add(m, h, true)
}

func (e *Emitter) add(m Matcher, h Handler, once bool) ListenerID {
	if m == nil || h == nil {
		panic("emitter: nil matcher or handler")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	en := &entry{id: e.nextID, matcher: m, handler: h, once: once}

	next := make([]*entry, len(e.entries), len(e.entries)+1)
	copy(next, e.entries)
	e.entries = append(next, en)
	return en.id
}

// Off removes a listener. It reports whether the id was registered.
func (e *Emitter) Off(id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, en := range e.entries {
		if en.id != id {
			continue
		}
		next := make([]*entry, 0, len(e.entries)-1)
		next = append(next, e.entries[:i]...)
		next = append(next, e.entries[i+1:]...)
		e.entries = next
		return true
	}
	return false
}

// Len returns the number of registered listeners.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Matches returns how many registered listeners would match name.
func (e *Emitter) Matches(name string) int {
	n := 0
	for _, en := range e.snapshot() {
		if en.matcher.Match(name) {
			n++
		}
	}
	return n
}

// Emit runs the matching listeners for ev. It returns nil when no listener
// cancelled the event.
func (e *Emitter) Emit(ctx context.Context, ev *Event) error {
	entries := e.snapshot()
	if len(entries) == 0 {
		return nil
	}

	var fired []*entry
	var err error
	for _, en := range entries {
		if !en.matcher.Match(ev.Name) {
			continue
		}
		if en.once {
			if !en.fired.CompareAndSwap(false, true) {
				continue
			}
			fired = append(fired, en)
		}

		if herr := en.handler(ctx, ev); herr != nil && !ev.Cancelled() {
			ev.Cancel(herr)
		}
		if ev.Cancelled() {
			err = cancellationError(ev)
			break
		}
	}

	if len(fired) > 0 {
		e.remove(fired)
	}
	return err
}

func (e *Emitter) snapshot() []*entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entries
}

func (e *Emitter) remove(fired []*entry) {
	drop := make(map[ListenerID]struct{}, len(fired))
	for _, en := range fired {
		drop[en.id] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		if _, ok := drop[en.id]; ok {
			continue
		}
		next = append(next, en)
	}
	e.entries = next
}

func cancellationError(ev *Event) error {
	if cause := apperr.Normalize(ev.Cause()); cause != nil {
		return cause
	}
	return apperr.Internal("event %q cancelled", ev.Name)
}
