// Package cursor tokenizes a request path into segments and walks them with a
// single forward-only index.
package cursor

import (
	"errors"
	"strings"
)

// ErrPathExhausted is returned when the cursor is asked for a segment it does
// not have.
var ErrPathExhausted = errors.New("path exhausted")

// Cursor is request-scoped and not safe for concurrent use.
type Cursor struct {
	segments []string
	index    int
}

// Parse splits raw on "/" and drops empty segments. Anything after a "?" or
// "#" is ignored.
func Parse(raw string) *Cursor {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	parts := strings.Split(raw, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		segments = append(segments, p)
	}
	return &Cursor{segments: segments}
}

// New builds a cursor over already tokenized segments; empty ones are dropped.
func New(segments ...string) *Cursor {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	return &Cursor{segments: out}
}

// Current returns the segment at the index.
func (c *Cursor) Current() (string, error) {
	if c.index < 0 || c.index >= len(c.segments) {
		return "", ErrPathExhausted
	}
	return c.segments[c.index], nil
}

// Advance moves to the next segment and returns it. At the last segment it
// fails and leaves the index where it was.
func (c *Cursor) Advance() (string, error) {
	if c.index+1 >= len(c.segments) {
		return "", ErrPathExhausted
	}
	c.index++
	return c.segments[c.index], nil
}

// HasNext reports whether the index is still within bounds. It stays true at
// the final segment; the true end is only discovered by Advance failing.
func (c *Cursor) HasNext() bool {
	return c.index < len(c.segments)
}

// Peek returns the segment after the current one without consuming it.
func (c *Cursor) Peek() (string, bool) {
	if c.index+1 >= len(c.segments) {
		return "", false
	}
	return c.segments[c.index+1], true
}

// Reset rewinds to the first segment.
func (c *Cursor) Reset() {
	c.index = 0
}

func (c *Cursor) Len() int   { return len(c.segments) }
func (c *Cursor) Index() int { return c.index }

// Segments returns a copy of all segments.
func (c *Cursor) Segments() []string {
	out := make([]string, len(c.segments))
	copy(out, c.segments)
	return out
}

// Remaining returns the segments after the current one.
func (c *Cursor) Remaining() []string {
	if c.index+1 >= len(c.segments) {
		return nil
	}
	out := make([]string, len(c.segments)-c.index-1)
	copy(out, c.segments[c.index+1:])
	return out
}

func (c *Cursor) String() string {
	return "/" + strings.Join(c.segments, "/")
}
