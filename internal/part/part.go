// Package part implements the routing tree: Namespaces group, Resources run
// CRUD lifecycles keyed by an identifier segment, Actions run a single
// externally supplied handler.
//
// The tree is an arena. Parts are addressed by ID and the parent relation is
// an index lookup, so the structure owns every node exactly once.
package part

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/mattjoyce/arbor/internal/emitter"
)

// ID indexes a Part inside its Tree.
type ID int

// NoParent is the parent of the root.
const NoParent ID = -1

// Kind distinguishes the three node types.
type Kind int

const (
	KindNamespace Kind = iota
	KindResource
	KindAction
)

func (k Kind) String() string {
	switch k {
	case KindNamespace:
		return "namespace"
	case KindResource:
		return "resource"
	case KindAction:
		return "action"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the names produced by String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "namespace", "":
		return KindNamespace, nil
	case "resource":
		return KindResource, nil
	case "action":
		return KindAction, nil
	default:
		return 0, fmt.Errorf("unknown node kind %q", s)
	}
}

// ActionFunc executes an Action node. The returned value becomes the
// request's result.
type ActionFunc func(ctx context.Context, req *Request) (any, error)

// Part is a node of the tree.
type Part struct {
	ID     ID
	Kind   Kind
	Name   string
	Parent ID

	// Events carries lifecycle listeners. Namespaces and Actions have one too
	// so plugins can attach uniformly; only Resources emit on it.
	Events *emitter.Emitter

	// Handler is the registered action name an Action was declared with.
	Handler string
	Action  ActionFunc

	children map[string]ID
	order    []string

	initialized atomic.Bool
}

// Initialized reports whether Initialize has reached this part.
func (p *Part) Initialized() bool {
	return p.initialized.Load()
}

// Matches compares a path segment to the part name case-insensitively.
func (p *Part) Matches(segment string) bool {
	return p.Name == segmentKey(segment)
}

// segmentKey folds a path segment for comparison with part names. Segments
// are not trimmed: " users" is a different segment from "users".
func segmentKey(segment string) string {
	return strings.ToLower(segment)
}

func normalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", fmt.Errorf("part name is required")
	}
	if strings.ContainsAny(n, "/?#") {
		return "", fmt.Errorf("part name %q contains a path separator", name)
	}
	return n, nil
}
