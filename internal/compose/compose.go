// Package compose builds the routing tree from its declarative spec and a
// static table of named action handlers.
package compose

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mattjoyce/arbor/internal/config"
	"github.com/mattjoyce/arbor/internal/part"
)

// Actions maps handler names to action functions. It is populated at
// composition time, mostly by plugins during Load.
type Actions struct {
	mu       sync.RWMutex
	handlers map[string]part.ActionFunc
}

func NewActions() *Actions {
	return &Actions{handlers: make(map[string]part.ActionFunc)}
}

// Register adds a handler. Names are case-insensitive and may be
// registered once.
func (a *Actions) Register(name string, fn part.ActionFunc) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("action name is required")
	}
	if fn == nil {
		return fmt.Errorf("action %q: nil handler", name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.handlers[key]; exists {
		return fmt.Errorf("action %q already registered", key)
	}
	a.handlers[key] = fn
	return nil
}

// Get returns the handler registered under name.
func (a *Actions) Get(name string) (part.ActionFunc, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn, ok := a.handlers[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}

// Names returns the registered handler names, sorted.
func (a *Actions) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.handlers))
	for n := range a.handlers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Build constructs a tree from spec. Action nodes are bound to the handler
// named by their action field, or by their own name when that is empty.
// Handlers missing from actions leave the node unbound; Bind can fill them
// in later and an unbound action answers NotImplemented.
func Build(spec config.NodeSpec, actions *Actions, opts ...part.Option) (*part.Tree, error) {
	kind, err := part.ParseKind(spec.Kind)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	if kind != part.KindNamespace {
		return nil, fmt.Errorf("root %q must be a namespace", spec.Name)
	}

	tree, err := part.New(spec.Name, opts...)
	if err != nil {
		return nil, err
	}
	for _, child := range spec.Children {
		if err := addNode(tree, tree.Root(), child, actions); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func addNode(tree *part.Tree, parent part.ID, spec config.NodeSpec, actions *Actions) error {
	kind, err := part.ParseKind(spec.Kind)
	if err != nil {
		return fmt.Errorf("%s: %w", spec.Name, err)
	}

	var id part.ID
	switch kind {
	case part.KindNamespace:
		id, err = tree.AddNamespace(parent, spec.Name)
	case part.KindResource:
		id, err = tree.AddResource(parent, spec.Name)
	case part.KindAction:
		id, err = tree.AddAction(parent, spec.Name, nil)
		if err == nil {
			handler := handlerName(spec)
			var fn part.ActionFunc
			if actions != nil {
				fn, _ = actions.Get(handler)
			}
			err = tree.SetAction(id, handler, fn)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", spec.Name, err)
	}

	for _, child := range spec.Children {
		if err := addNode(tree, id, child, actions); err != nil {
			return err
		}
	}
	return nil
}

func handlerName(spec config.NodeSpec) string {
	if h := strings.TrimSpace(spec.Action); h != "" {
		return strings.ToLower(h)
	}
	return strings.ToLower(strings.TrimSpace(spec.Name))
}

// Bind attaches handlers registered since Build to unbound action nodes. It
// returns the paths of actions that are still unbound.
func Bind(tree *part.Tree, actions *Actions) ([]string, error) {
	var unbound []string
	for _, p := range tree.Actions() {
		if p.Action != nil {
			continue
		}
		fn, ok := actions.Get(p.Handler)
		if !ok {
			unbound = append(unbound, "/"+strings.Join(tree.Path(p.ID)[1:], "/")+" ("+p.Handler+")")
			continue
		}
		if err := tree.SetAction(p.ID, p.Handler, fn); err != nil {
			return nil, fmt.Errorf("bind %s: %w", p.Name, err)
		}
	}
	return unbound, nil
}
