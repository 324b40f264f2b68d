package part

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mattjoyce/arbor/internal/emitter"
	"github.com/mattjoyce/arbor/internal/log"
)

var (
	// ErrFrozen is returned when the structure is changed after Initialize.
	ErrFrozen = errors.New("tree is initialized; structure is read-only")
	// ErrUnknownPart is returned for IDs outside the arena.
	ErrUnknownPart = errors.New("unknown part")
)

// Tree owns every Part. Structure is built once, then frozen by Initialize;
// traversal takes no locks.
type Tree struct {
	parts       []*Part
	logger      *slog.Logger
	initialized atomic.Bool
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) { t.logger = log.WithComponent(l, "tree") }
}

// New returns a tree whose root is a Namespace named rootName.
func New(rootName string, opts ...Option) (*Tree, error) {
	name, err := normalizeName(rootName)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	t := &Tree{logger: log.Discard()}
	for _, opt := range opts {
		opt(t)
	}
	t.parts = append(t.parts, newPart(0, KindNamespace, name, NoParent))
	return t, nil
}

func newPart(id ID, kind Kind, name string, parent ID) *Part {
	return &Part{
		ID:       id,
		Kind:     kind,
		Name:     name,
		Parent:   parent,
		Events:   emitter.New(),
		children: make(map[string]ID),
	}
}

// Root returns the root ID.
func (t *Tree) Root() ID { return 0 }

// Len returns the number of parts.
func (t *Tree) Len() int { return len(t.parts) }

// AddNamespace adds a grouping node under parent.
func (t *Tree) AddNamespace(parent ID, name string) (ID, error) {
	return t.add(parent, KindNamespace, name, nil)
}

// AddResource adds a CRUD node under parent.
func (t *Tree) AddResource(parent ID, name string) (ID, error) {
	return t.add(parent, KindResource, name, nil)
}

// AddAction adds a leaf node under parent. fn may be nil and bound later
// with SetAction.
func (t *Tree) AddAction(parent ID, name string, fn ActionFunc) (ID, error) {
	return t.add(parent, KindAction, name, fn)
}

func (t *Tree) add(parent ID, kind Kind, name string, fn ActionFunc) (ID, error) {
	if t.initialized.Load() {
		return 0, ErrFrozen
	}
	p, err := t.Get(parent)
	if err != nil {
		return 0, err
	}
	if p.Kind == KindAction {
		return 0, fmt.Errorf("cannot add %q under action %q", name, p.Name)
	}
	n, err := normalizeName(name)
	if err != nil {
		return 0, err
	}

	id := ID(len(t.parts))
	child := newPart(id, kind, n, parent)
	child.Action = fn
	t.parts = append(t.parts, child)

	// Last registration under a name wins; the earlier part stays in the
	// arena but is no longer reachable.
	if _, exists := p.children[n]; !exists {
		p.order = append(p.order, n)
	}
	p.children[n] = id
	return id, nil
}

// SetAction binds fn to an Action part.
func (t *Tree) SetAction(id ID, handler string, fn ActionFunc) error {
	if t.initialized.Load() {
		return ErrFrozen
	}
	p, err := t.Get(id)
	if err != nil {
		return err
	}
	if p.Kind != KindAction {
		return fmt.Errorf("part %q is a %s, not an action", p.Name, p.Kind)
	}
	p.Handler = handler
	p.Action = fn
	return nil
}

// Get returns the part for id.
func (t *Tree) Get(id ID) (*Part, error) {
	if id < 0 || int(id) >= len(t.parts) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPart, id)
	}
	return t.parts[id], nil
}

// MustGet is Get for IDs the caller obtained from this tree.
func (t *Tree) MustGet(id ID) *Part {
	p, err := t.Get(id)
	if err != nil {
		panic(err)
	}
	return p
}

// Child looks up a child by segment, case-insensitively.
func (t *Tree) Child(id ID, segment string) (ID, bool) {
	p, err := t.Get(id)
	if err != nil {
		return 0, false
	}
	c, ok := p.children[segmentKey(segment)]
	return c, ok
}

// Children returns the reachable children of id in registration order.
func (t *Tree) Children(id ID) []ID {
	p, err := t.Get(id)
	if err != nil {
		return nil
	}
	out := make([]ID, 0, len(p.order))
	for _, n := range p.order {
		out = append(out, p.children[n])
	}
	return out
}

// Parent returns the parent of id; false for the root.
func (t *Tree) Parent(id ID) (ID, bool) {
	p, err := t.Get(id)
	if err != nil || p.Parent == NoParent {
		return NoParent, false
	}
	return p.Parent, true
}

// Lookup resolves a chain of names below the root.
func (t *Tree) Lookup(path ...string) (ID, bool) {
	id := t.Root()
	for _, seg := range path {
		next, ok := t.Child(id, seg)
		if !ok {
			return 0, false
		}
		id = next
	}
	return id, true
}

// Path returns the names from the root down to id, root included.
func (t *Tree) Path(id ID) []string {
	var rev []string
	for cur := id; cur != NoParent; {
		p, err := t.Get(cur)
		if err != nil {
			return nil
		}
		rev = append(rev, p.Name)
		cur = p.Parent
	}
	out := make([]string, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}

// Walk visits every reachable part depth-first, pre-order, stopping at the
// first error.
func (t *Tree) Walk(fn func(*Part) error) error {
	return t.walk(t.Root(), fn)
}

func (t *Tree) walk(id ID, fn func(*Part) error) error {
	if err := fn(t.parts[id]); err != nil {
		return err
	}
	for _, c := range t.Children(id) {
		if err := t.walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Initialize marks every part initialized, depth-first, and freezes the
// structure. It must complete before Serve accepts requests.
func (t *Tree) Initialize(ctx context.Context) error {
	if t.initialized.Load() {
		return nil
	}
	count := 0
	err := t.Walk(func(p *Part) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.initialized.Store(true)
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("initialize tree: %w", err)
	}
	t.initialized.Store(true)
	t.logger.Info("tree initialized", "root", t.parts[0].Name, "parts", count)
	return nil
}

// Finalize reverses Initialize, children before parents.
func (t *Tree) Finalize(ctx context.Context) error {
	if !t.initialized.Load() {
		return nil
	}
	t.initialized.Store(false)
	t.finalize(t.Root())
	t.logger.Info("tree finalized", "root", t.parts[0].Name)
	return nil
}

func (t *Tree) finalize(id ID) {
	for _, c := range t.Children(id) {
		t.finalize(c)
	}
	t.parts[id].initialized.Store(false)
}

// Initialized reports whether the tree is serving.
func (t *Tree) Initialized() bool {
	return t.initialized.Load()
}

// Resources returns every reachable Resource part.
func (t *Tree) Resources() []*Part {
	var out []*Part
	_ = t.Walk(func(p *Part) error {
		if p.Kind == KindResource {
			out = append(out, p)
		}
		return nil
	})
	return out
}

// Actions returns every reachable Action part.
func (t *Tree) Actions() []*Part {
	var out []*Part
	_ = t.Walk(func(p *Part) error {
		if p.Kind == KindAction {
			out = append(out, p)
		}
		return nil
	})
	return out
}

// Node is a read-only description of a part and its subtree.
type Node struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Handler   string  `json:"handler,omitempty"`
	Bound     bool    `json:"bound,omitempty"`
	Listeners int     `json:"listeners,omitempty"`
	Children  []*Node `json:"children,omitempty"`
}

// Describe returns the tree as nested nodes in registration order.
func (t *Tree) Describe() *Node {
	return t.describe(t.Root())
}

func (t *Tree) describe(id ID) *Node {
	p := t.parts[id]
	n := &Node{
		Name:      p.Name,
		Kind:      p.Kind.String(),
		Handler:   p.Handler,
		Bound:     p.Kind == KindAction && p.Action != nil,
		Listeners: p.Events.Len(),
	}
	for _, c := range t.Children(id) {
		n.Children = append(n.Children, t.describe(c))
	}
	return n
}
