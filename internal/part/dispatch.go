package part

import (
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/emitter"
	"github.com/mattjoyce/arbor/internal/lifecycle"
)

// Serve routes req from the root. The root is the mount point: the first
// path segment is looked up among its children.
func (t *Tree) Serve(req *Request) error {
	if !t.initialized.Load() {
		return apperr.Internal("tree %q is not initialized", t.parts[0].Name)
	}
	first, err := req.Cursor.Current()
	if err != nil {
		return apperr.NotFound("empty path")
	}
	child, ok := t.Child(t.Root(), first)
	if !ok {
		return apperr.NotFound("no route for %q", first)
	}
	return t.Dispatch(child, req)
}

// Dispatch matches the current segment against part id, runs the part's own
// operation and then either recurses into the child named by the next
// segment or runs the terminal handler. Errors are final; there is no
// backtracking.
func (t *Tree) Dispatch(id ID, req *Request) error {
	p, err := t.Get(id)
	if err != nil {
		return apperr.Internal("dispatch: %v", err)
	}
	seg, err := req.Cursor.Current()
	if err != nil || !p.Matches(seg) {
		return apperr.NotFound("segment %q does not match %q", seg, p.Name)
	}
	req.Trail = append(req.Trail, p.Name)
	req.logger().Debug("dispatch", "part", p.Name, "kind", p.Kind.String(), "index", req.Cursor.Index())

	if err := t.performOperation(p, req); err != nil {
		return err
	}

	if _, more := req.Cursor.Peek(); more {
		next, err := req.Cursor.Advance()
		if err != nil {
			return apperr.NotFound("path exhausted at %q", p.Name)
		}
		child, ok := t.Child(id, next)
		if !ok {
			return apperr.NotFound("%q has no child %q", p.Name, next)
		}
		return t.Dispatch(child, req)
	}
	return t.onTerminal(p, req)
}

func (t *Tree) performOperation(p *Part, req *Request) error {
	if p.Kind != KindResource {
		return nil
	}

	id, ok := req.Cursor.Peek()
	if !ok {
		return apperr.BadRequest("Resource ID is required")
	}
	if _, err := req.Cursor.Advance(); err != nil {
		return apperr.BadRequest("Resource ID is required")
	}
	req.Target = &Target{
		ID:       id,
		Resource: p.Name,
		Parent:   req.Target,
	}

	// Segments after the identifier address a sub-resource, so this one is
	// only resolved.
	if _, more := req.Cursor.Peek(); more {
		req.Target.Operation = lifecycle.OpRead
		return t.emitPhases(p, req, lifecycle.OpRead)
	}
	return nil
}

func (t *Tree) onTerminal(p *Part, req *Request) error {
	switch p.Kind {
	case KindNamespace:
		return apperr.NotFound("%q is a namespace", p.Name)
	case KindAction:
		if p.Action == nil {
			return apperr.NotImplemented("action %q has no handler", p.Name)
		}
		res, err := p.Action(req.ctx(), req)
		if err != nil {
			return apperr.Normalize(err)
		}
		req.Result = res
		return nil
	case KindResource:
		op, err := lifecycle.OperationFor(req.Method, len(req.Query) > 0, false)
		if err != nil {
			return err
		}
		req.Target.Operation = op
		req.Target.Query = req.Query
		if op == lifecycle.OpCreate || op == lifecycle.OpUpdate {
			req.Target.Data = req.Body
		}
		return t.emitPhases(p, req, op)
	default:
		return apperr.Internal("unknown part kind %s", p.Kind)
	}
}

// emitPhases fires before, on and after for op. The first failure aborts the
// remaining phases.
func (t *Tree) emitPhases(p *Part, req *Request, op lifecycle.Operation) error {
	path := strings.Join(t.Path(p.ID), "/")
	for _, phase := range lifecycle.Phases() {
		ev := emitter.NewEvent(lifecycle.EventName(phase, op), req.Target)
		ev.ID = uuid.NewString()
		ev.Path = path
		if err := p.Events.Emit(req.ctx(), ev); err != nil {
			req.logger().Debug("lifecycle aborted", "part", p.Name, "event", ev.Name, "error", err)
			req.Aborted = ev.Name
			return err
		}
	}
	return nil
}
