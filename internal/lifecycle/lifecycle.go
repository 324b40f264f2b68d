// Package lifecycle names the operation×phase events a Resource emits and
// maps inbound verbs to operations.
package lifecycle

import (
	"net/http"
	"strings"

	"github.com/mattjoyce/arbor/internal/apperr"
)

// Operation is a CRUD-style operation on a resource target.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpFind   Operation = "find"
)

// Phase orders the notifications fired around an operation.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseOn     Phase = "on"
	PhaseAfter  Phase = "after"
)

var (
	operations = []Operation{OpCreate, OpRead, OpUpdate, OpDelete, OpFind}
	phases     = []Phase{PhaseBefore, PhaseOn, PhaseAfter}
)

// Operations returns every operation in catalogue order.
func Operations() []Operation {
	return append([]Operation(nil), operations...)
}

// Phases returns the phases in firing order: before, on, after.
func Phases() []Phase {
	return append([]Phase(nil), phases...)
}

// Valid reports whether op is part of the catalogue.
func (op Operation) Valid() bool {
	for _, o := range operations {
		if o == op {
			return true
		}
	}
	return false
}

// Mutating reports whether op changes the target.
func (op Operation) Mutating() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// EventName returns the event name for a phase of an operation, e.g. "before-read".
func EventName(phase Phase, op Operation) string {
	return string(phase) + "-" + string(op)
}

// Catalogue returns all operation×phase event names, grouped by operation.
func Catalogue() []string {
	out := make([]string, 0, len(operations)*len(phases))
	for _, op := range operations {
		for _, ph := range phases {
			out = append(out, EventName(ph, op))
		}
	}
	return out
}

// ParseEventName splits "before-read" into its phase and operation.
func ParseEventName(name string) (Phase, Operation, bool) {
	ph, op, ok := strings.Cut(name, "-")
	if !ok {
		return "", "", false
	}
	phase := Phase(ph)
	operation := Operation(op)
	if !operation.Valid() {
		return "", "", false
	}
	for _, p := range phases {
		if p == phase {
			return phase, operation, true
		}
	}
	return "", "", false
}

// OperationFor maps an inbound verb to an operation. hasQuery reports query
// parameters on the request; hasMore reports further path segments after the
// identifier. A GET with a query and nothing after it is a find.
func OperationFor(method string, hasQuery, hasMore bool) (Operation, error) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodGet:
		if hasQuery && !hasMore {
			return OpFind, nil
		}
		return OpRead, nil
	case http.MethodPost:
		return OpCreate, nil
	case http.MethodPut, http.MethodPatch:
		return OpUpdate, nil
	case http.MethodDelete:
		return OpDelete, nil
	default:
		return "", apperr.BadRequest("unsupported method %q for resource", method)
	}
}

// CanonicalName joins a prefix, a version and path segments into a single
// lower-cased event name. Empty parts are skipped.
//
//	CanonicalName("arbor", "v1", "api", "users", "on-read") == "arbor/v1/api/users/on-read"
func CanonicalName(prefix, version string, segments ...string) string {
	parts := make([]string, 0, len(segments)+2)
	for _, p := range append([]string{prefix, version}, segments...) {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, "/")
}
