package part

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"github.com/mattjoyce/arbor/internal/cursor"
	"github.com/mattjoyce/arbor/internal/lifecycle"
	"github.com/mattjoyce/arbor/internal/log"
)

// Target is the entity instance a Resource operation acts on. It is created
// per request and never persisted by the dispatcher; listeners do that.
type Target struct {
	ID        string              `json:"id"`
	Resource  string              `json:"resource"`
	Operation lifecycle.Operation `json:"operation"`
	Query     url.Values          `json:"query,omitempty"`
	Data      map[string]any      `json:"data,omitempty"`
	Result    any                 `json:"result,omitempty"`
	Parent    *Target             `json:"parent,omitempty"`
}

// Request is the per-request dispatch context.
type Request struct {
	Context context.Context
	ID      string
	Method  string
	Cursor  *cursor.Cursor
	Query   url.Values
	Body    map[string]any
	Logger  *slog.Logger

	// Target is the innermost Resource target resolved so far.
	Target *Target
	// Trail lists the names of the parts dispatch matched, in order.
	Trail []string
	// Result is set by the terminal handler of an Action.
	Result any
	// Aborted names the lifecycle event whose listeners cancelled dispatch.
	Aborted string
}

// NewRequest builds a request for rawPath. The logger is taken from ctx when
// it carries one.
func NewRequest(ctx context.Context, method, rawPath string, query url.Values) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	return &Request{
		Context: ctx,
		ID:      id,
		Method:  method,
		Cursor:  cursor.Parse(rawPath),
		Query:   query,
		Logger:  log.WithRequest(log.FromContext(ctx), id),
	}
}

func (r *Request) ctx() context.Context {
	if r.Context == nil {
		return context.Background()
	}
	return r.Context
}

func (r *Request) logger() *slog.Logger {
	if r.Logger == nil {
		return log.FromContext(r.ctx())
	}
	return r.Logger
}
