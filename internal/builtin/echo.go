package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/plugin"
)

// Echo provides the "echo" and "time" action handlers.
type Echo struct {
	loc *time.Location
	now func() time.Time
}

func (e *Echo) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Domain:      domain,
		Version:     "v1",
		Name:        "echo",
		Description: "Echo and time actions",
		ConfigKeys:  &plugin.ConfigKeys{Optional: []string{"timezone"}},
	}
}

func (e *Echo) Load(_ context.Context, host *plugin.Host) error {
	if host.Actions == nil {
		return fmt.Errorf("echo: no action table")
	}
	loc, err := time.LoadLocation(host.ConfigString("timezone", "UTC"))
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	e.loc = loc
	if e.now == nil {
		e.now = time.Now
	}
	if err := host.Actions.Register("echo", e.echo); err != nil {
		return err
	}
	return host.Actions.Register("time", e.time)
}

func (e *Echo) Start(context.Context) error { return nil }
func (e *Echo) Stop(context.Context) error  { return nil }

func (e *Echo) echo(_ context.Context, req *part.Request) (any, error) {
	return map[string]any{
		"request_id": req.ID,
		"method":     req.Method,
		"trail":      req.Trail,
		"query":      req.Query,
		"body":       req.Body,
	}, nil
}

func (e *Echo) time(context.Context, *part.Request) (any, error) {
	now := e.now().In(e.loc)
	return map[string]any{
		"now":      now.Format(time.RFC3339),
		"unix":     now.Unix(),
		"timezone": e.loc.String(),
	}, nil
}
