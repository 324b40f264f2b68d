package builtin

import (
	"context"
	"fmt"

	"github.com/mattjoyce/arbor/internal/emitter"
	"github.com/mattjoyce/arbor/internal/lifecycle"
	"github.com/mattjoyce/arbor/internal/metrics"
	"github.com/mattjoyce/arbor/internal/plugin"
)

// Metrics counts lifecycle events per resource, phase and operation.
type Metrics struct {
	collector *metrics.Collector
}

func (m *Metrics) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Domain:      domain,
		Version:     "v1",
		Name:        "metrics",
		Description: "Counts lifecycle events in Prometheus",
		ConfigKeys:  &plugin.ConfigKeys{},
	}
}

func (m *Metrics) Load(_ context.Context, host *plugin.Host) error {
	if host.Metrics == nil {
		return fmt.Errorf("metrics: no collector")
	}
	m.collector = host.Metrics
	all := emitter.MustPattern(`^(before|on|after)-`)
	for _, p := range host.Tree.Resources() {
		p.Events.On(all, m.count)
	}
	return nil
}

func (m *Metrics) Start(context.Context) error { return nil }
func (m *Metrics) Stop(context.Context) error  { return nil }

func (m *Metrics) count(_ context.Context, ev *emitter.Event) error {
	phase, op, ok := lifecycle.ParseEventName(ev.Name)
	if !ok {
		return nil
	}
	m.collector.LifecycleEvents.WithLabelValues(resourcePath(ev.Path), string(phase), string(op)).Inc()
	return nil
}
