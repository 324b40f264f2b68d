package api

import (
	"github.com/mattjoyce/arbor/internal/events"
	"github.com/mattjoyce/arbor/internal/plugin"
)

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string       `json:"status"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	TreeReady      bool         `json:"tree_ready"`
	PluginsStarted int          `json:"plugins_started"`
	Events         events.Stats `json:"events"`
}

// PluginsResponse is returned by GET /_/plugins.
type PluginsResponse struct {
	Plugins []plugin.Status `json:"plugins"`
}

// ActionResponse wraps an action result.
type ActionResponse struct {
	RequestID string `json:"request_id"`
	Result    any    `json:"result"`
}

// ResourceResponse reports a resource operation.
type ResourceResponse struct {
	RequestID string `json:"request_id"`
	Operation string `json:"operation"`
	Resource  string `json:"resource"`
	ID        string `json:"id"`
	Result    any    `json:"result,omitempty"`
}
