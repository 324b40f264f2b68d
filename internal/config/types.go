package config

import (
	"sort"
	"time"
)

// Config represents the complete arbor configuration.
type Config struct {
	Service    ServiceConfig         `yaml:"service"`
	API        APIConfig             `yaml:"api"`
	State      StateConfig           `yaml:"state"`
	PluginsDir string                `yaml:"plugins_dir,omitempty"`
	Plugins    map[string]PluginConf `yaml:"plugins"`
	Tree       NodeSpec              `yaml:"tree"`

	// SourcePath is the absolute path of the file Load read.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file"`
}

// StateConfig defines where resource records are stored.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen          string          `yaml:"listen"`
	Auth            APIAuthConfig   `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	EventBuffer     int             `yaml:"event_buffer"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// APIAuthConfig defines API authentication settings. With neither an
// api_key nor tokens the API is open.
type APIAuthConfig struct {
	// APIKey is a single bearer token with every scope.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// Enabled reports whether any credential is configured.
func (a APIAuthConfig) Enabled() bool {
	return a.APIKey != "" || len(a.Tokens) > 0
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// RateLimitConfig throttles requests per client.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PluginConf enables a plugin and carries its settings.
type PluginConf struct {
	Enabled bool           `yaml:"enabled"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// NodeSpec declares one node of the routing tree.
//
//	tree:
//	  name: api
//	  children:
//	    - name: users
//	      kind: resource
//	    - name: ping
//	      kind: action
//	      action: echo
type NodeSpec struct {
	Name     string     `yaml:"name"`
	Kind     string     `yaml:"kind,omitempty"`
	Action   string     `yaml:"action,omitempty"`
	Children []NodeSpec `yaml:"children,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "arbor",
			LogLevel:  "info",
			LogFormat: "json",
			PIDFile:   "./data/arbor.pid",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 10,
				Burst:             20,
			},
			EventBuffer:     256,
			ShutdownTimeout: 10 * time.Second,
		},
		State: StateConfig{
			Path: "./data/arbor.db",
		},
		Plugins: make(map[string]PluginConf),
		Tree: NodeSpec{
			Name: "api",
			Kind: "namespace",
		},
	}
}

// EnabledPlugins returns the config block of every enabled plugin keyed by
// canonical name.
func (c *Config) EnabledPlugins() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for name, p := range c.Plugins {
		if p.Enabled {
			out[name] = p.Config
		}
	}
	return out
}

// EnabledPluginNames returns the enabled plugin names, sorted.
func (c *Config) EnabledPluginNames() []string {
	names := make([]string, 0, len(c.Plugins))
	for name, p := range c.Plugins {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
