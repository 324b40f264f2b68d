package config

import (
	"fmt"
	"strings"
)

// Validate checks a decoded configuration.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if err := validateAPI(cfg.API); err != nil {
		return err
	}

	for name, plugin := range cfg.Plugins {
		if !isCanonicalPluginName(name) {
			return fmt.Errorf("plugins: %q must be a lower-case domain/version/name", name)
		}
		if !plugin.Enabled {
			continue
		}
		if plugin.Config != nil {
			if err := checkUnresolvedEnvVars(plugin.Config, name); err != nil {
				return err
			}
		}
	}

	if err := validateTree(cfg.Tree); err != nil {
		return fmt.Errorf("tree: %w", err)
	}
	return nil
}

func validateAPI(api APIConfig) error {
	if strings.TrimSpace(api.Listen) == "" {
		return fmt.Errorf("api.listen is required")
	}
	if api.EventBuffer < 0 {
		return fmt.Errorf("api.event_buffer must not be negative")
	}
	if api.ShutdownTimeout < 0 {
		return fmt.Errorf("api.shutdown_timeout must not be negative")
	}
	if name, ok := unresolvedEnv(api.Auth.APIKey); ok {
		return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", name)
	}
	for i, tok := range api.Auth.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d].token is required", i)
		}
		if name, ok := unresolvedEnv(tok.Token); ok {
			return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, name)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
		}
	}
	if api.RateLimit.Enabled {
		if api.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("api.rate_limit.requests_per_second must be positive")
		}
		if api.RateLimit.Burst <= 0 {
			return fmt.Errorf("api.rate_limit.burst must be positive")
		}
	}
	return nil
}

// validateTree checks the declarative tree. The root must be a namespace;
// actions are leaves and only actions name a handler.
func validateTree(root NodeSpec) error {
	kind := normalizedKind(root.Kind)
	if kind != "namespace" {
		return fmt.Errorf("root %q must be a namespace (got %q)", root.Name, root.Kind)
	}
	return validateNode(root, root.Name)
}

func validateNode(n NodeSpec, path string) error {
	name := strings.TrimSpace(n.Name)
	if name == "" {
		return fmt.Errorf("%s: node name is required", path)
	}
	if strings.ContainsAny(name, "/?#") {
		return fmt.Errorf("%s: node name %q contains a path separator", path, n.Name)
	}

	switch normalizedKind(n.Kind) {
	case "namespace", "resource":
		if n.Action != "" {
			return fmt.Errorf("%s: only action nodes may name an action", path)
		}
	case "action":
		if len(n.Children) > 0 {
			return fmt.Errorf("%s: action nodes cannot have children", path)
		}
	default:
		return fmt.Errorf("%s: unknown kind %q (valid: namespace, resource, action)", path, n.Kind)
	}

	seen := make(map[string]bool, len(n.Children))
	for _, c := range n.Children {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if seen[key] {
			return fmt.Errorf("%s: duplicate child %q", path, c.Name)
		}
		seen[key] = true
		if err := validateNode(c, path+"/"+key); err != nil {
			return err
		}
	}
	return nil
}

func normalizedKind(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return "namespace"
	}
	return k
}
