package plugin

import (
	"fmt"
	"strings"
)

// Descriptor identifies a plugin and names what it depends on.
type Descriptor struct {
	Domain       string   `json:"domain" yaml:"domain"`
	Version      string   `json:"version" yaml:"version"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// ConfigKeys, when set, lists the config keys the plugin understands.
	ConfigKeys *ConfigKeys `json:"config_keys,omitempty" yaml:"config_keys,omitempty"`
}

// CanonicalName is "<domain>/<version>/<name>", trimmed and lower-cased.
func (d Descriptor) CanonicalName() string {
	return CanonicalName(d.Domain, d.Version, d.Name)
}

// CanonicalName builds the dependency-graph key for a plugin.
func CanonicalName(domain, version, name string) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return norm(domain) + "/" + norm(version) + "/" + norm(name)
}

// ParseCanonicalName splits "<domain>/<version>/<name>".
func ParseCanonicalName(s string) (domain, version, name string, err error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("canonical name %q must be domain/version/name", s)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return "", "", "", fmt.Errorf("canonical name %q has an empty part", s)
		}
	}
	return parts[0], parts[1], parts[2], nil
}

// Validate checks the descriptor fields and its dependency names.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Domain) == "" {
		return fmt.Errorf("domain is required")
	}
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsRune(d.Domain+d.Version+d.Name, '/') {
		return fmt.Errorf("descriptor fields must not contain '/'")
	}
	for _, dep := range d.Dependencies {
		if _, _, _, err := ParseCanonicalName(dep); err != nil {
			return fmt.Errorf("dependency: %w", err)
		}
	}
	return nil
}

// normalizedDeps returns the dependency names in declared order, normalized
// the same way as CanonicalName.
func (d Descriptor) normalizedDeps() []string {
	out := make([]string, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		out = append(out, strings.ToLower(strings.TrimSpace(dep)))
	}
	return out
}

// State is a plugin's position in its load/start lifecycle.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON/YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "unloaded":
		*s = StateUnloaded
	case "loaded":
		*s = StateLoaded
	case "started":
		*s = StateStarted
	case "stopped":
		*s = StateStopped
	default:
		return fmt.Errorf("unknown plugin state %q", string(b))
	}
	return nil
}

// IsLoaded reports whether the plugin has been loaded. Stopped counts.
func (s State) IsLoaded() bool {
	return s == StateLoaded || s == StateStarted || s == StateStopped
}

// CanTransition reports whether s may move to next.
//
//	unloaded -> loaded -> started -> stopped -> started ...
func (s State) CanTransition(next State) bool {
	switch s {
	case StateUnloaded:
		return next == StateLoaded
	case StateLoaded, StateStopped:
		return next == StateStarted
	case StateStarted:
		return next == StateStopped
	default:
		return false
	}
}
