package plugin

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SupportedManifestSpec    = "arbor.plugin"
	SupportedManifestVersion = 1
)

// Manifest is the on-disk form of a plugin descriptor (manifest.yaml).
//
//	manifest_spec: arbor.plugin
//	manifest_version: 1
//	domain: acme
//	version: v1
//	name: billing
//	dependencies: [core/v1/store]
type Manifest struct {
	ManifestSpec    string         `yaml:"manifest_spec"`
	ManifestVersion int            `yaml:"manifest_version"`
	Domain          string         `yaml:"domain"`
	Version         string         `yaml:"version"`
	Name            string         `yaml:"name"`
	Description     string         `yaml:"description,omitempty"`
	Dependencies    dependencyList `yaml:"dependencies,omitempty"`
	ConfigKeys      *ConfigKeys    `yaml:"config_keys,omitempty"`
}

// Descriptor returns the descriptor the manifest declares.
func (m *Manifest) Descriptor() Descriptor {
	return Descriptor{
		Domain:       m.Domain,
		Version:      m.Version,
		Name:         m.Name,
		Description:  m.Description,
		Dependencies: []string(m.Dependencies),
		ConfigKeys:   m.ConfigKeys,
	}
}

// ConfigKeys lists the plugin config keys a deployment must or may set.
type ConfigKeys struct {
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
	Optional []string `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Known reports whether key is required or optional.
func (k *ConfigKeys) Known(key string) bool {
	if k == nil {
		return true
	}
	for _, list := range [][]string{k.Required, k.Optional} {
		for _, s := range list {
			if s == key {
				return true
			}
		}
	}
	return false
}

// dependencyList accepts either a sequence of canonical names or a mapping
// of canonical name to a free-form constraint, which is ignored.
type dependencyList []string

func (l *dependencyList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return fmt.Errorf("dependencies: %w", err)
		}
		*l = names
	case yaml.MappingNode:
		out := make([]string, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			out = append(out, strings.TrimSpace(n.Content[i].Value))
		}
		*l = out
	case yaml.ScalarNode:
		if strings.TrimSpace(n.Value) != "" {
			*l = []string{strings.TrimSpace(n.Value)}
		}
	default:
		return fmt.Errorf("dependencies must be a list or mapping")
	}
	return nil
}

// ParseManifest decodes and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest YAML: %w", err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

func validateManifest(m *Manifest) error {
	if strings.TrimSpace(m.ManifestSpec) == "" {
		return fmt.Errorf("manifest_spec is required")
	}
	if m.ManifestSpec != SupportedManifestSpec {
		return fmt.Errorf("unsupported manifest_spec %q (supported: %q)", m.ManifestSpec, SupportedManifestSpec)
	}
	if m.ManifestVersion == 0 {
		return fmt.Errorf("manifest_version is required")
	}
	if m.ManifestVersion != SupportedManifestVersion {
		return fmt.Errorf("unsupported manifest_version %d (supported: %d)", m.ManifestVersion, SupportedManifestVersion)
	}
	return m.Descriptor().Validate()
}
