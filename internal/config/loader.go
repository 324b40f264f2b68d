package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configFilename = "config.yaml"
	envConfigDir   = "ARBOR_CONFIG_DIR"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies and validates configuration. path may name a file or
// a directory containing config.yaml. When the directory holds a .checksums
// manifest every listed file must match it.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadUnverified is Load without the checksum check, for re-locking a
// config that was edited on purpose.
func LoadUnverified(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, verify bool) (*Config, error) {
	absPath, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}

	configDir := filepath.Dir(absPath)
	if _, err := os.Stat(filepath.Join(configDir, checksumsFilename)); verify && err == nil {
		if err := VerifyChecksums(configDir); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	if cfg.PluginsDir != "" && !filepath.IsAbs(cfg.PluginsDir) {
		cfg.PluginsDir = filepath.Join(configDir, cfg.PluginsDir)
	}
	return cfg, nil
}

// Parse interpolates ${VAR} references, decodes data over Defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = make(map[string]PluginConf)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ResolvePath turns a file or directory argument into the absolute path of
// the config file.
func ResolvePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, configFilename)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", configFilename, absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigPath finds the config by checking, in order:
// $ARBOR_CONFIG_DIR, ~/.config/arbor, /etc/arbor, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	var candidates []string
	if dir := os.Getenv(envConfigDir); dir != "" {
		candidates = append(candidates, dir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "arbor"))
	}
	candidates = append(candidates, "/etc/arbor", "./"+configFilename)

	for _, c := range candidates {
		if p, err := ResolvePath(c); err == nil {
			return p, nil
		}
	}
	return "", errors.New("no config found (checked: $ARBOR_CONFIG_DIR, ~/.config/arbor, /etc/arbor, ./config.yaml)")
}

// interpolateEnv replaces ${VAR} with environment variable values. Unset
// variables are left in place and rejected by validation where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolvedEnv(s string) (string, bool) {
	m := envVarPattern.FindStringSubmatch(s)
	if len(m) > 1 {
		return m[1], true
	}
	return "", false
}

// checkUnresolvedEnvVars walks plugin config values for leftover ${VAR}.
func checkUnresolvedEnvVars(data map[string]any, pluginName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if name, ok := unresolvedEnv(v); ok {
				return fmt.Errorf("plugin %q: config.%s: environment variable ${%s} is not set", pluginName, key, name)
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, pluginName); err != nil {
				return err
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					if name, ok := unresolvedEnv(s); ok {
						return fmt.Errorf("plugin %q: config.%s: environment variable ${%s} is not set", pluginName, key, name)
					}
				}
			}
		}
	}
	return nil
}

// Marshal renders cfg as YAML with secrets redacted.
func Marshal(cfg *Config) ([]byte, error) {
	cp := *cfg
	if cp.API.Auth.APIKey != "" {
		cp.API.Auth.APIKey = redacted
	}
	if len(cp.API.Auth.Tokens) > 0 {
		tokens := make([]APIToken, len(cp.API.Auth.Tokens))
		for i, t := range cp.API.Auth.Tokens {
			tokens[i] = APIToken{Token: redacted, Scopes: t.Scopes}
		}
		cp.API.Auth.Tokens = tokens
	}
	out, err := yaml.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

const redacted = "<redacted>"

func isCanonicalPluginName(name string) bool {
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return false
		}
	}
	return name == strings.ToLower(strings.TrimSpace(name))
}
