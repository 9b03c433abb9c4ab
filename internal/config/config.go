package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/richinsley/thermabridge"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "thermabridge.yml"

// FileConfig represents the top-level thermabridge.yml configuration
type FileConfig struct {
	Version string              `yaml:"version"`
	Bridge  thermabridge.Config `yaml:"bridge"`
	Serve   *ServeConfig        `yaml:"serve,omitempty"`
}

// ServeConfig seeds the namespace served by `thermabridge serve`
type ServeConfig struct {
	Variables  map[string]interface{} `yaml:"variables,omitempty"`   // Bound before the first request
	Startup    string                 `yaml:"startup,omitempty"`     // Script run once the session is up
	StyleSheet string                 `yaml:"style_sheet,omitempty"` // Initial console style sheet
}

// Default returns the configuration used when no file exists.
func Default() *FileConfig {
	return &FileConfig{Version: "1", Bridge: thermabridge.DefaultConfig()}
}

// Validate checks the configuration and fills defaults.
func (c *FileConfig) Validate() error {
	if c.Version != "" && c.Version != "1" {
		return fmt.Errorf("unsupported version %q", c.Version)
	}
	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	if c.Serve != nil {
		for name := range c.Serve.Variables {
			if name == "" || strings.ContainsAny(name, " \t=") {
				return fmt.Errorf("serve: invalid variable name %q", name)
			}
		}
	}
	return nil
}

// Load reads path, applies THERMABRIDGE_* environment overrides and validates
// the result.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Bridge.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads path when it is set or when DefaultPath exists, and
// falls back to Default otherwise.
func LoadOrDefault(path string) (*FileConfig, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return Load(DefaultPath)
	}
	config := Default()
	if err := config.Bridge.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
