package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/richinsley/thermabridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thermabridge.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1"
bridge:
  segment: Thermavip-7
  mode: attach
  timeout: 2s
  read_timeout: 10ms
serve:
  variables:
    gain: 2.5
    labels: [a, b]
  startup: |
    x = 1
  style_sheet: "QWidget { color: red; }"
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Thermavip-7", config.Bridge.Segment)
	assert.Equal(t, thermabridge.ModeAttach, config.Bridge.Mode)
	assert.Equal(t, 2*time.Second, config.Bridge.Timeout)
	assert.Equal(t, 10*time.Millisecond, config.Bridge.ReadTimeout)
	assert.Equal(t, thermabridge.DefaultSegmentSize, config.Bridge.Size)
	assert.Equal(t, thermabridge.DefaultPollInterval, config.Bridge.PollInterval)
	require.NotNil(t, config.Serve)
	assert.Equal(t, 2.5, config.Serve.Variables["gain"])
	assert.Equal(t, "x = 1\n", config.Serve.Startup)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/thermabridge.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `bridge:
  - this is invalid
    yaml syntax
`)
	config, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown mode", "bridge:\n  mode: listen\n", "mode must be one of"},
		{"attach without segment", "bridge:\n  mode: attach\n", "segment is required"},
		{"tiny segment", "bridge:\n  size: 10\n", "size must be at least"},
		{"bad version", "version: \"9\"\n", "unsupported version"},
		{"bad variable", "serve:\n  variables:\n    \"a b\": 1\n", "invalid variable name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Nil(t, config)
			assert.Contains(t, err.Error(), "invalid configuration")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("THERMABRIDGE_SEGMENT", "Thermavip-3")
	t.Setenv("THERMABRIDGE_TIMEOUT_MS", "150")

	config, err := Load(writeConfig(t, "bridge:\n  segment: Thermavip-1\n"))
	require.NoError(t, err)
	assert.Equal(t, "Thermavip-3", config.Bridge.Segment)
	assert.Equal(t, 150*time.Millisecond, config.Bridge.Timeout)

	t.Setenv("THERMABRIDGE_SIZE", "lots")
	_, err = Load(writeConfig(t, "bridge: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "THERMABRIDGE_SIZE")
}

func TestLoadOrDefault(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	config, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, thermabridge.DefaultSegmentPrefix, config.Bridge.Prefix)
	assert.Equal(t, thermabridge.ModeOpen, config.Bridge.Mode)

	require.NoError(t, os.WriteFile(DefaultPath, []byte("bridge:\n  prefix: Lab\n"), 0644))
	config, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "Lab", config.Bridge.Prefix)
}
