package thermabridge

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultSegmentSize is the size of segments created by a host.
const DefaultSegmentSize = 50000000

// Segment opening modes.
const (
	ModeOpen   = "open"
	ModeCreate = "create"
	ModeAttach = "attach"
)

// Config describes one peer.
type Config struct {
	// Segment is the shared segment name. Empty means the first free
	// "<Prefix>-N" name when creating.
	Segment string `yaml:"segment"`

	// Prefix is used to pick a free segment name.
	Prefix string `yaml:"prefix"`

	// Mode is open (attach or create), create or attach.
	Mode string `yaml:"mode"`

	// Size is the segment size in bytes when creating.
	Size int `yaml:"size"`

	// Timeout bounds channel writes and Send/Receive.
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is the sleep between two slot checks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReadTimeout bounds each worker poll.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// IdleInterval is the worker's pause after an empty poll.
	IdleInterval time.Duration `yaml:"idle_interval"`

	// Debug enables [DEBUG] logging.
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the settings used by the host application.
func DefaultConfig() Config {
	return Config{
		Prefix:       DefaultSegmentPrefix,
		Mode:         ModeOpen,
		Size:         DefaultSegmentSize,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		ReadTimeout:  DefaultReadTimeout,
		IdleInterval: DefaultIdleInterval,
	}
}

// ApplyEnv overrides c from THERMABRIDGE_SEGMENT, THERMABRIDGE_SIZE,
// THERMABRIDGE_TIMEOUT_MS and THERMABRIDGE_DEBUG.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("THERMABRIDGE_SEGMENT"); v != "" {
		c.Segment = v
	}
	if v := os.Getenv("THERMABRIDGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("THERMABRIDGE_SIZE: %w", err)
		}
		c.Size = n
	}
	if v := os.Getenv("THERMABRIDGE_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("THERMABRIDGE_TIMEOUT_MS: %w", err)
		}
		c.Timeout = time.Duration(n) * time.Millisecond
	}
	if v := os.Getenv("THERMABRIDGE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("THERMABRIDGE_DEBUG: %w", err)
		}
		c.Debug = b
	}
	return nil
}

// Validate fills unset durations with defaults and checks the rest.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.Size == 0 {
		c.Size = def.Size
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.IdleInterval == 0 {
		c.IdleInterval = def.IdleInterval
	}

	switch c.Mode {
	case ModeOpen, ModeCreate, ModeAttach:
	default:
		return fmt.Errorf("mode must be one of open, create, attach, got %q", c.Mode)
	}
	if c.Mode == ModeAttach && c.Segment == "" {
		return fmt.Errorf("segment is required in attach mode")
	}
	if c.Size < MinSegmentSize {
		return fmt.Errorf("size must be at least %d bytes, got %d", MinSegmentSize, c.Size)
	}
	if c.PollInterval < 0 || c.ReadTimeout < 0 || c.IdleInterval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	return nil
}

func (c Config) channelOptions() []ChannelOption {
	return []ChannelOption{WithPollInterval(c.PollInterval), WithTimeout(c.Timeout)}
}
