package usftp

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/antsftp/usftp/internal/ulog"
)

// Config holds the tunables every Client construction path shares.
// Assemble one via ClientOption functions or LoadConfig; the zero value
// is never used directly, defaultConfig fills it in first.
type Config struct {
	MaxPacket  uint32 `yaml:"max_packet"`
	WindowSize uint64 `yaml:"window_size"`
	BlockSize  uint32 `yaml:"block_size"`

	Logger    ulog.Logger `yaml:"-"`
	AuditSink AuditSink   `yaml:"-"`
	Watchdog  *Watchdog   `yaml:"-"`

	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	WatchdogMaxAge   time.Duration `yaml:"watchdog_max_age"`
}

func defaultConfig() *Config {
	return &Config{
		MaxPacket:        32 * 1024,
		WindowSize:       defaultWindowSize,
		BlockSize:        subrequestSize,
		Logger:           ulog.Discard,
		WatchdogInterval: 30 * time.Second,
		WatchdogMaxAge:   60 * time.Second,
	}
}

// WithMaxPacket bounds the largest DATA payload this client will ask the
// server for or send in one sub-request.
func WithMaxPacket(n uint32) ClientOption {
	return func(c *Config) { c.MaxPacket = n }
}

// WithWindowSize bounds the total bytes a transferEngine keeps
// outstanding at once across all its sub-requests.
func WithWindowSize(n uint64) ClientOption {
	return func(c *Config) { c.WindowSize = n }
}

// WithBlockSize overrides the fixed sub-request size transfers use.
func WithBlockSize(n uint32) ClientOption {
	return func(c *Config) { c.BlockSize = n }
}

// effectiveBlockSize returns the sub-request length a transferEngine
// should use: BlockSize, falling back to the package default, clamped so
// it never exceeds MaxPacket.
func (c *Config) effectiveBlockSize() uint32 {
	bs := c.BlockSize
	if bs == 0 {
		bs = subrequestSize
	}
	if c.MaxPacket != 0 && bs > c.MaxPacket {
		bs = c.MaxPacket
	}
	return bs
}

// WithLogger sets the Client's logger. The default is silent.
func WithLogger(l ulog.Logger) ClientOption {
	return func(c *Config) { c.Logger = l }
}

// WithAuditSink attaches a sink notified once per completed transfer.
func WithAuditSink(sink AuditSink) ClientOption {
	return func(c *Config) { c.AuditSink = sink }
}

// WithWatchdog attaches a stale-request watchdog. The Watchdog is
// started (attach) once the Client finishes construction.
func WithWatchdog(w *Watchdog) ClientOption {
	return func(c *Config) { c.Watchdog = w }
}

// LoadConfig reads a YAML document at path into a Config, applying
// defaults first so a partial file only overrides what it mentions.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
