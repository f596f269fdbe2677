package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/gatt"
)

// Platform bindings selectable at startup.
const (
	PlatformBLE = "ble"
	PlatformSim = "sim"
)

// OutputFormats lists the supported CLI output formats.
var OutputFormats = []string{"table", "json", "csv"}

// Config holds application configuration
type Config struct {
	LogLevel         string        `yaml:"log_level" json:"log_level" default:"info"`
	ScanTimeout      time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	DeviceTimeout    time.Duration `yaml:"device_timeout" json:"device_timeout" default:"30s"`
	AdapterTimeout   time.Duration `yaml:"adapter_timeout" json:"adapter_timeout" default:"5s"`
	DiscoveryDelay   time.Duration `yaml:"discovery_delay" json:"discovery_delay" default:"500ms"`
	OpTimeout        time.Duration `yaml:"op_timeout" json:"op_timeout" default:"10s"`
	DiscoverUnbonded bool          `yaml:"discover_unbonded" json:"discover_unbonded"`
	HistorySize      int           `yaml:"history_size" json:"history_size" default:"512"`
	EventBuffer      int           `yaml:"event_buffer" json:"event_buffer" default:"256"`
	OutputFormat     string        `yaml:"output_format" json:"output_format" default:"table"`
	Platform         string        `yaml:"platform" json:"platform" default:"ble"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return device.InvalidArgument("log_level", fmt.Sprintf("%q is not a log level", c.LogLevel))
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return device.InvalidArgument("output_format", fmt.Sprintf("%q is not one of %v", c.OutputFormat, OutputFormats))
	}
	if c.Platform != PlatformBLE && c.Platform != PlatformSim {
		return device.InvalidArgument("platform", fmt.Sprintf("%q is not %q or %q", c.Platform, PlatformBLE, PlatformSim))
	}

	durations := map[string]time.Duration{
		"scan_timeout":    c.ScanTimeout,
		"device_timeout":  c.DeviceTimeout,
		"adapter_timeout": c.AdapterTimeout,
		"discovery_delay": c.DiscoveryDelay,
		"op_timeout":      c.OpTimeout,
	}
	for name, d := range durations {
		if d < 0 {
			return device.InvalidArgument(name, "is negative")
		}
	}
	if c.AdapterTimeout == 0 || c.OpTimeout == 0 {
		return device.InvalidArgument("timeouts", "adapter_timeout and op_timeout must be positive")
	}
	if c.HistorySize <= 0 || c.EventBuffer <= 0 {
		return device.InvalidArgument("buffers", "history_size and event_buffer must be positive")
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Machine returns the per-device connection settings.
func (c *Config) Machine() gatt.Config {
	return gatt.Config{
		DiscoveryDelay:   c.DiscoveryDelay,
		OpTimeout:        c.OpTimeout,
		DiscoverUnbonded: c.DiscoverUnbonded,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
