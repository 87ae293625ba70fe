package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds library and CLI configuration
type Config struct {
	LogLevel  string `yaml:"log_level" json:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" json:"log_format" default:"text"` // text, json

	Destination string `yaml:"destination" json:"destination" default:"org.bluez"`
	AdapterPath string `yaml:"adapter_path" json:"adapter_path" default:"/org/bluez/hci0"`

	ScanDuration    time.Duration `yaml:"scan_duration" json:"scan_duration" default:"5s"`
	ConnectAttempts int           `yaml:"connect_attempts" json:"connect_attempts" default:"5"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff" json:"connect_backoff" default:"500ms"` // pause between connect attempts
	SignalBuffer    int           `yaml:"signal_buffer" json:"signal_buffer" default:"64"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the library cannot work with
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q: must be text or json", c.LogFormat)
	}
	if c.Destination == "" {
		return fmt.Errorf("destination must not be empty")
	}
	if c.AdapterPath == "" || c.AdapterPath[0] != '/' {
		return fmt.Errorf("invalid adapter_path %q", c.AdapterPath)
	}
	if c.ScanDuration < 0 {
		return fmt.Errorf("scan_duration must not be negative")
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("connect_attempts must be at least 1")
	}
	if c.ConnectBackoff < 0 {
		return fmt.Errorf("connect_backoff must not be negative")
	}
	if c.SignalBuffer < 1 {
		return fmt.Errorf("signal_buffer must be at least 1")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return logger
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
