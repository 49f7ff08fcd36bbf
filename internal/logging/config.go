package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level    zapcore.Level
	Format   string
	Sampling bool
	Caller   bool
	OTEL     bool
	Fields   map[string]string
}

// NewDefaultConfig returns config with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:    zapcore.InfoLevel,
		Format:   "json",
		Sampling: true,
		Caller:   true,
		Fields: map[string]string{
			"service": "semindex",
		},
	}
}

// ConfigFrom builds a Config from the flat observability settings.
func ConfigFrom(level, format, service string, otel bool) (*Config, error) {
	cfg := NewDefaultConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	if format != "" {
		cfg.Format = format
	}
	if service != "" {
		cfg.Fields["service"] = service
	}
	cfg.OTEL = otel
	return cfg, cfg.Validate()
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	return nil
}
