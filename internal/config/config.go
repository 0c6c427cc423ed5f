package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/maestro/internal/llm"
)

// Config is the runtime configuration for a maestro workspace.
type Config struct {
	// Workspace is the root directory holding agents/, skills/, and .memory/.
	Workspace string `yaml:"workspace"`

	Server ServerConfig `yaml:"server"`

	// Models maps a config name to a model backend. Agent definitions
	// reference entries by name.
	Models map[string]llm.ModelConfig `yaml:"models"`

	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type SessionConfig struct {
	MaxMessages int           `yaml:"max_messages"`
	TTL         time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Redact bool   `yaml:"redact"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	for name, m := range c.Models {
		if m.Model == "" {
			return fmt.Errorf("model config %q missing model name", name)
		}
	}
	if c.Session.MaxMessages < 0 {
		return fmt.Errorf("session.max_messages must not be negative")
	}
	return nil
}
