// Package config defines the runtime configuration and its loader.
package config

import (
	"fmt"
	"time"
)

// Transport names accepted by the serve command.
const (
	TransportStdio = "stdio"
	TransportWS    = "ws"
	TransportHTTP  = "http"
)

// Config is the root runtime configuration.
type Config struct {
	Transport string `json:"transport" mapstructure:"transport"`
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"`

	// DefaultUser is the caller identity for duplex sessions whose
	// requests carry no user field. The HTTP transport ignores it.
	DefaultUser string `json:"default_user" mapstructure:"default_user"`

	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Secrets  SecretsConfig  `json:"secrets" mapstructure:"secrets"`
	Auth     AuthConfig     `json:"auth" mapstructure:"auth"`
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`
	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`
}

// AuthConfig points the runtime at the platform's authorization facade.
type AuthConfig struct {
	// BaseURL of the OAuth facade; empty disables JIT authorization,
	// and tools declaring auth requirements will fail to resolve.
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// SecretsConfig controls where secret values come from.
type SecretsConfig struct {
	// File is an optional JSON secrets file, hot-reloaded on change.
	File string `json:"file" mapstructure:"file"`
	// EnvPrefix prefixes environment lookups (NAME -> PREFIX_NAME).
	EnvPrefix string `json:"env_prefix" mapstructure:"env_prefix"`
	// Required secrets must resolve at boot; a miss is a startup failure.
	Required []string `json:"required" mapstructure:"required"`
}

// SessionsConfig controls the authorization session store.
type SessionsConfig struct {
	// Path to the sqlite database; empty keeps sessions in memory.
	Path string `json:"path" mapstructure:"path"`
	// SweepSchedule is a cron spec for pruning dead sessions.
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
	// RetentionHours keeps revoked/stale-pending sessions around this long.
	RetentionHours int `json:"retention_hours" mapstructure:"retention_hours"`
}

// DispatchConfig tunes the dispatcher.
type DispatchConfig struct {
	TimeoutSeconds     int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxOutputBytes     int `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	RateLimitPerMinute int `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// Timeout returns the dispatcher deadline as a duration.
func (d DispatchConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Retention returns the session retention window as a duration.
func (s SessionsConfig) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Transport:   TransportStdio,
		Host:        "127.0.0.1",
		Port:        8466,
		DefaultUser: "default",
		Logging: LoggingConfig{
			Level: "info",
		},
		Secrets: SecretsConfig{
			EnvPrefix: "GANTRY_SECRET",
		},
		Sessions: SessionsConfig{
			SweepSchedule:  "@every 15m",
			RetentionHours: 24,
		},
		Dispatch: DispatchConfig{
			TimeoutSeconds:     30,
			MaxOutputBytes:     64 * 1024,
			RateLimitPerMinute: 120,
		},
	}
}

// Validate checks the configuration for startup-blocking mistakes.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportWS, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport %q (expected %s, %s, or %s)",
			c.Transport, TransportStdio, TransportWS, TransportHTTP)
	}

	if c.Transport != TransportStdio {
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("invalid port %d for %s transport", c.Port, c.Transport)
		}
		if c.Host == "" {
			return fmt.Errorf("host is required for %s transport", c.Transport)
		}
	}

	if c.Dispatch.TimeoutSeconds <= 0 {
		return fmt.Errorf("dispatch timeout must be positive, got %d", c.Dispatch.TimeoutSeconds)
	}
	if c.Sessions.RetentionHours <= 0 {
		return fmt.Errorf("session retention must be positive, got %d", c.Sessions.RetentionHours)
	}

	return nil
}
