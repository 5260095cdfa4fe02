// Package config loads server configuration from the environment, with
// an optional .env file for development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Server basics
	Addr string `env:"RT_ADDR" envDefault:":3002"`

	// Event bus (fan-out gateway inbound). Empty disables the bridge.
	NATSURL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// Durable side-effect store. Empty URI selects the no-op store.
	MongoURI      string `env:"MONGO_URI" envDefault:""`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"dishpatch"`

	// Capacity
	MaxConnections int `env:"RT_MAX_CONNECTIONS" envDefault:"5000"`

	// Signaling timers
	PresenceGrace time.Duration `env:"RT_PRESENCE_GRACE" envDefault:"5s"`
	CallTimeout   time.Duration `env:"RT_CALL_TIMEOUT" envDefault:"25s"`

	// Per-connection inbound message rate limiting
	MessageRate  float64 `env:"RT_MESSAGE_RATE" envDefault:"20"`
	MessageBurst int     `env:"RT_MESSAGE_BURST" envDefault:"100"`

	// Connection rate limiting (upgrade path)
	ConnRateLimitEnabled bool    `env:"RT_CONN_RATE_LIMIT_ENABLED" envDefault:"true"`
	ConnRateIPBurst      int     `env:"RT_CONN_RATE_IP_BURST" envDefault:"10"`
	ConnRateIPRate       float64 `env:"RT_CONN_RATE_IP_RATE" envDefault:"2"`
	ConnRateGlobalBurst  int     `env:"RT_CONN_RATE_GLOBAL_BURST" envDefault:"300"`
	ConnRateGlobalRate   float64 `env:"RT_CONN_RATE_GLOBAL_RATE" envDefault:"50"`

	// Safety thresholds: reject new connections above this CPU %
	CPURejectThreshold float64 `env:"RT_CPU_REJECT_THRESHOLD" envDefault:"85.0"`

	// Graceful shutdown drain window
	DrainTimeout time.Duration `env:"RT_DRAIN_TIMEOUT" envDefault:"30s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (if present) and the
// environment. Environment variables win over .env values.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("RT_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("RT_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.PresenceGrace <= 0 {
		return fmt.Errorf("RT_PRESENCE_GRACE must be > 0, got %s", c.PresenceGrace)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("RT_CALL_TIMEOUT must be > 0, got %s", c.CallTimeout)
	}
	if c.MessageRate <= 0 || c.MessageBurst < 1 {
		return fmt.Errorf("message rate limit must be positive (rate %.1f, burst %d)", c.MessageRate, c.MessageBurst)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("RT_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the loaded configuration as structured fields.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Str("nats_url", c.NATSURL).
		Bool("mongo_enabled", c.MongoURI != "").
		Int("max_connections", c.MaxConnections).
		Dur("presence_grace", c.PresenceGrace).
		Dur("call_timeout", c.CallTimeout).
		Float64("message_rate", c.MessageRate).
		Int("message_burst", c.MessageBurst).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Configuration loaded")
}
