package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Addr:               ":3002",
		MaxConnections:     100,
		PresenceGrace:      5 * time.Second,
		CallTimeout:        25 * time.Second,
		MessageRate:        20,
		MessageBurst:       100,
		CPURejectThreshold: 85,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing addr", func(c *Config) { c.Addr = "" }, true},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero grace", func(c *Config) { c.PresenceGrace = 0 }, true},
		{"negative call timeout", func(c *Config) { c.CallTimeout = -time.Second }, true},
		{"zero message rate", func(c *Config) { c.MessageRate = 0 }, true},
		{"zero message burst", func(c *Config) { c.MessageBurst = 0 }, true},
		{"cpu threshold over 100", func(c *Config) { c.CPURejectThreshold = 120 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"pretty format", func(c *Config) { c.LogFormat = "pretty" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":3002" {
		t.Fatalf("default addr = %q, want :3002", cfg.Addr)
	}
	if cfg.PresenceGrace != 5*time.Second {
		t.Fatalf("default grace = %s, want 5s", cfg.PresenceGrace)
	}
	if cfg.CallTimeout != 25*time.Second {
		t.Fatalf("default call timeout = %s, want 25s", cfg.CallTimeout)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RT_MAX_CONNECTIONS", "42")
	t.Setenv("RT_PRESENCE_GRACE", "10s")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConnections != 42 {
		t.Fatalf("MaxConnections = %d, want 42", cfg.MaxConnections)
	}
	if cfg.PresenceGrace != 10*time.Second {
		t.Fatalf("PresenceGrace = %s, want 10s", cfg.PresenceGrace)
	}
}
