package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("PLAYGATE_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.SessionTTL != 5*time.Minute || cfg.HeartbeatInterval != 45*time.Second {
		t.Fatalf("unexpected timing: ttl=%v hb=%v", cfg.SessionTTL, cfg.HeartbeatInterval)
	}
	if cfg.MaxRenewals != 0 || cfg.TokenFormat != TokenFormatPaseto {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.HeartbeatIntervalSec() != 45 {
		t.Fatalf("expected 45s interval, got %d", cfg.HeartbeatIntervalSec())
	}
}

func TestLoadConfigFromEnv_MissingKey(t *testing.T) {
	t.Setenv("PLAYGATE_PASETO_V4_SECRET_KEY_HEX", "")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_BadDuration(t *testing.T) {
	t.Setenv("PLAYGATE_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("PLAYGATE_SESSION_TTL", "forever")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	base := DefaultConfig()
	base.PasetoV4SecretKeyHex = "00"

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "heartbeat not shorter than ttl", mutate: func(c *Config) { c.HeartbeatInterval = c.SessionTTL }},
		{name: "fractional heartbeat", mutate: func(c *Config) { c.HeartbeatInterval = 1500 * time.Millisecond }},
		{name: "negative renewals", mutate: func(c *Config) { c.MaxRenewals = -1 }},
		{name: "zero sweep batch", mutate: func(c *Config) { c.SweepBatch = 0 }},
		{name: "unknown format", mutate: func(c *Config) { c.TokenFormat = "xml" }},
		{name: "jwt without secret", mutate: func(c *Config) { c.TokenFormat = TokenFormatJWT }},
	}
	for _, tt := range tests {
		c := base
		tt.mutate(&c)
		if err := c.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", tt.name, err)
		}
	}

	c := base
	c.TokenFormat = TokenFormatJWT
	c.JWTSecret = strings.Repeat("s", 32)
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate jwt: %v", err)
	}
}
