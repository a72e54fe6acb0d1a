package session

import (
	"fmt"
	"strings"
	"time"

	"playgate/cmd/internal/config"
)

// Token formats accepted by PLAYGATE_TOKEN_FORMAT.
const (
	TokenFormatPaseto = "paseto"
	TokenFormatJWT    = "jwt"
)

// Config defines all runtime configuration for the session subsystem.
type Config struct {
	// SessionTTL is both the session lifetime granted per start/heartbeat and
	// the lifetime of each issued token.
	SessionTTL time.Duration `env:"PLAYGATE_SESSION_TTL" envDefault:"5m"`

	// HeartbeatInterval is advertised to clients; it must be shorter than SessionTTL.
	HeartbeatInterval time.Duration `env:"PLAYGATE_HEARTBEAT_INTERVAL" envDefault:"45s"`

	// MaxRenewals caps successful heartbeats per session. 0 means unlimited.
	MaxRenewals int `env:"PLAYGATE_MAX_RENEWALS" envDefault:"0"`

	TokenFormat string        `env:"PLAYGATE_TOKEN_FORMAT"     envDefault:"paseto"`
	Issuer      string        `env:"PLAYGATE_TOKEN_ISSUER"     envDefault:"playgate"`
	ClockSkew   time.Duration `env:"PLAYGATE_TOKEN_CLOCK_SKEW" envDefault:"5s"`

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public session tokens.
	PasetoV4SecretKeyHex string `env:"PLAYGATE_PASETO_V4_SECRET_KEY_HEX"`

	// JWTSecret is the HS256 master secret (at least 32 bytes).
	JWTSecret string `env:"PLAYGATE_JWT_SECRET"`

	SweepInterval    time.Duration `env:"PLAYGATE_SWEEP_INTERVAL"    envDefault:"30s"`
	SweepBatch       int           `env:"PLAYGATE_SWEEP_BATCH"       envDefault:"500"`
	SweepConcurrency int           `env:"PLAYGATE_SWEEP_CONCURRENCY" envDefault:"8"`
}

// DefaultConfig returns the built-in defaults with no signing keys.
func DefaultConfig() Config {
	return Config{
		SessionTTL:        5 * time.Minute,
		HeartbeatInterval: 45 * time.Second,
		TokenFormat:       TokenFormatPaseto,
		Issuer:            "playgate",
		ClockSkew:         5 * time.Second,
		SweepInterval:     30 * time.Second,
		SweepBatch:        500,
		SweepConcurrency:  8,
	}
}

// LoadConfigFromEnv loads session configuration from PLAYGATE_* variables.
//
// Required, depending on PLAYGATE_TOKEN_FORMAT:
//   - PLAYGATE_PASETO_V4_SECRET_KEY_HEX (paseto)
//   - PLAYGATE_JWT_SECRET (jwt)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.TokenFormat = strings.ToLower(strings.TrimSpace(cfg.TokenFormat))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the timing and sweep bounds and that the selected token
// format has key material.
func (c Config) Validate() error {
	if c.SessionTTL <= 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: ttl and heartbeat interval must be positive", ErrConfig)
	}
	if c.HeartbeatInterval >= c.SessionTTL {
		return fmt.Errorf("%w: heartbeat interval must be shorter than session ttl", ErrConfig)
	}
	if c.HeartbeatInterval%time.Second != 0 {
		return fmt.Errorf("%w: heartbeat interval must be whole seconds", ErrConfig)
	}
	if c.MaxRenewals < 0 {
		return fmt.Errorf("%w: max renewals must be >= 0", ErrConfig)
	}
	if c.ClockSkew < 0 || c.ClockSkew >= c.SessionTTL {
		return fmt.Errorf("%w: clock skew out of range", ErrConfig)
	}
	if c.SweepInterval <= 0 || c.SweepBatch <= 0 || c.SweepConcurrency <= 0 {
		return fmt.Errorf("%w: sweep settings must be positive", ErrConfig)
	}
	switch c.TokenFormat {
	case TokenFormatPaseto:
		if strings.TrimSpace(c.PasetoV4SecretKeyHex) == "" {
			return fmt.Errorf("%w: PLAYGATE_PASETO_V4_SECRET_KEY_HEX is required", ErrConfig)
		}
	case TokenFormatJWT:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("%w: PLAYGATE_JWT_SECRET is required", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown token format %q", ErrConfig, c.TokenFormat)
	}
	return nil
}

// HeartbeatIntervalSec is the interval advertised in tokens and responses.
func (c Config) HeartbeatIntervalSec() int {
	return int(c.HeartbeatInterval / time.Second)
}
