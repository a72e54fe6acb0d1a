package playapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"playgate/cmd/internal/config"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid api config")

// Config controls the play HTTP surface.
type Config struct {
	MaxBodyBytes int64 `env:"PLAYGATE_API_MAX_BODY_BYTES" envDefault:"65536"`

	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `env:"PLAYGATE_API_TRUST_PROXY" envDefault:"false"`

	// PrincipalHeader carries the caller's principal id on /play/start.
	PrincipalHeader string `env:"PLAYGATE_API_PRINCIPAL_HEADER" envDefault:"X-User-Id"`

	HeartbeatLimit  int           `env:"PLAYGATE_API_HEARTBEAT_LIMIT"  envDefault:"2"`
	HeartbeatWindow time.Duration `env:"PLAYGATE_API_HEARTBEAT_WINDOW" envDefault:"1m"`
	AssetLimit      int           `env:"PLAYGATE_API_ASSET_LIMIT"      envDefault:"100"`
	AssetWindow     time.Duration `env:"PLAYGATE_API_ASSET_WINDOW"     envDefault:"1m"`
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:    64 << 10,
		PrincipalHeader: "X-User-Id",
		HeartbeatLimit:  2,
		HeartbeatWindow: time.Minute,
		AssetLimit:      100,
		AssetWindow:     time.Minute,
	}
}

// LoadConfigFromEnv loads API config from PLAYGATE_API_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.PrincipalHeader = http.CanonicalHeaderKey(strings.TrimSpace(cfg.PrincipalHeader))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfig)
	}
	if strings.TrimSpace(c.PrincipalHeader) == "" {
		return fmt.Errorf("%w: principal header is required", ErrConfig)
	}
	if c.HeartbeatLimit <= 0 || c.HeartbeatWindow <= 0 || c.AssetLimit <= 0 || c.AssetWindow <= 0 {
		return fmt.Errorf("%w: rate limits must be positive", ErrConfig)
	}
	return nil
}
