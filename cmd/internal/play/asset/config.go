package asset

import (
	"errors"
	"fmt"
	"strings"

	"playgate/cmd/internal/config"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid asset config")

// Config controls where asset bytes live and how Range headers are treated.
type Config struct {
	StorageRoot string `env:"PLAYGATE_ASSET_STORAGE_ROOT" envDefault:"./storage/assets"`

	// StrictRange answers unsatisfiable ranges with 416 instead of the full body.
	StrictRange bool `env:"PLAYGATE_ASSET_STRICT_RANGE" envDefault:"false"`
}

func DefaultConfig() Config {
	return Config{StorageRoot: "./storage/assets"}
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.StorageRoot = strings.TrimSpace(cfg.StorageRoot)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("%w: PLAYGATE_ASSET_STORAGE_ROOT is required", ErrConfig)
	}
	return nil
}
