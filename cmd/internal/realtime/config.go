package realtime

import (
	"errors"
	"fmt"
	"time"

	"playgate/cmd/internal/config"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid realtime config")

// Config controls the /play/events websocket endpoint.
type Config struct {
	// DevInsecure disables the websocket library's own origin check. Dev only.
	DevInsecure bool `env:"PLAYGATE_WS_DEV_INSECURE" envDefault:"false"`

	OriginRequired bool     `env:"PLAYGATE_WS_ORIGIN_REQUIRED" envDefault:"true"`
	AllowedOrigins []string `env:"PLAYGATE_WS_ALLOWED_ORIGINS" envDefault:"http://localhost,http://127.0.0.1" envSeparator:","`

	WriteTimeout    time.Duration `env:"PLAYGATE_WS_WRITE_TIMEOUT"     envDefault:"5s"`
	ReadIdleTimeout time.Duration `env:"PLAYGATE_WS_READ_IDLE_TIMEOUT" envDefault:"2m"`
	HelloTimeout    time.Duration `env:"PLAYGATE_WS_HELLO_TIMEOUT"     envDefault:"10s"`
	SendQueueSize   int           `env:"PLAYGATE_WS_SEND_QUEUE"        envDefault:"16"`

	HeartbeatInterval time.Duration `env:"PLAYGATE_WS_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"PLAYGATE_WS_HEARTBEAT_TIMEOUT"  envDefault:"5s"`

	// Inbound frames per window before the connection is dropped.
	RateEvents int           `env:"PLAYGATE_WS_RATE_EVENTS" envDefault:"10"`
	RateWindow time.Duration `env:"PLAYGATE_WS_RATE_WINDOW" envDefault:"10s"`
}

func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		HelloTimeout:      10 * time.Second,
		SendQueueSize:     16,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		RateEvents:        10,
		RateWindow:        10 * time.Second,
	}
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.WriteTimeout <= 0 || c.ReadIdleTimeout <= 0 || c.HelloTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%w: heartbeat settings must be positive", ErrConfig)
	}
	if c.RateEvents <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("%w: rate settings must be positive", ErrConfig)
	}
	if c.SendQueueSize < wsMinSendQueue {
		return fmt.Errorf("%w: send queue must be at least %d", ErrConfig, wsMinSendQueue)
	}
	return nil
}
