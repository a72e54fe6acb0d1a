package billing

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"playgate/cmd/internal/config"
)

const (
	ModeStatic = "static"
	ModeHTTP   = "http"
	ModeRedis  = "redis"
)

// Config selects and tunes the billing gate.
type Config struct {
	Mode          string `env:"PLAYGATE_BILLING_MODE"           envDefault:"static"`
	StaticVerdict string `env:"PLAYGATE_BILLING_STATIC_VERDICT" envDefault:"OK"`

	URL      string `env:"PLAYGATE_BILLING_URL"`
	APIToken string `env:"PLAYGATE_BILLING_API_TOKEN"`

	RedisAddr      string        `env:"PLAYGATE_REDIS_ADDR"             envDefault:"localhost:6379"`
	RedisPassword  string        `env:"PLAYGATE_REDIS_PASSWORD"`
	RedisDB        int           `env:"PLAYGATE_REDIS_DB"               envDefault:"0"`
	DefaultVerdict string        `env:"PLAYGATE_BILLING_DEFAULT_VERDICT" envDefault:"OK"`
	StreamTTL      time.Duration `env:"PLAYGATE_BILLING_STREAM_TTL"      envDefault:"24h"`

	Timeout     time.Duration `env:"PLAYGATE_BILLING_TIMEOUT"      envDefault:"2s"`
	MaxAttempts int           `env:"PLAYGATE_BILLING_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase time.Duration `env:"PLAYGATE_BILLING_BACKOFF_BASE" envDefault:"100ms"`
	BackoffMax  time.Duration `env:"PLAYGATE_BILLING_BACKOFF_MAX"  envDefault:"1s"`
}

// DefaultConfig is a static gate that approves everything.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeStatic,
		StaticVerdict:  string(VerdictOK),
		RedisAddr:      "localhost:6379",
		DefaultVerdict: string(VerdictOK),
		StreamTTL:      24 * time.Hour,
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    100 * time.Millisecond,
		BackoffMax:     time.Second,
	}
}

// LoadConfigFromEnv parses and validates billing configuration.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeStatic:
		if _, err := ParseVerdict(c.StaticVerdict); err != nil {
			return fmt.Errorf("%w: static verdict", ErrConfig)
		}
	case ModeHTTP:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("%w: PLAYGATE_BILLING_URL is required in http mode", ErrConfig)
		}
	case ModeRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("%w: PLAYGATE_REDIS_ADDR is required in redis mode", ErrConfig)
		}
		if _, err := ParseVerdict(c.DefaultVerdict); err != nil {
			return fmt.Errorf("%w: default verdict", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrConfig, c.Mode)
	}
	if c.Timeout <= 0 || c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("%w: timeout/attempts out of range", ErrConfig)
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("%w: backoff out of range", ErrConfig)
	}
	return nil
}

func (c Config) Policy() Policy {
	return Policy{
		Timeout:     c.Timeout,
		MaxAttempts: c.MaxAttempts,
		BackoffBase: c.BackoffBase,
		BackoffMax:  c.BackoffMax,
	}
}

// Open builds the configured gate wrapped in Resilient. The returned close
// function releases the gate's connections.
func Open(cfg Config, obs Observer, log *slog.Logger) (Gate, func() error, error) {
	noop := func() error { return nil }

	var inner Gate
	closeFn := noop
	switch cfg.Mode {
	case ModeStatic:
		v, err := ParseVerdict(cfg.StaticVerdict)
		if err != nil {
			return nil, noop, err
		}
		inner = NewStaticGate(v)
	case ModeHTTP:
		g, err := NewHTTPGate(cfg.URL, cfg.APIToken, &http.Client{Transport: http.DefaultTransport})
		if err != nil {
			return nil, noop, err
		}
		inner = g
	case ModeRedis:
		def, err := ParseVerdict(cfg.DefaultVerdict)
		if err != nil {
			return nil, noop, err
		}
		client, err := NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, noop, err
		}
		inner = NewRedisGate(client, def, cfg.StreamTTL)
		closeFn = client.Close
	default:
		return nil, noop, fmt.Errorf("%w: unknown mode %q", ErrConfig, cfg.Mode)
	}

	return NewResilient(inner, cfg.Policy(), obs, log), closeFn, nil
}
