package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"playgate/cmd/internal/config"
)

// ErrConfig indicates invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"PLAYGATE_HTTP_ADDR"  envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"PLAYGATE_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"PLAYGATE_LOG_FORMAT" envDefault:"json"`
	LogColor  bool   `env:"PLAYGATE_LOG_COLOR"  envDefault:"true"`

	ReadHeaderTimeout time.Duration `env:"PLAYGATE_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"PLAYGATE_HTTP_READ_TIMEOUT"        envDefault:"15s"`
	// WriteTimeout bounds non-streaming responses only; asset and event routes
	// clear it per request.
	WriteTimeout    time.Duration `env:"PLAYGATE_HTTP_WRITE_TIMEOUT"     envDefault:"15s"`
	IdleTimeout     time.Duration `env:"PLAYGATE_HTTP_IDLE_TIMEOUT"      envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"PLAYGATE_HTTP_SHUTDOWN_TIMEOUT"  envDefault:"10s"`
	MaxHeaderBytes  int           `env:"PLAYGATE_HTTP_MAX_HEADER_BYTES"  envDefault:"1048576"`

	DatabaseURL string `env:"PLAYGATE_DATABASE_URL"`
	DBSchema    string `env:"PLAYGATE_DB_SCHEMA"     envDefault:"playgate"`
	DBMaxConns  int32  `env:"PLAYGATE_DB_MAX_CONNS"  envDefault:"10"`
	DBMinConns  int32  `env:"PLAYGATE_DB_MIN_CONNS"  envDefault:"0"`

	// SQLitePath selects the single-file store when no DatabaseURL is set.
	SQLitePath string `env:"PLAYGATE_SQLITE_PATH"`

	// CatalogSeed is a JSON file of principals, resources and assets loaded at
	// startup into the memory or SQLite store.
	CatalogSeed string `env:"PLAYGATE_CATALOG_SEED"`

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool `env:"PLAYGATE_READINESS_REQUIRE_DB" envDefault:"false"`

	CORSAllowedOrigins   []string `env:"PLAYGATE_CORS_ALLOWED_ORIGINS"   envSeparator:","`
	CORSAllowCredentials bool     `env:"PLAYGATE_CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"PLAYGATE_CORS_MAX_AGE_SECONDS"   envDefault:"600"`

	MetricsNamespace string `env:"PLAYGATE_METRICS_NAMESPACE" envDefault:"playgate"`
	OTelEndpoint     string `env:"PLAYGATE_OTEL_ENDPOINT"`
	ServiceName      string `env:"PLAYGATE_SERVICE_NAME"      envDefault:"playgate"`

	// Security policy:
	// If false, a missing token signing key is replaced by an ephemeral one.
	// Tokens then do not survive a restart.
	RequireTokenKey bool `env:"PLAYGATE_REQUIRE_TOKEN_KEY" envDefault:"true"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.CORSAllowedOrigins = normalizeOrigins(cfg.CORSAllowedOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: http addr is required", ErrConfig)
	}
	switch c.LogFormat {
	case "", "json", "text", "pretty":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrConfig, c.LogFormat)
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("%w: db pool bounds out of range", ErrConfig)
	}
	if c.CORSMaxAgeSeconds < 0 {
		return fmt.Errorf("%w: cors max age must be >= 0", ErrConfig)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
