package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pingTimeout     = 2 * time.Second
	dbAppName       = "playgate"
	dbHealthPeriod  = 30 * time.Second
	dbMaxIdleWindow = 5 * time.Minute
)

// requiredTables must exist in the configured schema before the server
// accepts traffic. db/migrations creates them.
var requiredTables = []string{"principals", "resources", "assets", "play_sessions", "audit_log"}

// NewDBPool connects to Postgres, tags connections with the application name
// and checks that the playgate schema has been migrated.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := newPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, pingTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	if err := checkSchema(ctx, pool, cfg.DBSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func newPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: database url: %v", ErrConfig, err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	pcfg.HealthCheckPeriod = dbHealthPeriod
	pcfg.MaxConnIdleTime = dbMaxIdleWindow
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = dbAppName
	}
	return pcfg, nil
}

// checkSchema reports the first required table missing from schema.
func checkSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	for _, table := range requiredTables {
		var found *string
		qualified := pgx.Identifier{schema, table}.Sanitize()
		if err := pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, qualified).Scan(&found); err != nil {
			return fmt.Errorf("db schema check: %w", err)
		}
		if found == nil {
			return fmt.Errorf("db schema check: %s missing; apply db/migrations first", qualified)
		}
	}
	return nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
