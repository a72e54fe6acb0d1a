package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"playgate/cmd/identity"
	"playgate/cmd/internal/catalog"
	"playgate/cmd/internal/config"
	playapi "playgate/cmd/internal/play/api"
	"playgate/cmd/internal/play/session"
	"playgate/cmd/internal/storage/sqlitedb"
)

// Store kinds reported in logs and /readyz.
const (
	storePostgres = "postgres"
	storeSQLite   = "sqlite"
	storeMemory   = "memory"
)

// backends are the storage-facing collaborators of the session manager.
// Exactly one of pool and sqlDB is set unless kind is memory.
type backends struct {
	kind string

	sessions   session.Store
	principals identity.Directory
	catalog    catalog.Catalog
	audit      playapi.AuditSink

	pool  *pgxpool.Pool
	sqlDB *sql.DB
}

// Close releases the database handles; the app owns their lifecycle.
func (b *backends) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.sqlDB != nil {
		return b.sqlDB.Close()
	}
	return nil
}

// Ping reports whether the configured database is reachable.
func (b *backends) Ping(ctx context.Context) error {
	switch {
	case b.pool != nil:
		return PingDB(ctx, b.pool, pingTimeout)
	case b.sqlDB != nil:
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return b.sqlDB.PingContext(pctx)
	default:
		return nil
	}
}

func (b *backends) dbEnabled() bool { return b.pool != nil || b.sqlDB != nil }

// openBackends picks Postgres when PLAYGATE_DATABASE_URL is set, then SQLite
// when PLAYGATE_SQLITE_PATH is set, and falls back to in-memory stores.
func openBackends(ctx context.Context, cfg Config, log Logger) (*backends, error) {
	seed, err := loadSeed(cfg.CatalogSeed)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		if cfg.CatalogSeed != "" {
			log.Warn("catalog.seed.ignored", "reason", "postgres catalog is managed by migrations")
		}
		return openPostgres(ctx, cfg, log)
	case strings.TrimSpace(cfg.SQLitePath) != "":
		return openSQLite(ctx, cfg, seed, log)
	default:
		return openMemory(seed, log)
	}
}

func openPostgres(ctx context.Context, cfg Config, log Logger) (*backends, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := &backends{kind: storePostgres, pool: pool}
	if err := func() error {
		var err error
		if b.sessions, err = session.NewPostgresStore(pool, cfg.DBSchema); err != nil {
			return err
		}
		if b.principals, err = identity.NewPostgresDirectory(pool, identity.WithSchema(cfg.DBSchema)); err != nil {
			return err
		}
		if b.catalog, err = catalog.NewPostgresCatalog(pool, cfg.DBSchema); err != nil {
			return err
		}
		audit, err := playapi.NewPostgresAudit(pool, cfg.DBSchema, log)
		if err != nil {
			return err
		}
		b.audit = audit
		return nil
	}(); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return b, nil
}

func openSQLite(ctx context.Context, cfg Config, seed *catalog.Seed, log Logger) (*backends, error) {
	db, err := sqlitedb.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	cat := catalog.NewSQLiteCatalog(db)
	dir := identity.NewSQLiteDirectory(db)
	if seed != nil {
		if err := seedSQLite(ctx, *seed, cat, dir); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath, "seeded", seed != nil)
	return &backends{
		kind:       storeSQLite,
		sessions:   session.NewSQLiteStore(db),
		principals: dir,
		catalog:    cat,
		sqlDB:      db,
	}, nil
}

func openMemory(seed *catalog.Seed, log Logger) (*backends, error) {
	cat := catalog.NewMemoryCatalog()
	dir := identity.NewMemoryDirectory()
	if seed != nil {
		if err := seed.Apply(cat); err != nil {
			return nil, err
		}
		for _, p := range seed.Principals {
			if err := dir.Put(identity.Principal{ID: p.ID, Status: seedStatus(p)}); err != nil {
				return nil, fmt.Errorf("seed principal %q: %w", p.ID, err)
			}
		}
	}

	log.Info("db.disabled.inmemory_store", "seeded", seed != nil)
	return &backends{
		kind:       storeMemory,
		sessions:   session.NewMemoryStore(),
		principals: dir,
		catalog:    cat,
	}, nil
}

func seedSQLite(ctx context.Context, seed catalog.Seed, cat *catalog.SQLiteCatalog, dir *identity.SQLiteDirectory) error {
	for _, p := range seed.Principals {
		if err := dir.Upsert(ctx, identity.Principal{ID: p.ID, Status: seedStatus(p)}); err != nil {
			return fmt.Errorf("seed principal %q: %w", p.ID, err)
		}
	}
	return seed.ApplySQLite(ctx, cat)
}

func seedStatus(p catalog.SeedPrincipal) identity.Status {
	if p.Blocked {
		return identity.StatusBlocked
	}
	return identity.StatusActive
}

func loadSeed(path string) (*catalog.Seed, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	seed, err := catalog.LoadSeedFile(path)
	if err != nil {
		return nil, err
	}
	return &seed, nil
}

// loadSessionConfig parses PLAYGATE_SESSION_* without requiring key material.
func loadSessionConfig() (session.Config, error) {
	var sc session.Config
	if err := config.ParseEnv(&sc); err != nil {
		return session.Config{}, fmt.Errorf("%w: %v", session.ErrConfig, err)
	}
	sc.TokenFormat = strings.ToLower(strings.TrimSpace(sc.TokenFormat))
	return sc, nil
}
