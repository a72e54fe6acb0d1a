package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"playgate/cmd/internal/storage/sqlitedb"
)

// SQLiteDirectory implements Directory over the embedded SQLite database.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory wraps an open database (see sqlitedb.Open).
func NewSQLiteDirectory(db *sql.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

// FindByID loads a principal by id.
func (d *SQLiteDirectory) FindByID(ctx context.Context, id string) (Principal, error) {
	const op = "identity.FindByID"

	norm, err := NormalizePrincipalID(id)
	if err != nil {
		return Principal{}, err
	}

	var (
		p         Principal
		status    string
		createdAt int64
	)
	err = d.db.QueryRowContext(ctx, `
		SELECT id, status, created_at FROM principals WHERE id = ?
	`, norm).Scan(&p.ID, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Principal{}, notFound(op)
	}
	if err != nil {
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	p.Status = Status(status)
	p.CreatedAt = sqlitedb.FromMillis(createdAt)
	return p, nil
}

// Upsert inserts or updates a principal. Used by seeding and tests.
func (d *SQLiteDirectory) Upsert(ctx context.Context, p Principal) error {
	norm, err := NormalizePrincipalID(p.ID)
	if err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if !p.Status.Valid() {
		return invalid("identity.SQLiteDirectory.Upsert", "unknown status "+string(p.Status))
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO principals (id, status, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status
	`, norm, string(p.Status), sqlitedb.ToMillis(p.CreatedAt))
	return err
}
