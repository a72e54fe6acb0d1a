package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"playgate/cmd/internal/storage/sqlitedb"
)

// SQLiteCatalog reads resources and assets from the embedded database.
type SQLiteCatalog struct {
	db *sql.DB
}

func NewSQLiteCatalog(db *sql.DB) *SQLiteCatalog {
	return &SQLiteCatalog{db: db}
}

func (c *SQLiteCatalog) FindActiveByID(ctx context.Context, id string) (Resource, error) {
	norm, err := NormalizeID(id)
	if err != nil {
		return Resource{}, err
	}

	var (
		r         Resource
		active    int
		createdAt int64
	)
	err = c.db.QueryRowContext(ctx, `
		SELECT id, title, active, created_at FROM resources WHERE id = ? AND active = 1
	`, norm).Scan(&r.ID, &r.Title, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("catalog: find resource: %w", err)
	}
	r.Active = active == 1
	r.CreatedAt = sqlitedb.FromMillis(createdAt)
	return r, nil
}

func (c *SQLiteCatalog) FindAsset(ctx context.Context, id string) (Asset, error) {
	norm, err := NormalizeID(id)
	if err != nil {
		return Asset{}, ErrNotFound
	}

	var a Asset
	err = c.db.QueryRowContext(ctx, `
		SELECT id, resource_id, path, size_bytes, mime_type FROM assets WHERE id = ?
	`, norm).Scan(&a.ID, &a.ResourceID, &a.Path, &a.SizeBytes, &a.MimeType)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, ErrNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("catalog: find asset: %w", err)
	}
	a.MimeType = a.ContentType()
	return a, nil
}

// PutResource inserts or replaces a resource row.
func (c *SQLiteCatalog) PutResource(ctx context.Context, r Resource) error {
	norm, err := NormalizeID(r.ID)
	if err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	active := 0
	if r.Active {
		active = 1
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO resources (id, title, active, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, active = excluded.active
	`, norm, r.Title, active, sqlitedb.ToMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("catalog: put resource: %w", err)
	}
	return nil
}

// PutAsset inserts or replaces an asset row. The resource must exist.
func (c *SQLiteCatalog) PutAsset(ctx context.Context, a Asset) error {
	id, err := NormalizeID(a.ID)
	if err != nil {
		return err
	}
	rid, err := NormalizeID(a.ResourceID)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO assets (id, resource_id, path, size_bytes, mime_type, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			resource_id = excluded.resource_id,
			path = excluded.path,
			size_bytes = excluded.size_bytes,
			mime_type = excluded.mime_type
	`, id, rid, a.Path, a.SizeBytes, a.ContentType(), sqlitedb.ToMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("catalog: put asset: %w", err)
	}
	return nil
}
