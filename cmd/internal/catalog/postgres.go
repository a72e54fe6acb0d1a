package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog reads resources and assets from the playgate schema.
// The pool is owned by the caller.
type PostgresCatalog struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresCatalog constructs a PostgresCatalog. An empty schema means "playgate".
func NewPostgresCatalog(pool *pgxpool.Pool, schema string) (*PostgresCatalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("catalog: nil pool")
	}
	if schema == "" {
		schema = "playgate"
	}
	return &PostgresCatalog{pool: pool, schema: schema}, nil
}

func (c *PostgresCatalog) FindActiveByID(ctx context.Context, id string) (Resource, error) {
	norm, err := NormalizeID(id)
	if err != nil {
		return Resource{}, err
	}

	var r Resource
	err = c.pool.QueryRow(ctx, `
		SELECT id::text, title, active, created_at
		FROM `+c.table("resources")+`
		WHERE id = $1 AND active
	`, norm).Scan(&r.ID, &r.Title, &r.Active, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("catalog: find resource: %w", err)
	}
	return r, nil
}

func (c *PostgresCatalog) FindAsset(ctx context.Context, id string) (Asset, error) {
	norm, err := NormalizeID(id)
	if err != nil {
		return Asset{}, ErrNotFound
	}

	var a Asset
	err = c.pool.QueryRow(ctx, `
		SELECT id::text, resource_id::text, path, size_bytes, mime_type
		FROM `+c.table("assets")+`
		WHERE id = $1
	`, norm).Scan(&a.ID, &a.ResourceID, &a.Path, &a.SizeBytes, &a.MimeType)
	if errors.Is(err, pgx.ErrNoRows) {
		return Asset{}, ErrNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("catalog: find asset: %w", err)
	}
	a.MimeType = a.ContentType()
	return a, nil
}

func (c *PostgresCatalog) table(name string) string {
	return pgx.Identifier{c.schema, name}.Sanitize()
}
