package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema identifiers are validated and quoted.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "playgate").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{pool: pool, schema: "playgate"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

// FindByID loads a principal by id.
func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (Principal, error) {
	const op = "identity.FindByID"

	norm, err := NormalizePrincipalID(id)
	if err != nil {
		return Principal{}, err
	}

	var (
		p      Principal
		status string
	)
	err = d.pool.QueryRow(ctx, `
		SELECT id::text, status, created_at
		FROM `+pgIdent(d.schema, "principals")+`
		WHERE id = $1
	`, norm).Scan(&p.ID, &status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, notFound(op)
	}
	if err != nil {
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	p.Status = Status(status)
	return p, nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}
