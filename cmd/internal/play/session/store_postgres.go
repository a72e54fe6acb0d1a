package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `
	id, principal_id, resource_id, state, expires_at, last_heartbeat_at,
	renewal_count, billing_state, created_at, updated_at`

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore constructs a PostgresStore over schema.play_sessions.
// An empty schema means "playgate".
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "playgate"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{schema, "play_sessions"}.Sanitize(),
	}, nil
}

// Supersede runs under a transaction-scoped advisory lock keyed by the
// principal, so concurrent starts for one principal queue behind each other.
// The partial unique index on ACTIVE rows backs this up.
func (s *PostgresStore) Supersede(ctx context.Context, now time.Time, sess Session) ([]Session, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sess.PrincipalID); err != nil {
		return nil, fmt.Errorf("session: lock principal: %w", err)
	}

	rows, err := tx.Query(ctx, `
		UPDATE `+s.table+`
		SET state = 'ENDED', updated_at = $2
		WHERE principal_id = $1 AND state = 'ACTIVE'
		RETURNING `+sessionColumns, sess.PrincipalID, now)
	if err != nil {
		return nil, fmt.Errorf("session: end previous: %w", err)
	}
	ended, err := collectSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("session: end previous: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO `+s.table+` (
			id, principal_id, resource_id, state, expires_at, last_heartbeat_at,
			renewal_count, billing_state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sess.ID, sess.PrincipalID, sess.ResourceID, string(sess.State), sess.ExpiresAt, sess.LastHeartbeatAt,
		sess.RenewalCount, sess.BillingState, sess.CreatedAt, sess.UpdatedAt); err != nil {
		return nil, fmt.Errorf("session: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ended, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM `+s.table+` WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *PostgresStore) Transition(ctx context.Context, now time.Time, id string, to State, billingState string) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE `+s.table+`
		SET state = $3,
		    billing_state = COALESCE(NULLIF($4, ''), billing_state),
		    updated_at = $2
		WHERE id = $1
		  AND state = 'ACTIVE'
		  AND ($3 <> 'EXPIRED' OR expires_at < $2)
		RETURNING `+sessionColumns, id, now, string(to), billingState)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, s.missOrStale(ctx, id)
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, id string, billingState string) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE `+s.table+`
		SET state = 'REVOKED',
		    billing_state = COALESCE(NULLIF($3, ''), billing_state),
		    updated_at = $2
		WHERE id = $1
		  AND state <> 'REVOKED'
		RETURNING `+sessionColumns, id, now, billingState)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, s.missOrStale(ctx, id)
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *PostgresStore) Renew(ctx context.Context, now time.Time, id string, expiresAt time.Time) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE `+s.table+`
		SET expires_at = $3,
		    last_heartbeat_at = $2,
		    renewal_count = renewal_count + 1,
		    billing_state = 'OK',
		    updated_at = $2
		WHERE id = $1
		  AND state = 'ACTIVE'
		  AND expires_at > $2
		  AND expires_at < $3
		RETURNING `+sessionColumns, id, now, expiresAt)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, s.missOrStale(ctx, id)
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table+`
		WHERE state = 'ACTIVE' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (s *PostgresStore) missOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStale
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		sess  Session
		state string
	)
	err := r.Scan(
		&sess.ID,
		&sess.PrincipalID,
		&sess.ResourceID,
		&state,
		&sess.ExpiresAt,
		&sess.LastHeartbeatAt,
		&sess.RenewalCount,
		&sess.BillingState,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	sess.State = State(state)
	sess.ID = strings.TrimSpace(sess.ID)
	return sess, nil
}

func collectSessions(rows pgx.Rows) ([]Session, error) {
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
