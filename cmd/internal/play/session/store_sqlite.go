package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"playgate/cmd/internal/storage/sqlitedb"
)

// SQLiteStore implements Store over the embedded SQLite database.
//
// sqlitedb.Open pins the pool to one connection, so the Supersede transaction
// is the only writer while it runs.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Supersede(ctx context.Context, now time.Time, sess Session) ([]Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		UPDATE play_sessions
		SET state = 'ENDED', updated_at = ?
		WHERE principal_id = ? AND state = 'ACTIVE'
		RETURNING `+sessionColumns, sqlitedb.ToMillis(now), sess.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("session: end previous: %w", err)
	}
	ended, err := collectSQLiteSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("session: end previous: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO play_sessions (
			id, principal_id, resource_id, state, expires_at, last_heartbeat_at,
			renewal_count, billing_state, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.PrincipalID, sess.ResourceID, string(sess.State), sqlitedb.ToMillis(sess.ExpiresAt),
		nullMillis(sess.LastHeartbeatAt), sess.RenewalCount, sess.BillingState,
		sqlitedb.ToMillis(sess.CreatedAt), sqlitedb.ToMillis(sess.UpdatedAt)); err != nil {
		return nil, fmt.Errorf("session: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ended, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM play_sessions WHERE id = ?`, id)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *SQLiteStore) Transition(ctx context.Context, now time.Time, id string, to State, billingState string) (Session, error) {
	nowMs := sqlitedb.ToMillis(now)
	row := s.db.QueryRowContext(ctx, `
		UPDATE play_sessions
		SET state = ?,
		    billing_state = COALESCE(NULLIF(?, ''), billing_state),
		    updated_at = ?
		WHERE id = ?
		  AND state = 'ACTIVE'
		  AND (? <> 'EXPIRED' OR expires_at < ?)
		RETURNING `+sessionColumns, string(to), billingState, nowMs, id, string(to), nowMs)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, s.missOrStale(ctx, id)
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *SQLiteStore) Revoke(ctx context.Context, now time.Time, id string, billingState string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE play_sessions
		SET state = 'REVOKED',
		    billing_state = COALESCE(NULLIF(?, ''), billing_state),
		    updated_at = ?
		WHERE id = ?
		  AND state <> 'REVOKED'
		RETURNING `+sessionColumns, billingState, sqlitedb.ToMillis(now), id)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, s.missOrStale(ctx, id)
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *SQLiteStore) Renew(ctx context.Context, now time.Time, id string, expiresAt time.Time) (Session, error) {
	nowMs, expMs := sqlitedb.ToMillis(now), sqlitedb.ToMillis(expiresAt)
	row := s.db.QueryRowContext(ctx, `
		UPDATE play_sessions
		SET expires_at = ?,
		    last_heartbeat_at = ?,
		    renewal_count = renewal_count + 1,
		    billing_state = 'OK',
		    updated_at = ?
		WHERE id = ?
		  AND state = 'ACTIVE'
		  AND expires_at > ?
		  AND expires_at < ?
		RETURNING `+sessionColumns, expMs, nowMs, nowMs, id, nowMs, expMs)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, s.missOrStale(ctx, id)
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM play_sessions
		WHERE state = 'ACTIVE' AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?
	`, sqlitedb.ToMillis(now), limit)
	if err != nil {
		return nil, err
	}
	return collectSQLiteSessions(rows)
}

func (s *SQLiteStore) missOrStale(ctx context.Context, id string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM play_sessions WHERE id = ?`, id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStale
}

func scanSQLiteSession(r rowScanner) (Session, error) {
	var (
		sess                            Session
		state                           string
		expiresAt, createdAt, updatedAt int64
		lastHeartbeat                   sql.NullInt64
	)
	err := r.Scan(
		&sess.ID,
		&sess.PrincipalID,
		&sess.ResourceID,
		&state,
		&expiresAt,
		&lastHeartbeat,
		&sess.RenewalCount,
		&sess.BillingState,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	sess.State = State(state)
	sess.ExpiresAt = sqlitedb.FromMillis(expiresAt)
	sess.CreatedAt = sqlitedb.FromMillis(createdAt)
	sess.UpdatedAt = sqlitedb.FromMillis(updatedAt)
	if lastHeartbeat.Valid {
		t := sqlitedb.FromMillis(lastHeartbeat.Int64)
		sess.LastHeartbeatAt = &t
	}
	return sess, nil
}

func collectSQLiteSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqlitedb.ToMillis(*t)
}
