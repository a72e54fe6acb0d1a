package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"playgate/cmd/internal/storage/sqlitedb"
)

func newActive(id, principal string, now time.Time, ttl time.Duration) Session {
	hb := now
	return Session{
		ID:              id,
		PrincipalID:     principal,
		ResourceID:      resourceG1,
		State:           StateActive,
		ExpiresAt:       now.Add(ttl),
		LastHeartbeatAt: &hb,
		BillingState:    "OK",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// runStoreContract exercises the guarantees every Store must provide.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ended, err := s.Supersede(ctx, now, newActive("01J0000000000000000000000A", principalA, now, time.Minute))
	if err != nil {
		t.Fatalf("Supersede #1: %v", err)
	}
	if len(ended) != 0 {
		t.Fatalf("expected nothing ended, got %d", len(ended))
	}

	ended, err = s.Supersede(ctx, now.Add(time.Second), newActive("01J0000000000000000000000B", principalA, now, time.Minute))
	if err != nil {
		t.Fatalf("Supersede #2: %v", err)
	}
	if len(ended) != 1 || ended[0].ID != "01J0000000000000000000000A" || ended[0].State != StateEnded {
		t.Fatalf("expected A ended, got %+v", ended)
	}

	got, err := s.Get(ctx, "01J0000000000000000000000B")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != StateActive || got.PrincipalID != principalA || !got.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.LastHeartbeatAt == nil || !got.LastHeartbeatAt.Equal(now) {
		t.Fatalf("unexpected last heartbeat: %v", got.LastHeartbeatAt)
	}

	if _, err := s.Get(ctx, "01J000000000000000000NOPE0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Renew: forward only, active and unexpired only.
	renewed, err := s.Renew(ctx, now.Add(10*time.Second), "01J0000000000000000000000B", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed.RenewalCount != 1 || !renewed.ExpiresAt.Equal(now.Add(2*time.Minute)) {
		t.Fatalf("unexpected renewed row: %+v", renewed)
	}
	if _, err := s.Renew(ctx, now.Add(10*time.Second), "01J0000000000000000000000B", now.Add(time.Minute)); !errors.Is(err, ErrStale) {
		t.Fatalf("expected backwards renew to be stale, got %v", err)
	}
	if _, err := s.Renew(ctx, now.Add(3*time.Minute), "01J0000000000000000000000B", now.Add(10*time.Minute)); !errors.Is(err, ErrStale) {
		t.Fatalf("expected renew past expiry to be stale, got %v", err)
	}
	if _, err := s.Renew(ctx, now, "01J000000000000000000NOPE0", now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Expiry guard.
	if _, err := s.Transition(ctx, now.Add(time.Minute), "01J0000000000000000000000B", StateExpired, ""); !errors.Is(err, ErrStale) {
		t.Fatalf("expected early expire to be stale, got %v", err)
	}
	expired, err := s.ListExpired(ctx, now.Add(3*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "01J0000000000000000000000B" {
		t.Fatalf("expected B listed, got %+v", expired)
	}
	exp, err := s.Transition(ctx, now.Add(3*time.Minute), "01J0000000000000000000000B", StateExpired, "")
	if err != nil {
		t.Fatalf("Transition expire: %v", err)
	}
	if exp.State != StateExpired || exp.BillingState != "OK" {
		t.Fatalf("unexpected expired row: %+v", exp)
	}

	// Terminal is terminal.
	if _, err := s.Transition(ctx, now.Add(4*time.Minute), "01J0000000000000000000000B", StateRevoked, "STOPPED"); !errors.Is(err, ErrStale) {
		t.Fatalf("expected revoke of expired session to be stale, got %v", err)
	}
	if _, err := s.Transition(ctx, now, "01J000000000000000000NOPE0", StateEnded, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Revoke records the reason.
	if _, err := s.Supersede(ctx, now, newActive("01J0000000000000000000000C", principalB, now, time.Hour)); err != nil {
		t.Fatalf("Supersede C: %v", err)
	}
	rev, err := s.Transition(ctx, now, "01J0000000000000000000000C", StateRevoked, "INSUFFICIENT")
	if err != nil {
		t.Fatalf("Transition revoke: %v", err)
	}
	if rev.State != StateRevoked || rev.BillingState != "INSUFFICIENT" {
		t.Fatalf("unexpected revoked row: %+v", rev)
	}

	// Explicit revoke reaches terminal rows too, once.
	forced, err := s.Revoke(ctx, now.Add(5*time.Minute), "01J0000000000000000000000B", "ADMIN")
	if err != nil {
		t.Fatalf("Revoke expired: %v", err)
	}
	if forced.State != StateRevoked || forced.BillingState != "ADMIN" {
		t.Fatalf("unexpected force-revoked row: %+v", forced)
	}
	if _, err := s.Revoke(ctx, now.Add(5*time.Minute), "01J0000000000000000000000B", "ADMIN"); !errors.Is(err, ErrStale) {
		t.Fatalf("expected second revoke to be stale, got %v", err)
	}
	if _, err := s.Revoke(ctx, now, "01J000000000000000000NOPE0", "ADMIN"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Limit is honoured.
	for i, id := range []string{"01J0000000000000000000000D", "01J0000000000000000000000E", "01J0000000000000000000000F"} {
		p := []string{principalA, principalB, blockedID}[i]
		if _, err := s.Supersede(ctx, now, newActive(id, p, now, time.Second)); err != nil {
			t.Fatalf("Supersede %s: %v", id, err)
		}
	}
	expired, err = s.ListExpired(ctx, now.Add(time.Minute), 2)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expected limit 2, got %d", len(expired))
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore_Contract(t *testing.T) {
	t.Parallel()

	db, err := sqlitedb.Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	runStoreContract(t, NewSQLiteStore(db))
}

func TestSQLiteStore_UniqueActiveIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSQLiteStore(db)
	if _, err := s.Supersede(ctx, now, newActive("01J0000000000000000000000A", principalA, now, time.Minute)); err != nil {
		t.Fatalf("Supersede: %v", err)
	}

	// A raw insert that skips Supersede must hit the partial unique index.
	_, err = db.ExecContext(ctx, `
		INSERT INTO play_sessions (id, principal_id, resource_id, state, expires_at, renewal_count, billing_state, created_at, updated_at)
		VALUES ('01J0000000000000000000000Z', ?, ?, 'ACTIVE', 0, 0, 'OK', 0, 0)
	`, principalA, resourceG1)
	if err == nil {
		t.Fatalf("expected unique index violation for a second ACTIVE row")
	}
}
