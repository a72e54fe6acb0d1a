package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyStore fails transitions for selected ids.
type flakyStore struct {
	*MemoryStore

	mu   sync.Mutex
	fail map[string]bool
}

func (f *flakyStore) Transition(ctx context.Context, now time.Time, id string, to State, billingState string) (Session, error) {
	f.mu.Lock()
	bad := f.fail[id]
	f.mu.Unlock()
	if bad {
		return Session{}, errors.New("disk on fire")
	}
	return f.MemoryStore.Transition(ctx, now, id, to, billingState)
}

func TestCleanupExpired_ExpiresAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.SweepConcurrency = 2 })
	ctx := context.Background()

	gA, _ := h.start(t, principalA, resourceG1)
	gB, _ := h.start(t, principalB, resourceG1)

	flaky := &flakyStore{MemoryStore: h.store, fail: map[string]bool{gA.SessionID: true}}
	h.mgr.store = flaky

	res, err := h.mgr.CleanupExpired(ctx, h.now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if res.Expired != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 expired and 1 failed, got %+v", res)
	}

	sessB, _ := h.store.Get(ctx, gB.SessionID)
	if sessB.State != StateExpired {
		t.Fatalf("expected healthy session EXPIRED, got %s", sessB.State)
	}
	if h.gate.Streaming(gB.SessionID) {
		t.Fatalf("expected expired stream stopped")
	}
	sessA, _ := h.store.Get(ctx, gA.SessionID)
	if sessA.State != StateActive {
		t.Fatalf("expected failed session untouched, got %s", sessA.State)
	}
}

func TestCleanupExpired_LeavesLiveSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	g, _ := h.start(t, principalA, resourceG1)

	res, err := h.mgr.CleanupExpired(context.Background(), h.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if res.Expired != 0 {
		t.Fatalf("expected nothing expired, got %+v", res)
	}
	sess, _ := h.store.Get(context.Background(), g.SessionID)
	if sess.State != StateActive {
		t.Fatalf("expected ACTIVE, got %s", sess.State)
	}
}

func TestSweepAndHeartbeatDoNotResurrect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	g, c := h.start(t, principalA, resourceG1)

	late := h.now.Add(5*time.Minute + time.Second)
	if _, err := h.mgr.CleanupExpired(ctx, late); err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}

	// A heartbeat that read the row before the sweep still loses the CAS.
	if _, err := h.store.Renew(ctx, h.now, g.SessionID, late.Add(5*time.Minute)); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale renewing an expired session, got %v", err)
	}
	if _, err := h.mgr.Heartbeat(ctx, h.now, c.SessionID, c.PrincipalID, c.ResourceID); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected heartbeat after sweep to fail, got %v", err)
	}
	sess, _ := h.store.Get(ctx, g.SessionID)
	if sess.State != StateExpired {
		t.Fatalf("expected EXPIRED to stick, got %s", sess.State)
	}
}

func TestSweepSkipsSessionRenewedAfterListing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	g, _ := h.start(t, principalA, resourceG1)

	// Renewed past the sweep instant after ListExpired saw it.
	if _, err := h.store.Renew(ctx, h.now, g.SessionID, h.now.Add(time.Hour)); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	done, err := h.mgr.expireOne(ctx, h.now.Add(10*time.Minute), Session{ID: g.SessionID})
	if err != nil || done {
		t.Fatalf("expected skip, got done=%v err=%v", done, err)
	}
}

func TestStartSweeper_ExpiresInBackground(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.now = time.Now().Add(-10 * time.Minute)
	g, _ := h.start(t, principalA, resourceG1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.mgr.StartSweeper(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := h.store.Get(context.Background(), g.SessionID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if sess.State == StateExpired {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected sweeper to expire session %s", g.SessionID)
}
