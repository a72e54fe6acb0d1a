package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. A single mutex makes every
// operation, Supersede included, atomic.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Session)}
}

func (m *MemoryStore) Supersede(ctx context.Context, now time.Time, s Session) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var ended []Session
	for id, row := range m.rows {
		if row.PrincipalID == s.PrincipalID && row.State == StateActive {
			row.State = StateEnded
			row.UpdatedAt = now
			m.rows[id] = row
			ended = append(ended, row)
		}
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i].ID < ended[j].ID })

	m.rows[s.ID] = s
	return ended, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return row, nil
}

func (m *MemoryStore) Transition(ctx context.Context, now time.Time, id string, to State, billingState string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if row.State != StateActive {
		return Session{}, ErrStale
	}
	if to == StateExpired && !row.ExpiresAt.Before(now) {
		return Session{}, ErrStale
	}

	row.State = to
	if billingState != "" {
		row.BillingState = billingState
	}
	row.UpdatedAt = now
	m.rows[id] = row
	return row, nil
}

func (m *MemoryStore) Revoke(ctx context.Context, now time.Time, id string, billingState string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if row.State == StateRevoked {
		return Session{}, ErrStale
	}

	row.State = StateRevoked
	if billingState != "" {
		row.BillingState = billingState
	}
	row.UpdatedAt = now
	m.rows[id] = row
	return row, nil
}

func (m *MemoryStore) Renew(ctx context.Context, now time.Time, id string, expiresAt time.Time) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !row.Live(now) || !expiresAt.After(row.ExpiresAt) {
		return Session{}, ErrStale
	}

	hb := now
	row.ExpiresAt = expiresAt
	row.LastHeartbeatAt = &hb
	row.RenewalCount++
	row.BillingState = "OK"
	row.UpdatedAt = now
	m.rows[id] = row
	return row, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, row := range m.rows {
		if row.State == StateActive && row.ExpiresAt.Before(now) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ActiveCount returns the number of ACTIVE sessions of a principal.
func (m *MemoryStore) ActiveCount(principalID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, row := range m.rows {
		if row.PrincipalID == principalID && row.State == StateActive {
			n++
		}
	}
	return n
}
