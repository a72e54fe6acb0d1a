package session

import (
	"context"
	"time"
)

// State is the lifecycle state of a play session.
type State string

const (
	StateActive  State = "ACTIVE"
	StateEnded   State = "ENDED"
	StateRevoked State = "REVOKED"
	StateExpired State = "EXPIRED"
)

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool { return s != StateActive }

// Session mirrors a play_sessions row.
type Session struct {
	ID              string
	PrincipalID     string
	ResourceID      string
	State           State
	ExpiresAt       time.Time
	LastHeartbeatAt *time.Time
	RenewalCount    int
	BillingState    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Live reports whether the session is ACTIVE and unexpired at now.
func (s Session) Live(now time.Time) bool {
	return s.State == StateActive && s.ExpiresAt.After(now)
}

// Matches reports whether the session belongs to the given identifiers.
// An empty resourceID matches any resource.
func (s Session) Matches(principalID, resourceID string) bool {
	if s.PrincipalID != principalID {
		return false
	}
	return resourceID == "" || s.ResourceID == resourceID
}

// Store abstracts persistence for play sessions.
//
// All mutations except Revoke are conditional on state = ACTIVE. A guard that
// matches no row returns ErrStale when the id exists and ErrNotFound when it
// does not.
type Store interface {
	// Supersede ends every ACTIVE session of s.PrincipalID and inserts s, atomically.
	// It returns the sessions it ended.
	Supersede(ctx context.Context, now time.Time, s Session) (ended []Session, err error)

	// Get loads a session by id.
	Get(ctx context.Context, id string) (Session, error)

	// Transition moves an ACTIVE session to a terminal state. A non-empty
	// billingState replaces the stored one. For StateExpired the row must also
	// be past its expiry at now.
	Transition(ctx context.Context, now time.Time, id string, to State, billingState string) (Session, error)

	// Revoke moves a session in any state other than REVOKED to REVOKED and
	// sets its billing state. An already REVOKED row returns ErrStale.
	Revoke(ctx context.Context, now time.Time, id string, billingState string) (Session, error)

	// Renew extends an ACTIVE, unexpired session to expiresAt, which must be
	// later than the stored expiry. It records the heartbeat, increments the
	// renewal count and sets the billing state to OK.
	Renew(ctx context.Context, now time.Time, id string, expiresAt time.Time) (Session, error)

	// ListExpired returns up to limit ACTIVE sessions whose expiry is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Session, error)
}
