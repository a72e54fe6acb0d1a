package session

import (
	"context"
	"time"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventStarted EventType = "session.started"
	EventRenewed EventType = "session.renewed"
	EventEnded   EventType = "session.ended"
	EventRevoked EventType = "session.revoked"
	EventExpired EventType = "session.expired"
)

// Terminal reports whether the event is the session's last.
func (t EventType) Terminal() bool {
	return t == EventEnded || t == EventRevoked || t == EventExpired
}

// Event is published after every successful transition.
type Event struct {
	Type        EventType
	SessionID   string
	PrincipalID string
	ResourceID  string
	State       State
	// Reason is "stop", "superseded", "start_failed", a billing verdict or
	// "renewal_limit" depending on the transition.
	Reason    string
	ExpiresAt time.Time
	At        time.Time
}

// Notifier receives lifecycle events. Publish must not block on slow consumers.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// Notifiers fans an event out to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Publish(ctx context.Context, ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Publish(ctx, ev)
		}
	}
}

func newEvent(t EventType, s Session, reason string, now time.Time) Event {
	return Event{
		Type:        t,
		SessionID:   s.ID,
		PrincipalID: s.PrincipalID,
		ResourceID:  s.ResourceID,
		State:       s.State,
		Reason:      reason,
		ExpiresAt:   s.ExpiresAt,
		At:          now,
	}
}
