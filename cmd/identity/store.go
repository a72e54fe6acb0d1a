package identity

import (
	"context"
	"time"
)

// Status is the account status of a principal.
type Status string

const (
	// StatusActive principals may start play sessions.
	StatusActive Status = "active"
	// StatusBlocked principals are refused at session start.
	StatusBlocked Status = "blocked"
)

// Principal is the authenticated account that owns play sessions.
type Principal struct {
	ID        string
	Status    Status
	CreatedAt time.Time
}

// Valid reports whether s is a status the directory stores.
func (s Status) Valid() bool { return s == StatusActive || s == StatusBlocked }

// Blocked reports whether the principal is barred from starting sessions.
func (p Principal) Blocked() bool { return p.Status == StatusBlocked }

// Directory looks up principals. Implementations return NotFoundError for unknown ids.
type Directory interface {
	FindByID(ctx context.Context, id string) (Principal, error)
}
