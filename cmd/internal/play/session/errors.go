package session

import (
	"errors"
	"fmt"

	"playgate/cmd/internal/play/billing"
)

var (
	// ErrInvalidToken is returned when a session token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionInactive is returned when no ACTIVE, unexpired session matches
	// the presented identifiers.
	ErrSessionInactive = errors.New("session not active")

	// ErrPrincipalBlocked is returned by Start for a blocked principal.
	ErrPrincipalBlocked = errors.New("principal blocked")

	// ErrPrincipalNotFound is returned by Start for an unknown principal.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrResourceNotFound is returned by Start for a missing or inactive resource.
	ErrResourceNotFound = errors.New("resource not found or inactive")

	// ErrBillingDenied is returned after a non-OK billing verdict.
	ErrBillingDenied = errors.New("billing denied")

	// ErrRenewalLimit is returned when a session used up its heartbeats.
	ErrRenewalLimit = errors.New("renewal limit exceeded")

	// ErrBillingUnavailable is returned when the billing provider could not
	// answer. The session is left untouched.
	ErrBillingUnavailable = errors.New("billing unavailable")

	// ErrNotFound is returned by stores when no row has the id.
	ErrNotFound = errors.New("session not found")

	// ErrStale is returned by stores when a conditional update matched no row
	// because the session already left ACTIVE (or, for renewals and expiry,
	// the expiry guard failed).
	ErrStale = errors.New("session already transitioned")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// BillingDeniedError carries the verdict that caused a denial.
type BillingDeniedError struct {
	SessionID string
	Verdict   billing.Verdict
}

func (e BillingDeniedError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %s", ErrBillingDenied, e.Verdict)
	}
	return fmt.Sprintf("%s: session %s: %s", ErrBillingDenied, e.SessionID, e.Verdict)
}

func (e BillingDeniedError) Unwrap() error { return ErrBillingDenied }

// RenewalLimitError carries renewal accounting for a capped session.
type RenewalLimitError struct {
	SessionID string
	Count     int
	Max       int
}

func (e RenewalLimitError) Error() string {
	return fmt.Sprintf("%s: session %s renewed %d/%d times", ErrRenewalLimit, e.SessionID, e.Count, e.Max)
}

func (e RenewalLimitError) Unwrap() error { return ErrRenewalLimit }

// IsUnauthorized reports errors that mean "the caller holds no live session".
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrSessionInactive)
}

// IsForbidden reports policy denials: blocked principals, billing and renewal limits.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrPrincipalBlocked) ||
		errors.Is(err, ErrBillingDenied) ||
		errors.Is(err, ErrRenewalLimit)
}

// IsNotFound reports a missing principal or resource at Start.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPrincipalNotFound) || errors.Is(err, ErrResourceNotFound)
}
