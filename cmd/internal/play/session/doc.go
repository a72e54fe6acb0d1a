// Package session implements the play-session lifecycle.
//
// A play session grants one principal time-boxed access to one resource. It is
// created ACTIVE by Manager.Start, kept alive by Manager.Heartbeat, and leaves
// ACTIVE exactly once, to ENDED (stop or superseded), REVOKED (billing or
// policy) or EXPIRED (sweep). Terminal sessions are never resurrected and
// never deleted.
//
// Every state change is a conditional update guarded by state = 'ACTIVE', so a
// heartbeat racing the expiry sweep cannot undo the sweep's decision, or the
// other way around. A zero-row update surfaces as ErrStale.
//
// Session tokens (TokenIssuer) only prove issuance. Privileged callers verify a
// token and then call Manager.AssertActive with its identifiers.
package session
