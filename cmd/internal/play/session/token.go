package session

import (
	"fmt"
	"strings"
	"time"
)

// Payload is the session identity carried by a token.
type Payload struct {
	SessionID            string
	PrincipalID          string
	ResourceID           string
	HeartbeatIntervalSec int
}

// Claims is a verified Payload plus the token's own timestamps.
type Claims struct {
	Payload
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer signs and verifies session tokens.
//
// A verified token proves only that it was issued and has not clock-expired.
// It does not prove the session is still ACTIVE.
//
// Sign embeds timestamps at whole-second precision and returns the expiry
// exactly as written into the token.
type TokenIssuer interface {
	Sign(p Payload, ttl time.Duration, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (Claims, error)
}

// NewTokenIssuer builds the issuer selected by cfg.TokenFormat.
func NewTokenIssuer(cfg Config) (TokenIssuer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.TokenFormat)) {
	case "", TokenFormatPaseto:
		return NewPasetoV4PublicIssuer(cfg)
	case TokenFormatJWT:
		return NewJWTIssuer(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown token format %q", ErrConfig, cfg.TokenFormat)
	}
}

func (p Payload) valid() bool {
	return p.SessionID != "" && p.PrincipalID != "" && p.ResourceID != "" && p.HeartbeatIntervalSec > 0
}

// tokenWindow truncates both ends of [now, now+ttl] to whole seconds, the
// precision both token formats carry.
func tokenWindow(now time.Time, ttl time.Duration) (iat, exp time.Time, err error) {
	iat = now.Truncate(time.Second)
	exp = now.Add(ttl).Truncate(time.Second)
	if !exp.After(iat) {
		return time.Time{}, time.Time{}, fmt.Errorf("session: sign: ttl %s below token precision", ttl)
	}
	return iat, exp, nil
}
