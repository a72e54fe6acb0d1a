package session

import (
	"fmt"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4PublicIssuer struct {
	issuer    string
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicIssuer builds a TokenIssuer based on PASETO v4.public.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer and expiration rules.
// Clock skew is applied during verification via ValidAt to tolerate minor clock differences.
func NewPasetoV4PublicIssuer(cfg Config) (TokenIssuer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: paseto secret key", ErrConfig)
	}

	return &pasetoV4PublicIssuer{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicIssuer) Sign(p Payload, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if !p.valid() || ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("session: sign: incomplete payload")
	}
	iat, exp, err := tokenWindow(now, ttl)
	if err != nil {
		return "", time.Time{}, err
	}

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(iat)
	tok.SetNotBefore(iat)
	tok.SetExpiration(exp)

	_ = tok.Set("sid", p.SessionID)
	_ = tok.Set("uid", p.PrincipalID)
	_ = tok.Set("gid", p.ResourceID)
	_ = tok.Set("hb", p.HeartbeatIntervalSec)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicIssuer) Verify(token string, now time.Time) (Claims, error) {
	// Validate slightly in the future so "nbf" survives small clock differences;
	// expiry becomes stricter by the same amount.
	validNow := now.Add(m.clockSkew)

	// Fresh parser per call so rules do not accumulate. NewParser would add a
	// wall-clock expiry rule; ValidAt is the only time check.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	var c Claims
	if c.SessionID, err = parsed.GetString("sid"); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if c.PrincipalID, err = parsed.GetString("uid"); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if c.ResourceID, err = parsed.GetString("gid"); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if err := parsed.Get("hb", &c.HeartbeatIntervalSec); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if !c.valid() {
		return Claims{}, ErrInvalidToken
	}

	c.IssuedAt, c.ExpiresAt = iat, exp
	return c, nil
}
