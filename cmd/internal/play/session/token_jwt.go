package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"playgate/cmd/security/token"
)

const jwtKeyPurpose = "playgate.session.hs256"

type jwtClaims struct {
	SessionID            string `json:"sid"`
	PrincipalID          string `json:"uid"`
	ResourceID           string `json:"gid"`
	HeartbeatIntervalSec int    `json:"hb"`
	jwt.RegisteredClaims
}

type jwtIssuer struct {
	issuer    string
	clockSkew time.Duration
	key       []byte
}

// NewJWTIssuer builds an HS256 TokenIssuer. The signing key is derived from
// cfg.JWTSecret with HKDF so the raw secret never signs directly.
func NewJWTIssuer(cfg Config) (TokenIssuer, error) {
	secret, err := token.ValidateSecret(cfg.JWTSecret, token.MinSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: jwt secret: %v", ErrConfig, err)
	}
	key, err := token.DeriveKey(secret, jwtKeyPurpose, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: jwt key: %v", ErrConfig, err)
	}
	return &jwtIssuer{issuer: cfg.Issuer, clockSkew: cfg.ClockSkew, key: key}, nil
}

func (m *jwtIssuer) Sign(p Payload, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if !p.valid() || ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("session: sign: incomplete payload")
	}
	iat, exp, err := tokenWindow(now, ttl)
	if err != nil {
		return "", time.Time{}, err
	}

	claims := jwtClaims{
		SessionID:            p.SessionID,
		PrincipalID:          p.PrincipalID,
		ResourceID:           p.ResourceID,
		HeartbeatIntervalSec: p.HeartbeatIntervalSec,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *jwtIssuer) Verify(tok string, now time.Time) (Claims, error) {
	var claims jwtClaims
	_, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return Claims{}, ErrInvalidToken
	}

	c := Claims{
		Payload: Payload{
			SessionID:            claims.SessionID,
			PrincipalID:          claims.PrincipalID,
			ResourceID:           claims.ResourceID,
			HeartbeatIntervalSec: claims.HeartbeatIntervalSec,
		},
	}
	if !c.valid() {
		return Claims{}, ErrInvalidToken
	}
	if claims.IssuedAt != nil {
		c.IssuedAt = claims.IssuedAt.Time
	}
	c.ExpiresAt = claims.ExpiresAt.Time
	return c, nil
}
