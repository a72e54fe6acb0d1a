package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/golang-jwt/jwt/v5"
)

func testPayload() Payload {
	return Payload{
		SessionID:            "01J0000000000000000000SESS",
		PrincipalID:          "6f1c2d7e-8a9b-4c3d-9e0f-112233445566",
		ResourceID:           "0a1b2c3d-4e5f-4a6b-8c7d-8e9fa0b1c2d3",
		HeartbeatIntervalSec: 45,
	}
}

func pasetoTestConfig() Config {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	return cfg
}

func jwtTestConfig() Config {
	cfg := DefaultConfig()
	cfg.TokenFormat = TokenFormatJWT
	cfg.JWTSecret = strings.Repeat("k", 48)
	return cfg
}

func TestTokenIssuers_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "paseto", cfg: pasetoTestConfig()},
		{name: "jwt", cfg: jwtTestConfig()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			iss, err := NewTokenIssuer(tt.cfg)
			if err != nil {
				t.Fatalf("NewTokenIssuer: %v", err)
			}

			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			tok, exp, err := iss.Sign(testPayload(), 5*time.Minute, now)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if !exp.Equal(now.Add(5 * time.Minute)) {
				t.Fatalf("expected exp=%v, got %v", now.Add(5*time.Minute), exp)
			}

			claims, err := iss.Verify(tok, now)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if claims.Payload != testPayload() {
				t.Fatalf("payload mismatch: %+v", claims.Payload)
			}
			if !claims.ExpiresAt.Equal(exp) || !claims.IssuedAt.Equal(now) {
				t.Fatalf("unexpected timestamps: iat=%v exp=%v", claims.IssuedAt, claims.ExpiresAt)
			}

			if _, err := iss.Verify(tok, now.Add(6*time.Minute)); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected expired token to fail, got %v", err)
			}

			tampered := tok[:len(tok)-4] + "AAAA"
			if tampered == tok {
				tampered = tok[:len(tok)-4] + "BBBB"
			}
			if _, err := iss.Verify(tampered, now); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected tampered token to fail, got %v", err)
			}
		})
	}
}

func TestTokenIssuers_VerifyUsesCallerClock(t *testing.T) {
	t.Parallel()

	for name, cfg := range map[string]Config{"paseto": pasetoTestConfig(), "jwt": jwtTestConfig()} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			iss, err := NewTokenIssuer(cfg)
			if err != nil {
				t.Fatalf("NewTokenIssuer: %v", err)
			}

			// Long expired by the wall clock, valid at the clock it was signed with.
			past := time.Date(2001, 9, 9, 1, 46, 40, 0, time.UTC)
			tok, _, err := iss.Sign(testPayload(), time.Minute, past)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if _, err := iss.Verify(tok, past.Add(30*time.Second)); err != nil {
				t.Fatalf("Verify at signing clock: %v", err)
			}
			if _, err := iss.Verify(tok, time.Now()); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected wall-clock verify to fail, got %v", err)
			}
		})
	}
}

func TestTokenIssuers_SecondPrecision(t *testing.T) {
	t.Parallel()

	for name, cfg := range map[string]Config{"paseto": pasetoTestConfig(), "jwt": jwtTestConfig()} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			iss, err := NewTokenIssuer(cfg)
			if err != nil {
				t.Fatalf("NewTokenIssuer: %v", err)
			}

			now := time.Date(2026, 3, 1, 12, 0, 0, 750*int(time.Millisecond), time.UTC)
			tok, exp, err := iss.Sign(testPayload(), 5*time.Minute, now)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			want := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
			if !exp.Equal(want) {
				t.Fatalf("expected exp=%v, got %v", want, exp)
			}
			claims, err := iss.Verify(tok, now)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if !claims.ExpiresAt.Equal(exp) {
				t.Fatalf("embedded exp %v differs from reported %v", claims.ExpiresAt, exp)
			}

			if _, _, err := iss.Sign(testPayload(), 200*time.Millisecond, now); err == nil {
				t.Fatalf("expected sub-second ttl to be rejected")
			}
		})
	}
}

func TestTokenIssuers_RejectForeignKeysAndIssuers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a, _ := NewTokenIssuer(pasetoTestConfig())
	b, _ := NewTokenIssuer(pasetoTestConfig())
	tok, _, err := a.Sign(testPayload(), time.Minute, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := b.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign paseto key to fail, got %v", err)
	}

	cfg := jwtTestConfig()
	j1, _ := NewTokenIssuer(cfg)
	cfg.Issuer = "someone-else"
	j2, _ := NewTokenIssuer(cfg)
	tok, _, err = j1.Sign(testPayload(), time.Minute, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := j2.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong issuer to fail, got %v", err)
	}
}

func TestJWTIssuer_ClaimNames(t *testing.T) {
	t.Parallel()

	iss, err := NewJWTIssuer(jwtTestConfig())
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	tok, _, err := iss.Sign(testPayload(), time.Minute, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	for _, k := range []string{"sid", "uid", "gid", "hb", "iat", "exp"} {
		if _, ok := claims[k]; !ok {
			t.Fatalf("expected claim %q in %v", k, claims)
		}
	}
	if hb, _ := claims["hb"].(float64); hb != 45 {
		t.Fatalf("expected hb=45, got %v", claims["hb"])
	}
}

func TestTokenIssuer_SignRejectsIncompletePayload(t *testing.T) {
	t.Parallel()

	iss, err := NewTokenIssuer(pasetoTestConfig())
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	p := testPayload()
	p.ResourceID = ""
	if _, _, err := iss.Sign(p, time.Minute, time.Now()); err == nil {
		t.Fatalf("expected error for missing resource id")
	}
}

func TestNewJWTIssuer_ShortSecret(t *testing.T) {
	t.Parallel()

	cfg := jwtTestConfig()
	cfg.JWTSecret = "short"
	if _, err := NewJWTIssuer(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
