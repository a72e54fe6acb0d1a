package app

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	paseto "aidanwoods.dev/go-paseto"

	"playgate/cmd/internal/play/session"
	"playgate/cmd/security/token"
)

// ValidateSecurityConfig enforces playgate's token key policy at startup and
// fills sc with an ephemeral key when the policy allows it.
//
// Fail-fast under PLAYGATE_REQUIRE_TOKEN_KEY: silently minting throwaway keys
// in production would log every player out on each restart.
func ValidateSecurityConfig(cfg Config, sc *session.Config, log *slog.Logger) error {
	switch sc.TokenFormat {
	case session.TokenFormatJWT:
		_, err := token.ValidateSecret(sc.JWTSecret, token.MinSecretBytes)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, token.ErrSecretTooShort):
			return fmt.Errorf("security policy: PLAYGATE_JWT_SECRET is too short (min %d bytes)", token.MinSecretBytes)
		case cfg.RequireTokenKey:
			return errors.New("security policy: PLAYGATE_REQUIRE_TOKEN_KEY=true but PLAYGATE_JWT_SECRET is missing")
		}
		buf := make([]byte, token.MinSecretBytes)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		sc.JWTSecret = hex.EncodeToString(buf)
	default:
		if strings.TrimSpace(sc.PasetoV4SecretKeyHex) != "" {
			return nil
		}
		if cfg.RequireTokenKey {
			return errors.New("security policy: PLAYGATE_REQUIRE_TOKEN_KEY=true but PLAYGATE_PASETO_V4_SECRET_KEY_HEX is missing")
		}
		sc.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	}

	log.Warn("security.token_key.ephemeral", "format", sc.TokenFormat)
	return nil
}
