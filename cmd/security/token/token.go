package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MinSecretBytes is the minimum accepted length of an HS256 shared secret.
const MinSecretBytes = 32

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Fingerprint returns a short, stable, non-reversible identifier for a bearer
// token, suitable for log correlation. Empty input yields "".
func Fingerprint(tok string) string {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return ""
	}
	return HashSHA256Hex(tok)[:16]
}

// ValidateSecret trims raw and enforces a minimum byte length.
// Bytes are measured, not runes, because the secret is used as raw key material.
func ValidateSecret(raw string, minBytes int) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, ErrSecretMissing
	}
	b := []byte(s)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrSecretTooShort
	}
	return b, nil
}

// DeriveKey expands secret into an n-byte key bound to purpose (HKDF-SHA256).
// Different purposes yield independent keys from the same operator secret.
func DeriveKey(secret []byte, purpose string, n int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	if n <= 0 {
		n = sha256.Size
	}
	out := make([]byte, n)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
