// Package token provides key-handling primitives for playgate session tokens.
//
// It is the single source of truth for:
//   - validating the shared secret used by the HS256 (JWT) token format,
//   - deriving the signing key from that secret with HKDF-SHA256,
//   - fingerprinting bearer tokens so logs can correlate requests without
//     ever containing token material.
package token
