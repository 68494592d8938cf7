// Package token provides token hashing primitives for Valine.
//
// It is the single source of truth for refresh-token hashing behavior:
// the raw refresh token exists only in the signed JWT and the Set-Cookie
// header, never at rest. The store keeps a stable 64-char hex digest.
//
// Modes:
//   - Default dev/back-compat mode: SHA-256(token) when no HMAC key is configured.
//   - Production-enforced mode: HMAC-SHA256(token, key) when policy requires it.
//
// Environment:
//   - VALINE_TOKEN_HMAC_KEY: when set, enables HMAC mode.
//
// Policy: production deployments MUST set the key (>= 32 bytes); app startup
// validation enforces this.
package token
