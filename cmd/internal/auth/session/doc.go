// Package session implements Valine's token and session-control core.
//
// It mints short-lived access JWTs and long-lived refresh JWTs, persists
// refresh-token records for revocation, and performs refresh rotation with
// reuse detection under a strict transactional model. Presenting an
// already-rotated refresh token revokes the whole rotation chain and forces
// a fresh login.
//
// Refresh tokens are stored hashed in Postgres (HMAC-SHA256 when
// VALINE_TOKEN_HMAC_KEY is set; otherwise SHA-256 for dev/back-compat);
// the raw token never touches the database.
//
// Transport (cookies, CSRF) integration is intentionally out of scope here.
package session
