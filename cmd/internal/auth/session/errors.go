package session

import "errors"

var (
	// ErrTokenInvalid is returned for bad signatures, wrong token types,
	// and refresh tokens that match no stored record.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired is returned when a structurally valid token is past
	// its expiry. Kept distinct from ErrTokenInvalid so callers can decide
	// whether a refresh attempt is worthwhile.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionRevoked is returned when the backing record has been
	// revoked outside of rotation (logout, admin action).
	ErrSessionRevoked = errors.New("session revoked")

	// ErrReuseDetected is returned when a rotated refresh token is
	// presented again. The whole rotation chain is revoked before this is
	// returned; the caller must force a full re-login.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
