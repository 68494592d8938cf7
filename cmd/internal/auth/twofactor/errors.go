package twofactor

import "errors"

var (
	// ErrInvalidCode is returned when a TOTP or backup code does not
	// verify. Callers should feed this into their login throttling.
	ErrInvalidCode = errors.New("invalid two-factor code")

	// ErrNotEnrolled is returned when the user has no stored secret.
	ErrNotEnrolled = errors.New("two-factor not enrolled")

	// ErrAlreadyEnabled is returned when enrollment is attempted on an
	// account that already has an active second factor.
	ErrAlreadyEnabled = errors.New("two-factor already enabled")

	// ErrKeyMissing is returned when the at-rest encryption key is absent
	// or the wrong size.
	ErrKeyMissing = errors.New("two-factor encryption key missing or invalid")
)
