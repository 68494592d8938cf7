package app

import (
	"errors"

	authapi "github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/api"
	"github.com/gcolon75/Project-Valine-sub005/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Production fails fast when the refresh-token HMAC key is missing or too
// short: silently falling back to unkeyed hashing outside development is
// unacceptable. Enforcement goes through the same module that performs
// hashing (security/token) so the check cannot drift from the behavior.
func ValidateSecurityConfig(mode authapi.DeploymentMode) error {
	if mode != authapi.ModeProduction {
		return nil
	}

	// 32 bytes minimum for an HMAC-SHA256 secret, measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: production requires " + token.HMACEnvKey)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: " + token.HMACEnvKey + " is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: token hasher is not in HMAC mode")
	}

	return nil
}
