package session

import (
	"os"
	"strings"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls access/refresh token TTLs, clock skew tolerance, and the
// HS256 signing secrets. Access and refresh tokens are signed with
// separate secrets so one can be rotated without invalidating the other,
// and so a forged type claim alone is never sufficient to cross over.
type Config struct {
	// Issuer is the value set in the "iss" claim of both token types.
	Issuer string

	// AccessTokenTTL defines the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL defines the lifetime of refresh tokens and their
	// stored records.
	RefreshTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// AccessSecret / RefreshSecret are the HS256 signing keys.
	// Minimum 32 bytes each.
	AccessSecret  string
	RefreshSecret string
}

// DefaultConfig returns a secure default configuration suitable for development.
// Secrets have no default; they must come from the environment.
func DefaultConfig() Config {
	return Config{
		Issuer:          "valine",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - VALINE_ACCESS_TOKEN_SECRET (>= 32 bytes)
//   - VALINE_REFRESH_TOKEN_SECRET (>= 32 bytes, distinct from access secret)
//
// Optional (durations must be valid Go duration strings):
//   - VALINE_AUTH_ISSUER
//   - VALINE_AUTH_ACCESS_TTL
//   - VALINE_AUTH_REFRESH_TTL
//   - VALINE_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("VALINE_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("VALINE_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("VALINE_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("VALINE_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.AccessSecret = strings.TrimSpace(os.Getenv("VALINE_ACCESS_TOKEN_SECRET"))
	cfg.RefreshSecret = strings.TrimSpace(os.Getenv("VALINE_REFRESH_TOKEN_SECRET"))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if len(c.AccessSecret) < 32 || len(c.RefreshSecret) < 32 {
		return ErrConfig
	}
	if c.AccessSecret == c.RefreshSecret {
		return ErrConfig
	}
	// A refresh token that outlives its record is useless, and an access
	// token outliving the refresh window defeats rotation.
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= c.AccessTokenTTL {
		return ErrConfig
	}
	return nil
}
