package ratelimit

import (
	"os"
	"strconv"
	"time"
)

// Config carries the policies for all authentication scopes.
type Config struct {
	Login    Policy
	Register Policy
}

// DefaultConfig returns the production throttling policies.
//
// Login failures are keyed by normalized email so an attacker rotating IPs
// still trips the limit; registration is keyed by client IP.
func DefaultConfig() Config {
	return Config{
		Login: Policy{
			Scope:   ScopeLogin,
			Max:     5,
			Window:  15 * time.Minute,
			Lockout: 15 * time.Minute,
		},
		Register: Policy{
			Scope:   ScopeRegister,
			Max:     10,
			Window:  time.Hour,
			Lockout: time.Hour,
		},
	}
}

// FromEnv loads throttling policies from environment variables, falling back
// to defaults. Durations must be valid Go duration strings.
//
//   - VALINE_RATELIMIT_LOGIN_MAX / _WINDOW / _LOCKOUT
//   - VALINE_RATELIMIT_REGISTER_MAX / _WINDOW / _LOCKOUT
//
// Returns ErrConfig for unparsable or non-positive values.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.Login, err = policyFromEnv("VALINE_RATELIMIT_LOGIN", cfg.Login); err != nil {
		return Config{}, err
	}
	if cfg.Register, err = policyFromEnv("VALINE_RATELIMIT_REGISTER", cfg.Register); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func policyFromEnv(prefix string, base Policy) (Policy, error) {
	if v := os.Getenv(prefix + "_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Policy{}, ErrConfig
		}
		base.Max = n
	}
	if v := os.Getenv(prefix + "_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Policy{}, ErrConfig
		}
		base.Window = d
	}
	if v := os.Getenv(prefix + "_LOCKOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Policy{}, ErrConfig
		}
		base.Lockout = d
	}
	return base, base.validate()
}
