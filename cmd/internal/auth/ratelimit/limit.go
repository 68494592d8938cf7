package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrConfig is returned for invalid limiter configuration.
var ErrConfig = errors.New("invalid rate limit config")

// Scopes partition counters so a login failure never burns registration
// budget and vice versa.
const (
	ScopeLogin    = "login"
	ScopeRegister = "register"
)

// Policy defines one throttling rule.
type Policy struct {
	Scope   string
	Max     int           // failures tolerated per window
	Window  time.Duration // how far back failures count
	Lockout time.Duration // refusal period once Max is reached
}

func (p Policy) validate() error {
	if p.Scope == "" || p.Max <= 0 || p.Window <= 0 || p.Lockout <= 0 {
		return ErrConfig
	}
	return nil
}

// Counter is the stored state for one (scope, key) pair.
type Counter struct {
	Scope       string
	Key         string
	Count       int
	WindowStart time.Time
	LockedUntil time.Time
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// evaluate applies a policy to a stored counter. Pure so it can be tested
// without a store.
func evaluate(now time.Time, c Counter, p Policy) Decision {
	if !c.LockedUntil.IsZero() && now.Before(c.LockedUntil) {
		return Decision{Allowed: false, RetryAfter: c.LockedUntil.Sub(now)}
	}
	// A counter whose window has lapsed no longer matters; the next failure
	// restarts it.
	if c.WindowStart.IsZero() || !now.Before(c.WindowStart.Add(p.Window)) {
		return Decision{Allowed: true}
	}
	if c.Count >= p.Max {
		// Threshold reached but lockout already expired: allow, the next
		// failure opens a fresh window.
		if !c.LockedUntil.IsZero() {
			return Decision{Allowed: true}
		}
		return Decision{Allowed: false, RetryAfter: c.WindowStart.Add(p.Window).Sub(now)}
	}
	return Decision{Allowed: true}
}

// Limiter binds a policy to a shared counter store.
type Limiter struct {
	store  Store
	policy Policy
}

// NewLimiter builds a limiter for one policy.
func NewLimiter(store Store, policy Policy) (*Limiter, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &Limiter{store: store, policy: policy}, nil
}

// Check reports whether key may attempt now. It never mutates state, so a
// denied request does not extend its own lockout.
func (l *Limiter) Check(ctx context.Context, key string, now time.Time) (Decision, error) {
	key = normalizeKey(key)
	if key == "" {
		return Decision{Allowed: true}, nil
	}
	c, err := l.store.Get(ctx, l.policy.Scope, key)
	if err != nil {
		return Decision{}, err
	}
	return evaluate(now, c, l.policy), nil
}

// RecordFailure atomically increments key's counter, starting a new window
// when the old one lapsed and stamping the lockout deadline when the
// threshold is reached. It returns the post-increment decision.
func (l *Limiter) RecordFailure(ctx context.Context, key string, now time.Time) (Decision, error) {
	key = normalizeKey(key)
	if key == "" {
		return Decision{Allowed: true}, nil
	}
	c, err := l.store.RecordFailure(ctx, l.policy, key, now)
	if err != nil {
		return Decision{}, err
	}
	return evaluate(now, c, l.policy), nil
}

// Reset clears key's counter after a successful attempt.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	key = normalizeKey(key)
	if key == "" {
		return nil
	}
	return l.store.Reset(ctx, l.policy.Scope, key)
}

// Policy returns the limiter's policy.
func (l *Limiter) Policy() Policy { return l.policy }

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
