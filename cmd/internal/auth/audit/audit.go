package audit

import (
	"context"
	"strings"
	"time"
)

// Actions recorded by the auth endpoints.
const (
	ActionLoginSuccess     = "auth.login.success"
	ActionLoginFailed      = "auth.login.failed"
	ActionLoginRateLimited = "auth.login.rate_limited"
	ActionLockoutTriggered = "auth.login.lockout_triggered"
	ActionRegisterSuccess  = "auth.register.success"
	ActionRegisterDenied   = "auth.register.denied"
	ActionTokenRefreshed   = "auth.token.refreshed"
	ActionTokenReused      = "auth.token.reuse_detected"
	ActionTwoFactorEnroll  = "auth.twofactor.enrolled"
	ActionTwoFactorFailed  = "auth.twofactor.failed"
	ActionLogout           = "auth.logout"
)

// Event is one audit record. UserID and RecordID are empty when unknown
// (for example a login attempt against a nonexistent account).
type Event struct {
	Action    string
	UserID    string
	RecordID  string
	IP        string
	UserAgent string
	Meta      map[string]any
}

// Recorder appends events to the audit log. Implementations must treat the
// log as append-only; there is no update or delete surface.
type Recorder interface {
	Record(ctx context.Context, now time.Time, ev Event)
}

// NopRecorder drops every event. Used in tests and when auditing is
// disabled explicitly.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, now time.Time, ev Event) {}

// MaskEmail redacts an email for logging: the first two characters of the
// local part survive, the domain stays intact. "us***@example.com" is
// enough to correlate events without storing the address.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return local[:1] + "***" + domain
	}
	return local[:2] + "***" + domain
}
