package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gcolon75/Project-Valine-sub005/cmd/identity"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/allowlist"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/audit"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/ratelimit"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/session"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/twofactor"
	"github.com/gcolon75/Project-Valine-sub005/cmd/security/password"
)

// UserStore is the identity surface the handler consumes.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (identity.User, error)
	CreateUser(ctx context.Context, in identity.CreateUserInput) (identity.User, error)
}

// SessionService issues, rotates, and revokes token pairs.
type SessionService interface {
	Issue(ctx context.Context, now time.Time, userID string, dev session.DeviceContext) (session.Issued, error)
	Rotate(ctx context.Context, now time.Time, refreshPlain string, dev session.DeviceContext) (session.Issued, error)
	Logout(ctx context.Context, now time.Time, refreshPlain string) error
}

// SecondFactor verifies TOTP and backup codes at login.
type SecondFactor interface {
	Verify(ctx context.Context, user identity.User, code string, now time.Time) error
	VerifyBackupCode(ctx context.Context, userID, code string, now time.Time) error
}

// RegistrationGuard answers allowlist questions.
type RegistrationGuard interface {
	Check(email string) error
	Snapshot() allowlist.Snapshot
}

// AttemptLimiter throttles failed attempts for one scope.
type AttemptLimiter interface {
	Check(ctx context.Context, key string, now time.Time) (ratelimit.Decision, error)
	RecordFailure(ctx context.Context, key string, now time.Time) (ratelimit.Decision, error)
	Reset(ctx context.Context, key string) error
}

// Deps bundles the services the handler orchestrates.
type Deps struct {
	Users           UserStore
	Sessions        SessionService
	SecondFactor    SecondFactor
	Allowlist       RegistrationGuard
	LoginLimiter    AttemptLimiter
	RegisterLimiter AttemptLimiter
	Audit           audit.Recorder
	Passwords       password.Config
}

// Handler wires HTTP auth endpoints to the identity and session services.
type Handler struct {
	log  *slog.Logger
	cfg  Config
	deps Deps

	// dummyHash absorbs an Argon2id verification when the account does not
	// exist, keeping unknown-user and wrong-password timings aligned.
	dummyHash string
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Users == nil || deps.Sessions == nil {
		return nil, errors.New("authapi: nil user store or session service")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopRecorder{}
	}

	h := &Handler{log: log, cfg: cfg, deps: deps}

	dummy, err := deps.Passwords.Hash("dummy-password-for-timing-only")
	if err != nil {
		return nil, err
	}
	h.dummyHash = dummy

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/health", h.handleHealth)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	}
	if err := h.deps.Passwords.Validate(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", "password does not meet the policy")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	masked := audit.MaskEmail(email)

	// IP throttling before any expensive work.
	if h.deps.RegisterLimiter != nil {
		d, err := h.deps.RegisterLimiter.Check(ctx, ip, now)
		if err != nil {
			h.log.Error("auth.register.throttle.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		}
		if !d.Allowed {
			h.record(ctx, now, audit.Event{
				Action: audit.ActionRegisterDenied, IP: ip, UserAgent: ua,
				Meta: map[string]any{"email": masked, "reason": "rate_limited"},
			})
			writeRateLimited(w, d.RetryAfter)
			return
		}
	}

	if h.deps.Allowlist != nil {
		switch err := h.deps.Allowlist.Check(email); {
		case errors.Is(err, allowlist.ErrMisconfigured):
			h.record(ctx, now, audit.Event{
				Action: audit.ActionRegisterDenied, IP: ip, UserAgent: ua,
				Meta: map[string]any{"email": masked, "reason": "allowlist_misconfigured"},
			})
			writeError(w, http.StatusServiceUnavailable, "allowlist_misconfigured", "registration temporarily unavailable")
			return
		case errors.Is(err, allowlist.ErrNotAllowed):
			h.record(ctx, now, audit.Event{
				Action: audit.ActionRegisterDenied, IP: ip, UserAgent: ua,
				Meta: map[string]any{"email": masked, "reason": "not_on_allowlist"},
			})
			writeError(w, http.StatusForbidden, "registration_denied", "registration is not open for this email")
			return
		case err != nil:
			h.log.Error("auth.register.allowlist.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		}
	}

	// Attempts that clear the gate count toward the IP budget; nothing is
	// written before the allowlist has answered. A successful registration
	// hands the budget back below.
	if h.deps.RegisterLimiter != nil {
		if _, err := h.deps.RegisterLimiter.RecordFailure(ctx, ip, now); err != nil {
			h.log.Error("auth.register.throttle.record.fail", "err", err)
		}
	}

	hash, err := h.deps.Passwords.Hash(req.Password)
	if err != nil {
		h.log.Error("auth.register.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	user, err := h.deps.Users.CreateUser(ctx, identity.CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Now:          now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.register.create.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	if h.deps.RegisterLimiter != nil {
		if err := h.deps.RegisterLimiter.Reset(ctx, ip); err != nil {
			h.log.Error("auth.register.throttle.reset.fail", "err", err)
		}
	}

	issued, err := h.deps.Sessions.Issue(ctx, now, user.ID, session.DeviceContext{IP: ip, UserAgent: ua})
	if err != nil {
		h.log.Error("auth.register.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.record(ctx, now, audit.Event{
		Action: audit.ActionRegisterSuccess, UserID: user.ID, RecordID: issued.RecordID,
		IP: ip, UserAgent: ua, Meta: map[string]any{"email": masked},
	})

	if _, err := h.setSessionCookies(w, issued); err != nil {
		h.log.Error("auth.register.cookie.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	emailNorm := identity.NormalizeEmail(email)
	masked := audit.MaskEmail(email)

	// Throttle check before touching the user table.
	if h.deps.LoginLimiter != nil {
		d, err := h.deps.LoginLimiter.Check(ctx, emailNorm, now)
		if err != nil {
			h.log.Error("auth.login.throttle.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		}
		if !d.Allowed {
			h.record(ctx, now, audit.Event{
				Action: audit.ActionLoginRateLimited, IP: ip, UserAgent: ua,
				Meta: map[string]any{"email": masked, "retry_after_s": int64(d.RetryAfter.Seconds())},
			})
			writeRateLimited(w, d.RetryAfter)
			return
		}
	}

	// Fail closed when the allowlist itself is unusable. Membership is only
	// enforced at registration; accounts that already exist may still sign
	// in, but a misconfigured strict list blocks everything.
	if h.deps.Allowlist != nil {
		if err := h.deps.Allowlist.Check(email); errors.Is(err, allowlist.ErrMisconfigured) {
			h.record(ctx, now, audit.Event{
				Action: audit.ActionLoginFailed, IP: ip, UserAgent: ua,
				Meta: map[string]any{"email": masked, "reason": "allowlist_misconfigured"},
			})
			writeError(w, http.StatusServiceUnavailable, "allowlist_misconfigured", "sign-in temporarily unavailable")
			return
		}
	}

	user, err := h.deps.Users.FindUserByEmail(ctx, emailNorm)
	if err != nil {
		// Timing resistance: burn a verification against the dummy hash.
		_, _ = h.deps.Passwords.Verify(h.dummyHash, req.Password)
		h.loginFailed(ctx, now, "", ip, ua, emailNorm, masked, "not_found")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	okPw, err := h.deps.Passwords.Verify(user.PasswordHash, req.Password)
	if err != nil || !okPw {
		h.loginFailed(ctx, now, user.ID, ip, ua, emailNorm, masked, "bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	if user.Status != identity.StatusActive {
		h.loginFailed(ctx, now, user.ID, ip, ua, emailNorm, masked, "account_locked")
		writeError(w, http.StatusForbidden, "account_locked", "account is locked")
		return
	}

	if user.TwoFactorEnabled {
		if !h.verifySecondFactor(ctx, w, user, req, now, ip, ua, masked) {
			return
		}
	}

	if h.deps.LoginLimiter != nil {
		if err := h.deps.LoginLimiter.Reset(ctx, emailNorm); err != nil {
			h.log.Error("auth.login.throttle.reset.fail", "err", err)
		}
	}

	issued, err := h.deps.Sessions.Issue(ctx, now, user.ID, session.DeviceContext{IP: ip, UserAgent: ua})
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.record(ctx, now, audit.Event{
		Action: audit.ActionLoginSuccess, UserID: user.ID, RecordID: issued.RecordID,
		IP: ip, UserAgent: ua, Meta: map[string]any{"email": masked},
	})

	if _, err := h.setSessionCookies(w, issued); err != nil {
		h.log.Error("auth.login.cookie.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

// verifySecondFactor gates login for accounts with an active second factor.
// It writes the response on failure and reports whether login may proceed.
func (h *Handler) verifySecondFactor(ctx context.Context, w http.ResponseWriter, user identity.User, req loginRequest, now time.Time, ip, ua, masked string) bool {
	if h.deps.SecondFactor == nil {
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return false
	}

	totpCode := strings.TrimSpace(req.TOTPCode)
	backupCode := strings.TrimSpace(req.BackupCode)

	if totpCode == "" && backupCode == "" {
		// Deliberately indistinguishable from a wrong password. A distinct
		// "code required" answer would confirm the password was right.
		h.loginFailed(ctx, now, user.ID, ip, ua, user.EmailNorm, masked, "missing_second_factor")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return false
	}

	var err error
	if totpCode != "" {
		err = h.deps.SecondFactor.Verify(ctx, user, totpCode, now)
	} else {
		err = h.deps.SecondFactor.VerifyBackupCode(ctx, user.ID, backupCode, now)
	}
	if err != nil {
		if errors.Is(err, twofactor.ErrInvalidCode) || errors.Is(err, twofactor.ErrNotEnrolled) {
			h.record(ctx, now, audit.Event{
				Action: audit.ActionTwoFactorFailed, UserID: user.ID, IP: ip, UserAgent: ua,
				Meta: map[string]any{"email": masked},
			})
			// Second-factor guesses burn login budget like password guesses.
			h.loginFailed(ctx, now, user.ID, ip, ua, user.EmailNorm, masked, "bad_second_factor")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return false
		}
		h.log.Error("auth.login.twofactor.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return false
	}
	return true
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refreshToken, ok := h.refreshTokenFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "session_not_active", "no active session")
		return
	}
	if !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.deps.Sessions.Rotate(ctx, now, refreshToken, session.DeviceContext{IP: ip, UserAgent: ua})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReuseDetected):
			h.record(ctx, now, audit.Event{Action: audit.ActionTokenReused, IP: ip, UserAgent: ua})
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "session_compromised", "session revoked, sign in again")
		case errors.Is(err, session.ErrTokenExpired),
			errors.Is(err, session.ErrTokenInvalid),
			errors.Is(err, session.ErrSessionRevoked):
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.record(ctx, now, audit.Event{
		Action: audit.ActionTokenRefreshed, UserID: issued.UserID, RecordID: issued.RecordID,
		IP: ip, UserAgent: ua,
	})

	if _, err := h.setSessionCookies(w, issued); err != nil {
		h.log.Error("auth.refresh.cookie.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(issued)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if refreshToken, ok := h.refreshTokenFromCookie(r); ok {
		// Revoking a chain is a state change; it needs the same double-submit
		// proof as refresh. Cookie-less logout stays a no-op below.
		if !h.csrfDoubleSubmitValid(r) {
			writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
			return
		}
		err := h.deps.Sessions.Logout(ctx, now, refreshToken)
		switch {
		case err == nil:
			h.record(ctx, now, audit.Event{Action: audit.ActionLogout, IP: ip, UserAgent: ua})
		case errors.Is(err, session.ErrTokenInvalid):
			// Already gone; logout stays idempotent.
		default:
			h.log.Error("auth.logout.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
	}

	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{Status: "ok"}
	if h.deps.Allowlist != nil {
		snap := h.deps.Allowlist.Snapshot()
		resp.AllowlistActive = snap.Active
		resp.AllowlistCount = snap.Count
		resp.AllowlistMisconfigured = snap.Misconfigured
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- helpers ----

func (h *Handler) record(ctx context.Context, now time.Time, ev audit.Event) {
	h.deps.Audit.Record(ctx, now, ev)
}

// loginFailed records the audit event and feeds the login limiter; crossing
// the threshold emits the lockout event.
func (h *Handler) loginFailed(ctx context.Context, now time.Time, userID, ip, ua, emailNorm, masked, reason string) {
	h.record(ctx, now, audit.Event{
		Action: audit.ActionLoginFailed, UserID: userID, IP: ip, UserAgent: ua,
		Meta: map[string]any{"email": masked, "reason": reason},
	})

	if h.deps.LoginLimiter == nil {
		return
	}
	d, err := h.deps.LoginLimiter.RecordFailure(ctx, emailNorm, now)
	if err != nil {
		h.log.Error("auth.login.throttle.record.fail", "err", err)
		return
	}
	if !d.Allowed {
		h.record(ctx, now, audit.Event{
			Action: audit.ActionLockoutTriggered, UserID: userID, IP: ip, UserAgent: ua,
			Meta: map[string]any{"email": masked, "retry_after_s": int64(d.RetryAfter.Seconds())},
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
