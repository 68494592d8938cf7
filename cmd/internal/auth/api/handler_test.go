package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gcolon75/Project-Valine-sub005/cmd/identity"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/allowlist"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/audit"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/ratelimit"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/session"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/twofactor"
	"github.com/gcolon75/Project-Valine-sub005/cmd/security/password"
)

// Low-cost hashing keeps handler tests fast without changing behavior.
func testPasswordConfig() password.Config {
	return password.Config{
		Params: password.Argon2idParams{
			MemoryKiB:   1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: password.Policy{MinLength: 8, MaxLength: 256},
	}
}

// ---- fakes ----

type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]identity.User
	nextID  int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byEmail: make(map[string]identity.User)}
}

func (f *fakeUsers) FindUserByEmail(_ context.Context, email string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return identity.User{}, identity.OpError{Op: "identity.find_user", Kind: identity.ErrNotFound}
	}
	return u, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, in identity.CreateUserInput) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	norm := identity.NormalizeEmail(in.Email)
	if _, exists := f.byEmail[norm]; exists {
		return identity.User{}, identity.ConflictError{Op: "identity.create_user", Field: "email"}
	}
	f.nextID++
	u := identity.User{
		ID:           fmt.Sprintf("user-%04d", f.nextID),
		Email:        strings.TrimSpace(in.Email),
		EmailNorm:    norm,
		PasswordHash: in.PasswordHash,
		Status:       identity.StatusActive,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}
	f.byEmail[norm] = u
	return u, nil
}

func (f *fakeUsers) add(u identity.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byEmail[u.EmailNorm] = u
}

type fakeSessions struct {
	mu        sync.Mutex
	issued    int
	rotateErr error
	logoutErr error
	logouts   []string
}

func (f *fakeSessions) next(now time.Time, userID string) session.Issued {
	f.issued++
	return session.Issued{
		RecordID:     "rec-1",
		UserID:       userID,
		AccessToken:  "access-plain",
		AccessExp:    now.Add(15 * time.Minute),
		RefreshToken: "refresh-plain",
		RefreshExp:   now.Add(7 * 24 * time.Hour),
	}
}

func (f *fakeSessions) Issue(_ context.Context, now time.Time, userID string, _ session.DeviceContext) (session.Issued, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next(now, userID), nil
}

func (f *fakeSessions) Rotate(_ context.Context, now time.Time, _ string, _ session.DeviceContext) (session.Issued, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotateErr != nil {
		return session.Issued{}, f.rotateErr
	}
	return f.next(now, "user-0001"), nil
}

func (f *fakeSessions) Logout(_ context.Context, _ time.Time, refreshPlain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, refreshPlain)
	return f.logoutErr
}

type fakeSecondFactor struct {
	acceptTOTP   string
	acceptBackup string
}

func (f *fakeSecondFactor) Verify(_ context.Context, _ identity.User, code string, _ time.Time) error {
	if f.acceptTOTP != "" && code == f.acceptTOTP {
		return nil
	}
	return twofactor.ErrInvalidCode
}

func (f *fakeSecondFactor) VerifyBackupCode(_ context.Context, _ string, code string, _ time.Time) error {
	if f.acceptBackup != "" && code == f.acceptBackup {
		return nil
	}
	return twofactor.ErrInvalidCode
}

type fakeGuard struct {
	err  error
	snap allowlist.Snapshot
}

func (f *fakeGuard) Check(string) error           { return f.err }
func (f *fakeGuard) Snapshot() allowlist.Snapshot { return f.snap }

type fakeLimiter struct {
	mu       sync.Mutex
	denied   bool
	retry    time.Duration
	failures map[string]int
	resets   []string
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{failures: make(map[string]int)}
}

func (f *fakeLimiter) Check(_ context.Context, _ string, _ time.Time) (ratelimit.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		return ratelimit.Decision{Allowed: false, RetryAfter: f.retry}, nil
	}
	return ratelimit.Decision{Allowed: true}, nil
}

func (f *fakeLimiter) RecordFailure(_ context.Context, key string, _ time.Time) (ratelimit.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key]++
	return ratelimit.Decision{Allowed: true}, nil
}

func (f *fakeLimiter) Reset(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, key)
	return nil
}

func (f *fakeLimiter) failureCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[key]
}

type memRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memRecorder) Record(_ context.Context, _ time.Time, ev audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *memRecorder) has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.Action == action {
			return true
		}
	}
	return false
}

// ---- harness ----

type testEnv struct {
	handler  *Handler
	users    *fakeUsers
	sessions *fakeSessions
	second   *fakeSecondFactor
	guard    *fakeGuard
	login    *fakeLimiter
	register *fakeLimiter
	audit    *memRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:    newFakeUsers(),
		sessions: &fakeSessions{},
		second:   &fakeSecondFactor{},
		guard:    &fakeGuard{snap: allowlist.Snapshot{Active: false, Count: 0}},
		login:    newFakeLimiter(),
		register: newFakeLimiter(),
		audit:    &memRecorder{},
	}
	h, err := NewHandler(nil, DefaultConfig(ModeDevelopment), Deps{
		Users:           env.users,
		Sessions:        env.sessions,
		SecondFactor:    env.second,
		Allowlist:       env.guard,
		LoginLimiter:    env.login,
		RegisterLimiter: env.register,
		Audit:           env.audit,
		Passwords:       testPasswordConfig(),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	env.handler = h
	return env
}

func (env *testEnv) addUser(t *testing.T, email, pw string, mutate func(*identity.User)) identity.User {
	t.Helper()
	hash, err := testPasswordConfig().Hash(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := identity.User{
		ID:           "user-0001",
		Email:        email,
		EmailNorm:    identity.NormalizeEmail(email),
		PasswordHash: hash,
		Status:       identity.StatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	if mutate != nil {
		mutate(&u)
	}
	env.users.add(u)
	return u
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error.Code
}

func routedMux(env *testEnv) *http.ServeMux {
	mux := http.NewServeMux()
	env.handler.Register(mux)
	return mux
}

// ---- register ----

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t)
	mux := routedMux(env)

	rec := postJSON(t, mux, "/auth/register", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User.Email != "ada@example.com" {
		t.Fatalf("user email = %q", resp.User.Email)
	}
	if strings.Contains(rec.Body.String(), "refresh-plain") {
		t.Fatalf("refresh token leaked into response body")
	}
	if got := len(rec.Result().Cookies()); got != 3 {
		t.Fatalf("got %d cookies, want 3", got)
	}
	if !env.audit.has(audit.ActionRegisterSuccess) {
		t.Fatalf("register success not audited")
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	env := newTestEnv(t)
	rec := postJSON(t, routedMux(env), "/auth/register", `{"email":"ada@example.com","password":"short"}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "weak_password" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
}

func TestRegister_AllowlistDenied(t *testing.T) {
	env := newTestEnv(t)
	env.guard.err = allowlist.ErrNotAllowed

	rec := postJSON(t, routedMux(env), "/auth/register", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "registration_denied" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
	if !env.audit.has(audit.ActionRegisterDenied) {
		t.Fatalf("denial not audited")
	}
}

func TestRegister_AllowlistMisconfigured(t *testing.T) {
	env := newTestEnv(t)
	env.guard.err = allowlist.ErrMisconfigured

	rec := postJSON(t, routedMux(env), "/auth/register", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "allowlist_misconfigured" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
}

func TestRegister_EmailTaken(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", nil)

	rec := postJSON(t, routedMux(env), "/auth/register", `{"email":"Ada@Example.com","password":"correct horse"}`)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "email_taken" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
}

func TestRegister_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.register.denied = true
	env.register.retry = 30 * time.Minute

	rec := postJSON(t, routedMux(env), "/auth/register", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
}

func TestRegister_SuccessReturnsBudget(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, routedMux(env), "/auth/register", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	// httptest requests arrive from 192.0.2.1.
	if got := env.register.failureCount("192.0.2.1"); got != 1 {
		t.Fatalf("failures = %d, want 1", got)
	}
	if len(env.register.resets) != 1 || env.register.resets[0] != "192.0.2.1" {
		t.Fatalf("limiter resets = %v", env.register.resets)
	}
}

func TestRegister_AllowlistDeniedBeforeCounterWrite(t *testing.T) {
	env := newTestEnv(t)
	env.guard.err = allowlist.ErrNotAllowed

	rec := postJSON(t, routedMux(env), "/auth/register", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	// The allowlist answers before anything is written.
	if got := env.register.failureCount("192.0.2.1"); got != 0 {
		t.Fatalf("failures = %d, want 0", got)
	}
}

// ---- login ----

func TestLogin_UnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", nil)
	mux := routedMux(env)

	unknown := postJSON(t, mux, "/auth/login", `{"email":"nobody@example.com","password":"correct horse"}`)
	wrongPw := postJSON(t, mux, "/auth/login", `{"email":"ada@example.com","password":"wrong password"}`)

	for name, rec := range map[string]*httptest.ResponseRecorder{"unknown": unknown, "wrong_password": wrongPw} {
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", name, rec.Code)
		}
		if code := errorCode(t, rec); code != "invalid_credentials" {
			t.Fatalf("%s: code = %q, want invalid_credentials", name, code)
		}
	}
	if got := env.login.failureCount("nobody@example.com"); got != 1 {
		t.Fatalf("unknown-user failures = %d, want 1", got)
	}
	if got := env.login.failureCount("ada@example.com"); got != 1 {
		t.Fatalf("wrong-password failures = %d, want 1", got)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.login.denied = true
	env.login.retry = 15 * time.Minute

	rec := postJSON(t, routedMux(env), "/auth/login", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "900" {
		t.Fatalf("Retry-After = %q, want 900", rec.Header().Get("Retry-After"))
	}
	if !env.audit.has(audit.ActionLoginRateLimited) {
		t.Fatalf("rate limit not audited")
	}
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", nil)

	rec := postJSON(t, routedMux(env), "/auth/login", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := len(rec.Result().Cookies()); got != 3 {
		t.Fatalf("got %d cookies, want 3", got)
	}
	if len(env.login.resets) != 1 || env.login.resets[0] != "ada@example.com" {
		t.Fatalf("limiter resets = %v", env.login.resets)
	}
	if !env.audit.has(audit.ActionLoginSuccess) {
		t.Fatalf("success not audited")
	}
}

func TestLogin_SecondFactorMissingCodeIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", func(u *identity.User) {
		u.TwoFactorEnabled = true
	})

	// A correct password without a code must read exactly like a wrong
	// password, or the response confirms the password.
	rec := postJSON(t, routedMux(env), "/auth/login", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credentials" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
	if got := env.login.failureCount("ada@example.com"); got != 1 {
		t.Fatalf("failures = %d, want 1", got)
	}
}

func TestLogin_SecondFactorInvalidCode(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", func(u *identity.User) {
		u.TwoFactorEnabled = true
	})
	env.second.acceptTOTP = "123456"

	rec := postJSON(t, routedMux(env), "/auth/login", `{"email":"ada@example.com","password":"correct horse","totp_code":"000000"}`)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credentials" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
	if got := env.login.failureCount("ada@example.com"); got != 1 {
		t.Fatalf("failures = %d, want 1", got)
	}
	if !env.audit.has(audit.ActionTwoFactorFailed) {
		t.Fatalf("second factor failure not audited")
	}
}

func TestLogin_SecondFactorSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", func(u *identity.User) {
		u.TwoFactorEnabled = true
	})
	env.second.acceptTOTP = "123456"

	rec := postJSON(t, routedMux(env), "/auth/login", `{"email":"ada@example.com","password":"correct horse","totp_code":"123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestLogin_BackupCode(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", func(u *identity.User) {
		u.TwoFactorEnabled = true
	})
	env.second.acceptBackup = "abcdef0123"

	rec := postJSON(t, routedMux(env), "/auth/login", `{"email":"ada@example.com","password":"correct horse","backup_code":"abcdef0123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestLogin_LockedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", func(u *identity.User) {
		u.Status = identity.StatusLocked
	})

	rec := postJSON(t, routedMux(env), "/auth/login", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "account_locked" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
}

func TestLogin_AllowlistMisconfiguredFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", nil)
	env.guard.err = allowlist.ErrMisconfigured

	// Correct credentials must not help: the list being unusable takes the
	// whole sign-in surface down.
	rec := postJSON(t, routedMux(env), "/auth/login", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "allowlist_misconfigured" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
	if env.sessions.issued != 0 {
		t.Fatalf("session issued despite misconfigured allowlist")
	}
}

func TestLogin_AllowlistMembershipNotEnforced(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ada@example.com", "correct horse", nil)
	env.guard.err = allowlist.ErrNotAllowed

	// Membership gates registration only; an existing account signs in.
	rec := postJSON(t, routedMux(env), "/auth/login", `{"email":"ada@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

// ---- refresh ----

func refreshRequest(env *testEnv, withCookie, withCSRF bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	cfg := env.handler.cfg
	if withCookie {
		req.AddCookie(&http.Cookie{Name: cfg.RefreshCookieName, Value: "refresh-plain"})
	}
	if withCSRF {
		req.AddCookie(&http.Cookie{Name: cfg.CSRFCookieName, Value: "csrf-tok"})
		req.Header.Set(cfg.CSRFHeaderName, "csrf-tok")
	}
	return req
}

func TestRefresh_MissingCookie(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	routedMux(env).ServeHTTP(rec, refreshRequest(env, false, true))
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "session_not_active" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
}

func TestRefresh_MissingCSRF(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	routedMux(env).ServeHTTP(rec, refreshRequest(env, true, false))
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "csrf_invalid" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
}

func TestRefresh_Success(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	routedMux(env).ServeHTTP(rec, refreshRequest(env, true, true))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := len(rec.Result().Cookies()); got != 3 {
		t.Fatalf("got %d cookies, want 3", got)
	}
	if !env.audit.has(audit.ActionTokenRefreshed) {
		t.Fatalf("refresh not audited")
	}
}

func TestRefresh_ReuseDetected(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.rotateErr = session.ErrReuseDetected

	rec := httptest.NewRecorder()
	routedMux(env).ServeHTTP(rec, refreshRequest(env, true, true))
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "session_compromised" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
	for _, c := range rec.Result().Cookies() {
		if c.Value != "" || c.MaxAge != -1 {
			t.Fatalf("cookie %q not cleared", c.Name)
		}
	}
	if !env.audit.has(audit.ActionTokenReused) {
		t.Fatalf("reuse not audited")
	}
}

func TestRefresh_ExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.rotateErr = session.ErrTokenExpired

	rec := httptest.NewRecorder()
	routedMux(env).ServeHTTP(rec, refreshRequest(env, true, true))
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "session_not_active" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
}

// ---- logout ----

func logoutRequest(env *testEnv, withCookie, withCSRF bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	cfg := env.handler.cfg
	if withCookie {
		req.AddCookie(&http.Cookie{Name: cfg.RefreshCookieName, Value: "refresh-plain"})
	}
	if withCSRF {
		req.AddCookie(&http.Cookie{Name: cfg.CSRFCookieName, Value: "csrf-tok"})
		req.Header.Set(cfg.CSRFHeaderName, "csrf-tok")
	}
	return req
}

func TestLogout_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	mux := routedMux(env)

	// With a cookie present.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, logoutRequest(env, true, true))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(env.sessions.logouts) != 1 {
		t.Fatalf("logout calls = %d", len(env.sessions.logouts))
	}

	// Cookie already gone: still a clean 204.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, logoutRequest(env, false, false))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLogout_MissingCSRF(t *testing.T) {
	env := newTestEnv(t)

	// A bare refresh cookie is exactly what a cross-site form post carries;
	// it must not be enough to revoke the chain.
	rec := httptest.NewRecorder()
	routedMux(env).ServeHTTP(rec, logoutRequest(env, true, false))
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "csrf_invalid" {
		t.Fatalf("status = %d, code %q", rec.Code, errorCode(t, rec))
	}
	if len(env.sessions.logouts) != 0 {
		t.Fatalf("chain revoked without csrf proof")
	}
}

func TestLogout_UnknownTokenStillSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.logoutErr = session.ErrTokenInvalid

	rec := httptest.NewRecorder()
	routedMux(env).ServeHTTP(rec, logoutRequest(env, true, true))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

// ---- health ----

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.guard.snap = allowlist.Snapshot{Active: true, Strict: true, Count: 4}

	rec := httptest.NewRecorder()
	routedMux(env).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.AllowlistActive || resp.AllowlistCount != 4 || resp.AllowlistMisconfigured {
		t.Fatalf("response: %+v", resp)
	}
	// The deployment tooling scrapes these exact keys.
	for _, key := range []string{`"allowlistActive"`, `"allowlistCount"`, `"allowlistMisconfigured"`} {
		if !strings.Contains(rec.Body.String(), key) {
			t.Fatalf("body %s missing %s", rec.Body.String(), key)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	mux := routedMux(env)
	for _, path := range []string{"/auth/register", "/auth/login", "/auth/refresh", "/auth/logout"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s GET status = %d", path, rec.Code)
		}
	}
}
