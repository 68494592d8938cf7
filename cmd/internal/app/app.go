// Package app wires the Valine auth server runtime: config, logging,
// persistence, and the HTTP surface.
//
// It is intentionally small and deterministic to keep startup failures
// loud and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gcolon75/Project-Valine-sub005/cmd/identity"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/allowlist"
	authapi "github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/api"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/audit"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/ratelimit"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/session"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/twofactor"
	"github.com/gcolon75/Project-Valine-sub005/cmd/security/password"
)

// App is the Valine auth server runtime. It owns the connection pool and
// the wired HTTP handler.
type App struct {
	cfg  Config
	log  Logger
	mode authapi.DeploymentMode

	pool    *pgxpool.Pool
	auth    *authapi.Handler
	allow   *allowlist.Guard
	metrics *Metrics
	sweeper *Sweeper
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	mode, err := authapi.ParseDeploymentMode(cfg.Env)
	if err != nil {
		return nil, errors.New("VALINE_ENV must be set to development or production")
	}
	if err := ValidateSecurityConfig(mode); err != nil {
		return nil, err
	}

	// The auth service is stateful by definition; there is no in-memory
	// fallback to accidentally ship.
	if cfg.DatabaseURL == "" {
		return nil, errors.New("VALINE_DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("db.connected")

	a, err := wire(cfg, log, mode, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

// wire assembles every service on top of an open pool.
func wire(cfg Config, log Logger, mode authapi.DeploymentMode, pool *pgxpool.Pool) (*App, error) {
	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewHS256Manager(sessCfg)
	if err != nil {
		return nil, err
	}
	sessions := session.NewService(sessCfg, session.NewPostgresStore(pool), tokens)

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	rlCfg, err := ratelimit.FromEnv()
	if err != nil {
		return nil, err
	}
	attempts := ratelimit.NewPostgresStore(pool)
	loginLimiter, err := ratelimit.NewLimiter(attempts, rlCfg.Login)
	if err != nil {
		return nil, err
	}
	registerLimiter, err := ratelimit.NewLimiter(attempts, rlCfg.Register)
	if err != nil {
		return nil, err
	}

	guard := allowlist.New(allowlist.FromEnv())
	if err := guard.Watch(); err != nil {
		// Polling via the cache TTL still picks up changes.
		log.Warn("allowlist.watch.unavailable", "err", err)
	}

	metrics := NewMetrics()
	recorder := metrics.WrapRecorder(audit.NewPostgresRecorder(pool, log))

	secondFactor, err := newSecondFactor(log, mode, users, pool, sessCfg.Issuer, recorder)
	if err != nil {
		return nil, err
	}

	authHandler, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(mode), authapi.Deps{
		Users:           users,
		Sessions:        sessions,
		SecondFactor:    secondFactor,
		Allowlist:       guard,
		LoginLimiter:    loginLimiter,
		RegisterLimiter: registerLimiter,
		Audit:           recorder,
		Passwords:       pwCfg,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		mode:    mode,
		pool:    pool,
		auth:    authHandler,
		allow:   guard,
		metrics: metrics,
		sweeper: NewSweeper(log, sessions, attempts, cfg.SweepInterval),
	}, nil
}

// newSecondFactor builds the TOTP service. The at-rest encryption key is
// mandatory in production; in development a missing key just disables
// second-factor logins.
func newSecondFactor(log Logger, mode authapi.DeploymentMode, users identity.Store, pool *pgxpool.Pool, issuer string, rec audit.Recorder) (authapi.SecondFactor, error) {
	key, err := twofactor.KeyFromEnv()
	if err != nil {
		if mode == authapi.ModeProduction {
			return nil, errors.New("security policy: production requires " + twofactor.KeyEnvName)
		}
		log.Warn("twofactor.disabled", "reason", "no encryption key")
		return nil, nil
	}
	svc, err := twofactor.NewService(users, twofactor.NewPostgresBackupCodeStore(pool), key, issuer)
	if err != nil {
		return nil, err
	}
	return svc.WithAudit(rec), nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, true, a.auth, a.metrics)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "mode", string(a.mode))

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sweeper.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.allow.Close(); err != nil {
		a.log.Error("allowlist.close.fail", "err", err)
	}
	a.pool.Close()

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
