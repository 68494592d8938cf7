package authapi

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// DeploymentMode selects the cookie security profile. There is no default:
// the mode must be stated explicitly so a production deploy can never
// silently run with development cookie attributes.
type DeploymentMode string

const (
	ModeDevelopment DeploymentMode = "development"
	ModeProduction  DeploymentMode = "production"
)

// ErrUnknownMode is returned for a missing or unrecognized deployment mode.
var ErrUnknownMode = errors.New("unknown deployment mode")

// ParseDeploymentMode parses the VALINE_ENV value.
func ParseDeploymentMode(raw string) (DeploymentMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "development", "dev":
		return ModeDevelopment, nil
	case "production", "prod":
		return ModeProduction, nil
	default:
		return "", ErrUnknownMode
	}
}

// Config controls auth API behavior and cookie attributes.
type Config struct {
	Mode DeploymentMode

	CookieDomain string
	CookiePath   string

	AccessCookieName  string
	RefreshCookieName string
	CSRFCookieName    string
	CSRFHeaderName    string

	TrustProxy   bool
	MaxBodyBytes int64
}

// DefaultConfig returns the standard configuration for a deployment mode.
func DefaultConfig(mode DeploymentMode) Config {
	return Config{
		Mode:              mode,
		CookiePath:        "/",
		AccessCookieName:  "access_token",
		RefreshCookieName: "refresh_token",
		CSRFCookieName:    "csrf_token",
		CSRFHeaderName:    "X-CSRF-Token",
		MaxBodyBytes:      1 << 20, // 1 MiB
	}
}

// LoadConfigFromEnv loads auth API config from environment variables with
// safe defaults. The deployment mode is passed in; it is resolved once at
// startup and is fatal when absent.
func LoadConfigFromEnv(mode DeploymentMode) Config {
	cfg := DefaultConfig(mode)
	cfg.CookieDomain = strings.TrimSpace(os.Getenv("VALINE_COOKIE_DOMAIN"))
	cfg.TrustProxy = envBool("VALINE_AUTH_TRUST_PROXY", false)
	cfg.MaxBodyBytes = envInt64("VALINE_AUTH_MAX_BODY_BYTES", 1<<20)
	return cfg
}

// cookieSecure reports whether cookies carry the Secure attribute.
func (c Config) cookieSecure() bool {
	return c.Mode == ModeProduction
}

// cookieSameSite returns the SameSite attribute for the mode. The
// production frontend is served from a different origin, which forces
// SameSite=None; None without Secure is rejected by browsers, so the two
// attributes move together.
func (c Config) cookieSameSite() http.SameSite {
	if c.Mode == ModeProduction {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
