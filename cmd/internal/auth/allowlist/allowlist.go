package allowlist

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gcolon75/Project-Valine-sub005/cmd/identity"
)

var (
	// ErrNotAllowed is returned when a normalized email is not on the list.
	ErrNotAllowed = errors.New("email not on allowlist")

	// ErrMisconfigured is returned from every check while strict mode is on
	// and the list has fewer than two entries. Checks fail closed.
	ErrMisconfigured = errors.New("allowlist misconfigured")
)

// minStrictEntries is the smallest list strict mode accepts. One entry (or
// none) almost always means a truncated or half-written file.
const minStrictEntries = 2

// File is the on-disk TOML shape.
//
//	strict = true
//	emails = ["a@example.com", "b@example.com"]
type File struct {
	Strict bool     `toml:"strict"`
	Emails []string `toml:"emails"`
}

// Config controls a Guard.
type Config struct {
	// Path of the TOML list file. Empty disables file loading.
	Path string

	// Emails seeds the list directly, bypassing the file. Used by the
	// environment override and by tests.
	Emails []string

	// Strict enables fail-closed handling of undersized lists.
	Strict bool

	// CacheTTL bounds how stale a file read may get between change
	// notifications.
	CacheTTL time.Duration
}

// FromEnv builds a Config from the environment.
//
//   - VALINE_ALLOWLIST_FILE: path to the TOML list
//   - VALINE_ALLOWLIST_EMAILS: comma-separated list, overriding the file
//   - VALINE_ALLOWLIST_STRICT: "true" enables strict mode
func FromEnv() Config {
	cfg := Config{
		Path:     os.Getenv("VALINE_ALLOWLIST_FILE"),
		Strict:   strings.EqualFold(os.Getenv("VALINE_ALLOWLIST_STRICT"), "true"),
		CacheTTL: time.Minute,
	}
	if v := os.Getenv("VALINE_ALLOWLIST_EMAILS"); v != "" {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.Emails = append(cfg.Emails, e)
			}
		}
	}
	return cfg
}

// Snapshot is the externally visible state, exposed on the health endpoint.
type Snapshot struct {
	Active        bool `json:"active"`
	Strict        bool `json:"strict"`
	Count         int  `json:"count"`
	Misconfigured bool `json:"misconfigured"`
}

// Guard answers allowlist membership questions against the current list.
type Guard struct {
	cfg Config
	now func() time.Time

	mu       sync.RWMutex
	entries  map[string]struct{}
	strict   bool
	loadedAt time.Time
	loadErr  error

	watcher *watcher
}

// Option customizes a Guard.
type Option func(*Guard)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New builds a Guard and performs the initial load. A load failure is not
// fatal here; it surfaces as a misconfiguration on Check when strict.
func New(cfg Config, opts ...Option) *Guard {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	g := &Guard{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.reload()
	return g
}

// Check reports whether email may register. It returns nil when allowed,
// ErrNotAllowed when the list is active and does not contain the email, and
// ErrMisconfigured while strict mode rejects the current list.
func (g *Guard) Check(email string) error {
	g.maybeReload()

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.misconfiguredLocked() {
		return ErrMisconfigured
	}
	if g.entries == nil {
		// No list configured and not strict: registration is open.
		return nil
	}
	if _, ok := g.entries[identity.NormalizeEmail(email)]; !ok {
		return ErrNotAllowed
	}
	return nil
}

// Snapshot returns the current list state.
func (g *Guard) Snapshot() Snapshot {
	g.maybeReload()

	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{
		Active:        g.entries != nil,
		Strict:        g.strict,
		Count:         len(g.entries),
		Misconfigured: g.misconfiguredLocked(),
	}
}

// Watch starts reacting to filesystem changes of the list file. It is a
// no-op when the list does not come from a file. Close releases the watch.
func (g *Guard) Watch() error {
	if g.cfg.Path == "" || len(g.cfg.Emails) > 0 {
		return nil
	}
	w, err := newWatcher(g.cfg.Path, g.reload)
	if err != nil {
		return err
	}
	g.watcher = w
	return nil
}

// Close stops the file watcher, if any.
func (g *Guard) Close() error {
	if g.watcher == nil {
		return nil
	}
	return g.watcher.close()
}

func (g *Guard) misconfiguredLocked() bool {
	if !g.strict {
		return false
	}
	return g.loadErr != nil || len(g.entries) < minStrictEntries
}

func (g *Guard) maybeReload() {
	g.mu.RLock()
	fresh := g.now().Sub(g.loadedAt) < g.cfg.CacheTTL
	g.mu.RUnlock()
	if !fresh {
		g.reload()
	}
}

func (g *Guard) reload() {
	entries, strict, err := g.load()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadedAt = g.now()
	g.loadErr = err
	if err == nil {
		g.entries = entries
		g.strict = strict
	}
	// On error the previous list stays in effect; strict mode decides
	// whether that is survivable via loadErr.
}

func (g *Guard) load() (map[string]struct{}, bool, error) {
	strict := g.cfg.Strict

	var raw []string
	switch {
	case len(g.cfg.Emails) > 0:
		raw = g.cfg.Emails
	case g.cfg.Path != "":
		var f File
		if _, err := toml.DecodeFile(g.cfg.Path, &f); err != nil {
			return nil, strict, err
		}
		raw = f.Emails
		strict = strict || f.Strict
	default:
		return nil, strict, nil
	}

	entries := make(map[string]struct{}, len(raw))
	for _, e := range raw {
		if norm := identity.NormalizeEmail(e); norm != "" {
			entries[norm] = struct{}{}
		}
	}
	return entries, strict, nil
}
