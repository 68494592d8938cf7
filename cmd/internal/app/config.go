package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string

	// Env is the raw VALINE_ENV value. It has no default: the deployment
	// mode must be stated explicitly, and startup fails when it is absent.
	Env string

	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// SweepInterval controls how often expired sessions and stale failure
	// counters are purged. Zero disables the sweeper.
	SweepInterval time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("VALINE_HTTP_ADDR", "0.0.0.0:8080"),

		Env: EnvString("VALINE_ENV", ""),

		LogLevel:  EnvString("VALINE_LOG_LEVEL", "info"),
		LogFormat: EnvString("VALINE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("VALINE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("VALINE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("VALINE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("VALINE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("VALINE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("VALINE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("VALINE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("VALINE_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("VALINE_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvStringList("VALINE_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("VALINE_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("VALINE_CORS_MAX_AGE_SECONDS", 600),

		SweepInterval: EnvDuration("VALINE_SWEEP_INTERVAL", 10*time.Minute),
	}
}
