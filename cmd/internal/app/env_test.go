package app

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("T_STR", "  value  ")
	t.Setenv("T_BOOL", "true")
	t.Setenv("T_INT", "42")
	t.Setenv("T_INT_BAD", "-3")
	t.Setenv("T_DUR", "90s")
	t.Setenv("T_LIST", "a, b,,c ")

	if got := EnvString("T_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("T_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default=%q", got)
	}
	if !EnvBool("T_BOOL", false) {
		t.Fatalf("EnvBool=false")
	}
	if got := EnvInt("T_INT", 1); got != 42 {
		t.Fatalf("EnvInt=%d", got)
	}
	if got := EnvInt("T_INT_BAD", 7); got != 7 {
		t.Fatalf("EnvInt negative should fall back, got %d", got)
	}
	if got := EnvDuration("T_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvStringList("T_LIST", nil); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("EnvStringList=%v", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("VALINE_HTTP_ADDR", "")
	t.Setenv("VALINE_ENV", "")
	t.Setenv("VALINE_SWEEP_INTERVAL", "")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.Env != "" {
		t.Fatalf("Env must have no default, got %q", cfg.Env)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Fatalf("SweepInterval=%v", cfg.SweepInterval)
	}
}
