package app

import (
	"strings"
	"testing"

	authapi "github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/api"
	"github.com/gcolon75/Project-Valine-sub005/cmd/security/token"
)

func TestValidateSecurityConfig_DevelopmentSkips(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")

	if err := ValidateSecurityConfig(authapi.ModeDevelopment); err != nil {
		t.Fatalf("development must not require an HMAC key: %v", err)
	}
}

func TestValidateSecurityConfig_ProductionRequiresKey(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")

	err := ValidateSecurityConfig(authapi.ModeProduction)
	if err == nil {
		t.Fatalf("expected error for missing key")
	}
	if !strings.Contains(err.Error(), token.HMACEnvKey) {
		t.Fatalf("error should name the env var: %v", err)
	}
}

func TestValidateSecurityConfig_ProductionRejectsShortKey(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "too-short")

	if err := ValidateSecurityConfig(authapi.ModeProduction); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestValidateSecurityConfig_ProductionAcceptsStrongKey(t *testing.T) {
	t.Setenv(token.HMACEnvKey, strings.Repeat("k", 32))

	if err := ValidateSecurityConfig(authapi.ModeProduction); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
