package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "JWT_HS256_SECRET", "JWT_JWKS_URL", "JWT_ISSUERS",
		"JWT_AUDIENCE", "JWT_VALIDATE_AUDIENCE", "AUDIT_RETENTION_DAYS",
		"DEFAULT_SYNC_DIRECTION", "RATE_LIMIT_MAX_PER_SECOND", "RATE_LIMIT_BURST",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadRejectsMissingDatabaseURL(t *testing.T) {
	clearEnv(t)
	os.Setenv("JWT_HS256_SECRET", "a-strong-secret")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when DATABASE_URL is unset")
	}
}

func TestLoadRejectsMismatchedJWKSAndIssuer(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("JWT_HS256_SECRET", "a-strong-secret")
	os.Setenv("JWT_JWKS_URL", "https://idp.example.com/jwks")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when JWKS URL is set without issuers")
	}
}

func TestLoadRejectsDefaultSecretPlaceholder(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("JWT_HS256_SECRET", "dev-secret-change-in-production")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when the HS256 secret is left at its placeholder value")
	}
}

func TestLoadRejectsShortRetention(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("JWT_HS256_SECRET", "a-strong-secret")
	os.Setenv("JWT_AUDIENCE", "api://scim-gateway")
	os.Setenv("AUDIT_RETENTION_DAYS", "30")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when retention is below the 90-day floor")
	}
}

func TestLoadSucceedsWithValidCombination(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("JWT_HS256_SECRET", "a-strong-secret")
	os.Setenv("JWT_AUDIENCE", "api://scim-gateway")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audit.RetentionDays != 90 {
		t.Fatalf("expected default retention of 90, got %d", cfg.Audit.RetentionDays)
	}
	if len(cfg.AnonymousPathPrefixes) == 0 {
		t.Fatal("expected default anonymous path prefixes")
	}
}

func TestLoadRejectsInvalidSyncDirection(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("JWT_HS256_SECRET", "a-strong-secret")
	os.Setenv("JWT_AUDIENCE", "api://scim-gateway")
	os.Setenv("DEFAULT_SYNC_DIRECTION", "Sideways")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an invalid sync direction")
	}
}
