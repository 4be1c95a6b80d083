// Package config loads the gateway's environment-variable configuration and
// validates the option combinations enumerated in spec §6. Grounded on the
// teacher's cmd/server/main.go env() helper and its JWKS/issuer pairing
// fatal-check idiom, generalized to the full set of gateway options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/scim-gateway/gateway/internal/auth"
	"github.com/scim-gateway/gateway/internal/ratelimit"
	"github.com/scim-gateway/gateway/internal/repo"
	"github.com/scim-gateway/gateway/internal/retry"
)

// TokenConfig is the Token configuration group from spec §6.
type TokenConfig struct {
	Issuers            []string
	Audience           string
	MetadataEndpoint   string
	ClockSkew          time.Duration
	RequiredScopes     []string
	ValidateIssuer     bool
	ValidateAudience   bool
	ValidateLifetime   bool
	ValidateSigningKey bool
}

// TimeoutConfig is the Timeouts configuration group from spec §6.
type TimeoutConfig struct {
	Connection time.Duration
	Request    time.Duration
	Total      time.Duration
	Idle       time.Duration
}

// AuditConfig is the Audit configuration group from spec §6.
type AuditConfig struct {
	EnablePIIRedaction bool
	LogRequestBodies   bool
	MaxBodySize        int
	RetentionDays      int
}

// Config is the full gateway configuration assembled from the environment.
type Config struct {
	HTTPAddr            string
	DatabaseURL         string
	HS256Secret         string
	JWKSURL             string
	Token               TokenConfig
	RateLimit           ratelimit.Config
	MaxFailedAuthAttempts int
	LockoutDuration     time.Duration
	Timeouts            TimeoutConfig
	Retry               retry.Policy
	Audit               AuditConfig
	DefaultSyncDirection repo.SyncDirection
	AnonymousPathPrefixes []string
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envList(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads every gateway configuration option from the environment and
// validates cross-option invariants, returning a descriptive error rather
// than calling log.Fatal directly so callers (tests, cmd/gateway) control
// the fatal path themselves.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		DatabaseURL: env("DATABASE_URL", ""),
		HS256Secret: env("JWT_HS256_SECRET", ""),
		JWKSURL:     env("JWT_JWKS_URL", ""),
		Token: TokenConfig{
			Issuers:            envList("JWT_ISSUERS"),
			Audience:           env("JWT_AUDIENCE", ""),
			MetadataEndpoint:   env("JWT_METADATA_ENDPOINT", ""),
			ClockSkew:          envDuration("JWT_CLOCK_SKEW", 2*time.Minute),
			RequiredScopes:     envList("JWT_REQUIRED_SCOPES"),
			ValidateIssuer:     envBool("JWT_VALIDATE_ISSUER", true),
			ValidateAudience:   envBool("JWT_VALIDATE_AUDIENCE", true),
			ValidateLifetime:   envBool("JWT_VALIDATE_LIFETIME", true),
			ValidateSigningKey: envBool("JWT_VALIDATE_SIGNING_KEY", true),
		},
		RateLimit: ratelimit.Config{
			MaxRequestsPerMinute: envInt("RATE_LIMIT_MAX_PER_MINUTE", 600),
			MaxRequestsPerSecond: envInt("RATE_LIMIT_MAX_PER_SECOND", 20),
			BurstLimit:           envInt("RATE_LIMIT_BURST", 40),
			QueueOnLimit:         envBool("RATE_LIMIT_QUEUE_ON_LIMIT", false),
			MaxQueueTime:         envDuration("RATE_LIMIT_MAX_QUEUE_TIME", 0),
		},
		MaxFailedAuthAttempts: envInt("MAX_FAILED_AUTH_ATTEMPTS", 5),
		LockoutDuration:        envDuration("LOCKOUT_DURATION", 15*time.Minute),
		Timeouts: TimeoutConfig{
			Connection: envDuration("TIMEOUT_CONNECTION", 5*time.Second),
			Request:    envDuration("TIMEOUT_REQUEST", 15*time.Second),
			Total:      envDuration("TIMEOUT_TOTAL", 30*time.Second),
			Idle:       envDuration("TIMEOUT_IDLE", 120*time.Second),
		},
		Retry: retry.Policy{
			MaxRetries:           envInt("RETRY_MAX_RETRIES", 5),
			InitialDelay:         envDuration("RETRY_INITIAL_DELAY", 200*time.Millisecond),
			MaxDelay:             envDuration("RETRY_MAX_DELAY", 30*time.Second),
			BackoffMultiplier:    envFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
			UseJitter:            envBool("RETRY_USE_JITTER", true),
			RetryableStatusCodes: retry.DefaultRetryableStatusCodes(),
		},
		Audit: AuditConfig{
			EnablePIIRedaction: envBool("AUDIT_ENABLE_PII_REDACTION", true),
			LogRequestBodies:   envBool("AUDIT_LOG_REQUEST_BODIES", false),
			MaxBodySize:        envInt("AUDIT_MAX_BODY_SIZE", 8192),
			RetentionDays:      envInt("AUDIT_RETENTION_DAYS", 90),
		},
		DefaultSyncDirection:  repo.SyncDirection(env("DEFAULT_SYNC_DIRECTION", string(repo.DirectionBidirectional))),
		AnonymousPathPrefixes: envListOrDefault("ANONYMOUS_PATH_PREFIXES", []string{"/health", "/scim/v2/ServiceProviderConfig", "/scim/v2/Schemas", "/scim/v2/ResourceTypes"}),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envListOrDefault(k string, def []string) []string {
	if v := envList(k); v != nil {
		return v
	}
	return def
}

// validate enforces the fatal-on-invalid-combination checks from spec §6,
// generalizing the teacher's single JWKS/issuer pairing check to every
// option combination that can silently misconfigure authentication or
// compliance posture.
func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}

	// A JWKS URL without a configured issuer would accept RS256 tokens from
	// any signer; an issuer without a JWKS URL has no key material to
	// validate signatures against. Both must be set together, mirroring the
	// teacher's own JWKS/issuer pairing check.
	hasJWKS := c.JWKSURL != ""
	hasIssuer := len(c.Token.Issuers) > 0
	if hasJWKS != hasIssuer {
		return fmt.Errorf("config: JWT_JWKS_URL and JWT_ISSUERS must both be set or both be empty")
	}

	if c.HS256Secret == "" && !hasJWKS {
		return fmt.Errorf("config: at least one of JWT_HS256_SECRET or JWT_JWKS_URL/JWT_ISSUERS must be configured")
	}
	if c.HS256Secret == "dev-secret-change-in-production" {
		return fmt.Errorf("config: JWT_HS256_SECRET must not use the default placeholder value")
	}

	if c.Token.ValidateAudience && c.Token.Audience == "" {
		return fmt.Errorf("config: JWT_VALIDATE_AUDIENCE is enabled but JWT_AUDIENCE is empty")
	}

	if c.Audit.RetentionDays < 90 {
		return fmt.Errorf("config: AUDIT_RETENTION_DAYS must be >= 90, got %d", c.Audit.RetentionDays)
	}

	switch c.DefaultSyncDirection {
	case repo.DirectionEntraToSaas, repo.DirectionSaasToEntra, repo.DirectionBidirectional:
	default:
		return fmt.Errorf("config: invalid DEFAULT_SYNC_DIRECTION %q", c.DefaultSyncDirection)
	}

	if c.RateLimit.MaxRequestsPerSecond <= 0 || c.RateLimit.BurstLimit <= 0 {
		return fmt.Errorf("config: rate limit maxRequestsPerSecond and burstLimit must be positive")
	}

	return nil
}

// AuthValidatorConfig translates the loaded config into auth.Config for
// constructing the JWT validator.
func (c *Config) AuthValidatorConfig() auth.Config {
	return auth.Config{
		JWKSURL:        c.JWKSURL,
		Issuers:        c.Token.Issuers,
		Audiences:      audiences(c.Token.Audience),
		ClockSkew:      c.Token.ClockSkew,
		HS256Secret:    c.HS256Secret,
		RequiredScopes: c.Token.RequiredScopes,
	}
}

func audiences(primary string) []string {
	if primary == "" {
		return nil
	}
	return []string{primary}
}
