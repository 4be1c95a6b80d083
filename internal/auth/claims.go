// Package auth implements the Token Validator + Tenant Resolver (C8):
// JWKS-backed JWT validation and derivation of the per-request TenantContext.
// Grounded on the teacher's internal/auth/jwt.go JWKS cache and dual
// RS256/HS256 validation, with the hand-rolled double-checked lock replaced
// by golang.org/x/sync/singleflight per spec §4.8's "refresh under a
// single-flight lock".
package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ActorType distinguishes a human operator from an automated client, per
// spec §3's Audit Entry actorType enum.
type ActorType string

const (
	ActorUser             ActorType = "User"
	ActorServicePrincipal ActorType = "ServicePrincipal"
)

// Claims holds the subset of JWT claims the gateway depends on, extracted
// once at validation time so downstream code never touches jwt.MapClaims.
type Claims struct {
	TenantID  string // tid
	ObjectID  string // oid
	Subject   string // sub
	AppID     string // appid (v1) / azp (v2)
	Scopes    []string
	Roles     []string
	UPN       string
	Name      string
	ExpiresAt int64
	IssuedAt  int64
	NotBefore int64
}

// ActorType applies spec §4.8's rule: ServicePrincipal when appid/azp is
// present without a user-typed subject, else User.
func (c Claims) ActorType() ActorType {
	if c.AppID != "" && c.UPN == "" {
		return ActorServicePrincipal
	}
	return ActorUser
}

// ActorID is the claim used to key audit entries and rate-limit buckets:
// oid when present (stable across token renewals), falling back to sub.
func (c Claims) ActorID() string {
	if c.ObjectID != "" {
		return c.ObjectID
	}
	return c.Subject
}

// HasScope reports whether any required scope is present among the token's
// scopes or roles (role-based service principals authorize via roles, not
// delegated scopes).
func (c Claims) HasScope(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, got := range c.Scopes {
			if strings.EqualFold(got, want) {
				return true
			}
		}
		for _, got := range c.Roles {
			if strings.EqualFold(got, want) {
				return true
			}
		}
	}
	return false
}

func claimsFromMap(m jwt.MapClaims) Claims {
	c := Claims{
		TenantID: stringClaim(m, "tid"),
		ObjectID: stringClaim(m, "oid"),
		Subject:  stringClaim(m, "sub"),
		UPN:      stringClaim(m, "upn"),
		Name:     stringClaim(m, "name"),
	}
	c.AppID = stringClaim(m, "appid")
	if c.AppID == "" {
		c.AppID = stringClaim(m, "azp")
	}
	if scp := stringClaim(m, "scp"); scp != "" {
		c.Scopes = strings.Fields(scp)
	} else if scope := stringClaim(m, "scope"); scope != "" {
		c.Scopes = strings.Fields(scope)
	}
	c.Roles = stringSliceClaim(m, "roles")
	c.ExpiresAt = int64Claim(m, "exp")
	c.IssuedAt = int64Claim(m, "iat")
	c.NotBefore = int64Claim(m, "nbf")
	return c
}

func stringClaim(m jwt.MapClaims, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func int64Claim(m jwt.MapClaims, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func stringSliceClaim(m jwt.MapClaims, key string) []string {
	switch v := m[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
