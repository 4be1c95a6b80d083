package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scim-gateway/gateway/internal/scimerr"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestValidateTokenHS256Success(t *testing.T) {
	v := NewValidator(Config{HS256Secret: "shh", ClockSkew: 5 * time.Minute})
	token := signHS256(t, "shh", jwt.MapClaims{
		"tid": "tenant1",
		"oid": "object1",
		"sub": "subject1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if claims.TenantID != "tenant1" || claims.ObjectID != "object1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ActorType() != ActorUser {
		t.Fatalf("expected ActorUser, got %v", claims.ActorType())
	}
}

func TestValidateTokenMissingTenantID(t *testing.T) {
	v := NewValidator(Config{HS256Secret: "shh"})
	token := signHS256(t, "shh", jwt.MapClaims{
		"sub": "subject1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.ValidateToken(context.Background(), token)
	se, ok := scimerr.As(err)
	if !ok || se.ScimType != "invalidTenant" {
		t.Fatalf("expected invalidTenant error, got %v", err)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	v := NewValidator(Config{HS256Secret: "correct"})
	token := signHS256(t, "wrong", jwt.MapClaims{
		"tid": "tenant1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.ValidateToken(context.Background(), token); err == nil {
		t.Fatal("expected signature validation to fail")
	}
}

func TestValidateTokenEmpty(t *testing.T) {
	v := NewValidator(Config{HS256Secret: "shh"})
	_, err := v.ValidateToken(context.Background(), "")
	se, ok := scimerr.As(err)
	if !ok || se.Kind != scimerr.KindAuth {
		t.Fatalf("expected auth error for empty token, got %v", err)
	}
}

func TestServicePrincipalActorType(t *testing.T) {
	c := Claims{TenantID: "t1", AppID: "app1"}
	if c.ActorType() != ActorServicePrincipal {
		t.Fatalf("expected ServicePrincipal when appid present without upn, got %v", c.ActorType())
	}
	c.UPN = "user@example.com"
	if c.ActorType() != ActorUser {
		t.Fatalf("expected User when upn present, got %v", c.ActorType())
	}
}

func TestHasScope(t *testing.T) {
	c := Claims{Scopes: []string{"Users.Read", "Groups.Write"}}
	if !c.HasScope("users.read") {
		t.Fatal("expected case-insensitive scope match")
	}
	if c.HasScope("Groups.Delete") {
		t.Fatal("did not expect scope match")
	}
	if !c.HasScope() {
		t.Fatal("no required scopes should always pass")
	}
}
