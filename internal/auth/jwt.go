package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/scim-gateway/gateway/internal/scimerr"
)

// Config holds Token Validator settings, sourced from internal/config.
type Config struct {
	// JWKSURL is the JWKS endpoint discovered from the OIDC metadata
	// endpoint at startup (internal/config resolves metadataEndpoint ->
	// JWKSURL once; this package only ever fetches keys, never metadata).
	JWKSURL string
	// Issuers is the configurable allow-list from spec §4.8. Empty means
	// "accept any issuer" (dev mode only).
	Issuers []string
	// Audiences is the configurable accepted-audience set. Empty means
	// "skip audience validation".
	Audiences []string
	// ClockSkew bounds exp/nbf validation leeway (spec: "≤5 min skew").
	ClockSkew time.Duration
	// HS256Secret enables a backend/dev signing path alongside JWKS-backed
	// RS256, matching the teacher's dual-mode ValidateToken.
	HS256Secret string
	// RequiredScopes gates admission independent of any specific handler's
	// scope check; handlers may additionally call Claims.HasScope.
	RequiredScopes []string
}

// jwk is a single entry of a JWKS document.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

// JWKSCache fetches and caches RSA public keys by kid, refreshing at most
// once per hour unless a kid miss forces an out-of-band refresh. Concurrent
// refreshes collapse onto a single in-flight fetch via singleflight,
// replacing the teacher's hand-rolled double-checked lock.
type JWKSCache struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time

	group singleflight.Group
}

func NewJWKSCache(url string) *JWKSCache {
	return &JWKSCache{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ttl:        time.Hour,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

func (c *JWKSCache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastFetch) >= c.ttl || len(c.keys) == 0
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return nil, c.fetch(ctx)
	})
	return err
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read JWKS response: %w", err)
	}
	var doc jwksResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Use != "sig" {
			continue
		}
		pub, err := rsaPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("no usable RSA signing keys in JWKS")
	}

	c.mu.Lock()
	c.keys = keys
	c.lastFetch = time.Now()
	c.mu.Unlock()
	return nil
}

func rsaPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

// Get returns the public key for kid, refreshing the cache first if stale
// and forcing a refresh on a cache miss (handles key rotation).
func (c *JWKSCache) Get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if c.stale() {
		if err := c.refresh(ctx); err != nil {
			// stale-but-present keys are still usable; only fail if we
			// have nothing cached at all.
			c.mu.RLock()
			empty := len(c.keys) == 0
			c.mu.RUnlock()
			if empty {
				return nil, err
			}
		}
	}
	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("key %s not found, refresh failed: %w", kid, err)
	}
	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key id %s not found in JWKS after refresh", kid)
	}
	return key, nil
}

// Validator validates SCIM gateway bearer tokens against JWKS (RS256,
// upstream IdP) or a shared secret (HS256, backend/dev), per spec §4.8.
type Validator struct {
	cfg   Config
	jwks  *JWKSCache
}

func NewValidator(cfg Config) *Validator {
	v := &Validator{cfg: cfg}
	if cfg.JWKSURL != "" {
		v.jwks = NewJWKSCache(cfg.JWKSURL)
	}
	return v
}

// ValidateToken parses and validates tokenString, returning extracted
// Claims or a *scimerr.Error from the taxonomy in spec §4.8.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, scimerr.MissingBearer()
	}

	mapClaims := jwt.MapClaims{}
	parserOpts := []jwt.ParserOption{jwt.WithLeeway(v.cfg.ClockSkew)}
	token, err := jwt.ParseWithClaims(tokenString, mapClaims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if v.jwks == nil {
				return nil, fmt.Errorf("RS256 token presented but no JWKS configured")
			}
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("missing kid in token header")
			}
			return v.jwks.Get(ctx, kid)
		case *jwt.SigningMethodHMAC:
			if v.cfg.HS256Secret == "" {
				return nil, fmt.Errorf("HS256 token presented but no shared secret configured")
			}
			return []byte(v.cfg.HS256Secret), nil
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
	}, parserOpts...)
	if err != nil || !token.Valid {
		return Claims{}, scimerr.InvalidToken(fmt.Sprintf("token validation failed: %v", err))
	}

	if len(v.cfg.Issuers) > 0 {
		iss, _ := mapClaims["iss"].(string)
		if !containsExact(v.cfg.Issuers, iss) {
			return Claims{}, scimerr.InvalidToken("invalid issuer")
		}
	}
	if len(v.cfg.Audiences) > 0 {
		if !audienceMatches(mapClaims["aud"], v.cfg.Audiences) {
			return Claims{}, scimerr.InvalidToken("invalid audience")
		}
	}

	claims := claimsFromMap(mapClaims)
	if claims.TenantID == "" {
		return Claims{}, scimerr.InvalidTenant("token is missing the tid claim")
	}
	if !claims.HasScope(v.cfg.RequiredScopes...) {
		return Claims{}, scimerr.InsufficientScope(fmt.Sprintf("requires one of %v", v.cfg.RequiredScopes))
	}
	return claims, nil
}

func containsExact(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func audienceMatches(aud interface{}, accepted []string) bool {
	switch v := aud.(type) {
	case string:
		return containsExact(accepted, v)
	case []interface{}:
		for _, a := range v {
			if s, ok := a.(string); ok && containsExact(accepted, s) {
				return true
			}
		}
	}
	return false
}
