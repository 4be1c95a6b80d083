package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scim-gateway/gateway/internal/audit"
	"github.com/scim-gateway/gateway/internal/auth"
	"github.com/scim-gateway/gateway/internal/ratelimit"
	"github.com/scim-gateway/gateway/internal/repo"
)

const testHS256Secret = "test-secret-not-for-production"

// newTestServer builds a Server backed by repo.NewMemoryStore, matching the
// teacher's getTestDB(t) convention of swapping backing stores under the
// same interface without changing call sites, but in-process rather than a
// real Postgres instance.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := repo.NewMemoryStore()
	return &Server{
		Repos:      store.Repositories(),
		Validator:  auth.NewValidator(auth.Config{HS256Secret: testHS256Secret, ClockSkew: 5 * time.Minute}),
		Limiter:    ratelimit.NewLimiter(ratelimit.Config{MaxRequestsPerMinute: 6000, MaxRequestsPerSecond: 1000, BurstLimit: 1000}),
		FailedAuth: ratelimit.NewFailedAuthTracker(1000, time.Minute, time.Minute),
		Audit:      audit.NewPipeline(store.Repositories().Audit),
		BaseURL:    "https://scim.example.com",
		AnonymousPathPrefixes: []string{
			"/health", "/scim/v2/ServiceProviderConfig", "/scim/v2/Schemas", "/scim/v2/ResourceTypes",
		},
	}
}

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(testHS256Secret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return s
}

func bearerFor(t *testing.T, tenantID string) string {
	t.Helper()
	return "Bearer " + signTestToken(t, jwt.MapClaims{
		"tid": tenantID,
		"oid": "admin-object-id",
		"upn": "admin@" + tenantID + ".example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func doRequest(t *testing.T, router http.Handler, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequestWithHeaders(t, router, method, path, tenantID, body, nil)
}

func doRequestWithHeaders(t *testing.T, router http.Handler, method, path, tenantID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/scim+json")
	if tenantID != "" {
		req.Header.Set("Authorization", bearerFor(t, tenantID))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response body %q: %v", w.Body.String(), err)
	}
}
