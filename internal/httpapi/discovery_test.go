package httpapi

import (
	"net/http"
	"testing"

	"github.com/scim-gateway/gateway/internal/scimmodel"
)

func TestDiscoveryEndpointsAreAnonymous(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Routes()

	paths := []string{
		"/health",
		"/scim/v2/ServiceProviderConfig",
		"/scim/v2/Schemas",
		"/scim/v2/ResourceTypes",
	}
	for _, p := range paths {
		w := doRequest(t, router, http.MethodGet, p, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for anonymous path %s, got %d: %s", p, w.Code, w.Body.String())
		}
	}
}

func TestServiceProviderConfigAdvertisesPatchAndETag(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Routes()

	w := doRequest(t, router, http.MethodGet, "/scim/v2/ServiceProviderConfig", "", nil)
	var cfg scimmodel.ServiceProviderConfig
	decodeBody(t, w, &cfg)
	if !cfg.Patch.Supported {
		t.Error("expected Patch.Supported=true")
	}
	if !cfg.ETag.Supported {
		t.Error("expected ETag.Supported=true")
	}
	if !cfg.Filter.Supported || cfg.Filter.MaxResults <= 0 {
		t.Error("expected Filter.Supported=true with a positive MaxResults")
	}
}
