package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/scim-gateway/gateway/internal/repo"
	"github.com/scim-gateway/gateway/internal/syncengine"
)

func TestDriftListGetAndReconcile(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Routes()

	uw := doRequest(t, router, http.MethodPost, "/scim/v2/Users", "tenant1", map[string]any{
		"userName": "carol@example.com",
	})
	var user struct{ ID string `json:"id"` }
	decodeBody(t, uw, &user)

	if err := srv.Repos.Drift.Create(context.Background(), &repo.DriftReport{
		TenantID:     "tenant1",
		ProviderID:   "provider1",
		ResourceType: "User",
		ResourceID:   user.ID,
		DriftType:    repo.DriftAttribute,
		Severity:     repo.SeverityLow,
		Expected:     map[string]any{"active": false},
	}); err != nil {
		t.Fatalf("seed drift: %v", err)
	}

	w := doRequest(t, router, http.MethodGet, "/api/drift", "tenant1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected plain application/json content type for Admin API, got %q", ct)
	}

	var listPage struct {
		Results []repo.DriftReport `json:"results"`
		Total   int                `json:"total"`
	}
	decodeBody(t, w, &listPage)
	if listPage.Total != 1 {
		t.Fatalf("expected 1 drift report, got %d", listPage.Total)
	}
	driftID := listPage.Results[0].DriftID

	w = doRequest(t, router, http.MethodGet, "/api/drift/"+driftID, "tenant1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, http.MethodPost, "/api/drift/"+driftID+"/reconcile", "tenant1", map[string]any{
		"actorId":          "admin-object-id",
		"notes":            "approved by admin",
		"applyImmediately": true,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	gw := doRequest(t, router, http.MethodGet, "/scim/v2/Users/"+user.ID, "tenant1", nil)
	var got map[string]any
	decodeBody(t, gw, &got)
	if active, _ := got["active"].(bool); active {
		t.Error("expected active=false after reconciling drift's Expected value")
	}
}

func TestConflictResolution(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Routes()

	uw := doRequest(t, router, http.MethodPost, "/scim/v2/Users", "tenant1", map[string]any{
		"userName": "dave@example.com",
	})
	var user struct{ ID string `json:"id"` }
	decodeBody(t, uw, &user)

	if err := srv.Repos.Conflicts.Create(context.Background(), &repo.ConflictReport{
		TenantID:     "tenant1",
		ProviderID:   "provider1",
		ResourceType: "User",
		ResourceID:   user.ID,
		ConflictType: repo.ConflictConcurrentUpdate,
		Severity:     repo.SeverityHigh,
		LeftSide:     map[string]any{"active": true},
		RightSide:    map[string]any{"active": false},
	}); err != nil {
		t.Fatalf("seed conflict: %v", err)
	}

	w := doRequest(t, router, http.MethodGet, "/api/conflicts", "tenant1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var listPage struct {
		Results []repo.ConflictReport `json:"results"`
		Total   int                   `json:"total"`
	}
	decodeBody(t, w, &listPage)
	if listPage.Total != 1 {
		t.Fatalf("expected 1 conflict, got %d", listPage.Total)
	}
	conflictID := listPage.Results[0].ConflictID

	t.Run("missing resolution rejected", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/conflicts/"+conflictID+"/resolve", "tenant1", map[string]any{
			"actorId": "admin-object-id",
		})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})

	w = doRequest(t, router, http.MethodPost, "/api/conflicts/"+conflictID+"/resolve", "tenant1", map[string]any{
		"actorId":    "admin-object-id",
		"notes":      "provider wins",
		"resolution": string(syncengine.ResolutionProviderWins),
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	gw := doRequest(t, router, http.MethodGet, "/scim/v2/Users/"+user.ID, "tenant1", nil)
	var got map[string]any
	decodeBody(t, gw, &got)
	if active, _ := got["active"].(bool); active {
		t.Error("expected active=false after ProviderWins resolution applied RightSide")
	}
}
