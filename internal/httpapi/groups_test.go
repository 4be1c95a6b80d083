package httpapi

import (
	"net/http"
	"testing"

	"github.com/scim-gateway/gateway/internal/scimmodel"
)

func TestGroupsCRUDAndMembership(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Routes()

	uw := doRequest(t, router, http.MethodPost, "/scim/v2/Users", "tenant1", map[string]any{
		"userName": "bob@example.com",
	})
	if uw.Code != http.StatusCreated {
		t.Fatalf("setup user create failed: %d: %s", uw.Code, uw.Body.String())
	}
	var user scimmodel.User
	decodeBody(t, uw, &user)

	w := doRequest(t, router, http.MethodPost, "/scim/v2/Groups", "tenant1", map[string]any{
		"displayName": "Engineering",
		"members": []map[string]any{
			{"value": user.ID, "type": "User"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var group scimmodel.Group
	decodeBody(t, w, &group)
	if len(group.Members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(group.Members))
	}
	if group.Members[0].Ref == "" {
		t.Error("expected $ref to be populated on member")
	}

	t.Run("duplicate displayName rejected", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/scim/v2/Groups", "tenant1", map[string]any{
			"displayName": "Engineering",
		})
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("repeated add yields same member set", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPatch, "/scim/v2/Groups/"+group.ID, "tenant1", map[string]any{
			"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
			"Operations": []map[string]any{
				{"op": "add", "path": "members", "value": []map[string]any{
					{"value": user.ID, "type": "User"},
				}},
			},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var patched scimmodel.Group
		decodeBody(t, w, &patched)
		if len(patched.Members) != 1 {
			t.Fatalf("expected set-semantics dedup to keep 1 member, got %d", len(patched.Members))
		}
	})

	t.Run("list groups", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/scim/v2/Groups", "tenant1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var list scimmodel.ListResponse
		decodeBody(t, w, &list)
		if list.TotalResults != 1 {
			t.Fatalf("expected 1 group, got %d", list.TotalResults)
		}
	})

	t.Run("delete group", func(t *testing.T) {
		w := doRequest(t, router, http.MethodDelete, "/scim/v2/Groups/"+group.ID, "tenant1", nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
		}
	})
}
