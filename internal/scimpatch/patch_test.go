package scimpatch

import (
	"testing"

	"github.com/scim-gateway/gateway/internal/scimmodel"
)

func TestApplyReplaceSimplePath(t *testing.T) {
	resource := map[string]any{"name": map[string]any{"familyName": "Smith"}}
	err := Apply(resource, []scimmodel.PatchOperation{
		{Op: "replace", Path: "name.familyName", Value: "Doe"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name := resource["name"].(map[string]any)
	if name["familyName"] != "Doe" {
		t.Fatalf("expected familyName to be replaced, got %v", name["familyName"])
	}
}

func TestApplyAddMembersIsSetSemantics(t *testing.T) {
	resource := map[string]any{"members": []any{map[string]any{"value": "U1"}}}
	op := scimmodel.PatchOperation{Op: "add", Path: "members", Value: []any{map[string]any{"value": "U2", "type": "User"}}}

	if err := Apply(resource, []scimmodel.PatchOperation{op}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Apply(resource, []scimmodel.PatchOperation{op}); err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}

	members := resource["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("expected a 2-member set after repeated identical adds, got %d", len(members))
	}
}

func TestApplyRemoveMissingTargetFails(t *testing.T) {
	resource := map[string]any{}
	err := Apply(resource, []scimmodel.PatchOperation{{Op: "remove", Path: "displayName"}})
	if err == nil {
		t.Fatal("expected an error removing a missing target")
	}
}

func TestApplyRemoveFilteredElement(t *testing.T) {
	resource := map[string]any{"emails": []any{
		map[string]any{"type": "work", "value": "a@example.com"},
		map[string]any{"type": "home", "value": "b@example.com"},
	}}
	err := Apply(resource, []scimmodel.PatchOperation{
		{Op: "remove", Path: `emails[type eq "work"]`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	emails := resource["emails"].([]any)
	if len(emails) != 1 {
		t.Fatalf("expected 1 remaining email, got %d", len(emails))
	}
}

func TestApplyReplaceRootMerge(t *testing.T) {
	resource := map[string]any{"active": true}
	err := Apply(resource, []scimmodel.PatchOperation{
		{Op: "replace", Value: map[string]any{"active": false, "displayName": "New"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resource["active"] != false || resource["displayName"] != "New" {
		t.Fatalf("unexpected resource after root merge: %+v", resource)
	}
}

func TestApplyEmptyOperationsIsRejectedByCaller(t *testing.T) {
	// Apply itself is a no-op on an empty slice; the HTTP handler layer is
	// responsible for spec §4.11's "PATCH with no operations is rejected
	// (400) — not a no-op success" rule before calling Apply.
	resource := map[string]any{"active": true}
	if err := Apply(resource, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
