package repo

import (
	"context"
	"testing"

	"github.com/scim-gateway/gateway/internal/etag"
	"github.com/scim-gateway/gateway/internal/scimfilter"
	"github.com/scim-gateway/gateway/internal/scimmodel"
)

func TestMemoryUsersCreateGetList(t *testing.T) {
	store := NewMemoryStore().Repositories()
	ctx := context.Background()

	u := &scimmodel.User{UserName: "alice@example.com"}
	if err := store.Users.Create(ctx, "tenant1", u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" || u.Meta.Version == "" {
		t.Fatalf("expected id/version to be populated, got %+v", u.Meta)
	}

	got, err := store.Users.GetByID(ctx, "tenant1", u.ID)
	if err != nil {
		t.Fatalf("getByID: %v", err)
	}
	if got.UserName != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := store.Users.GetByID(ctx, "tenant2", u.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}

	list, total, err := store.Users.List(ctx, "tenant1", ListParams{StartIndex: 1, Count: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Fatalf("expected 1 result, got %d/%d", len(list), total)
	}
}

func TestMemoryUsersUniquenessViolation(t *testing.T) {
	store := NewMemoryStore().Repositories()
	ctx := context.Background()

	u1 := &scimmodel.User{UserName: "bob@example.com"}
	u2 := &scimmodel.User{UserName: "BOB@example.com"}
	if err := store.Users.Create(ctx, "tenant1", u1); err != nil {
		t.Fatalf("create u1: %v", err)
	}
	if err := store.Users.Create(ctx, "tenant1", u2); err != ErrUniqueness {
		t.Fatalf("expected case-insensitive ErrUniqueness, got %v", err)
	}
	// Same userName is fine in a different tenant.
	if err := store.Users.Create(ctx, "tenant2", u2); err != nil {
		t.Fatalf("expected create to succeed in a different tenant: %v", err)
	}
}

func TestMemoryUsersUpdateIfMatch(t *testing.T) {
	store := NewMemoryStore().Repositories()
	ctx := context.Background()

	u := &scimmodel.User{UserName: "carol@example.com"}
	if err := store.Users.Create(ctx, "tenant1", u); err != nil {
		t.Fatalf("create: %v", err)
	}
	staleVersion := u.Meta.Version

	u.DisplayName = "Carol"
	if err := store.Users.Update(ctx, "tenant1", u, ""); err != nil {
		t.Fatalf("update with no If-Match should always succeed: %v", err)
	}

	u.DisplayName = "Carol Updated"
	err := store.Users.Update(ctx, "tenant1", u, staleVersion)
	var mismatch *etag.VersionMismatch
	if !asVersionMismatch(err, &mismatch) {
		t.Fatalf("expected *etag.VersionMismatch on stale If-Match, got %v", err)
	}

	u.DisplayName = "Carol Final"
	if err := store.Users.Update(ctx, "tenant1", u, u.Meta.Version); err != nil {
		t.Fatalf("update with fresh If-Match should succeed: %v", err)
	}
}

func asVersionMismatch(err error, target **etag.VersionMismatch) bool {
	vm, ok := err.(*etag.VersionMismatch)
	if ok {
		*target = vm
	}
	return ok
}

func TestMemoryGroupsMembershipAndFilter(t *testing.T) {
	store := NewMemoryStore().Repositories()
	ctx := context.Background()

	g := &scimmodel.Group{
		DisplayName: "Engineers",
		Members:     []scimmodel.Member{{Value: "user-1"}, {Value: "user-1"}, {Value: "user-2"}},
	}
	if err := store.Groups.Create(ctx, "tenant1", g); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(g.Members) != 2 {
		t.Fatalf("expected deduped membership, got %d", len(g.Members))
	}

	node, err := scimfilter.Parse(`displayName eq "Engineers"`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	list, total, err := store.Groups.List(ctx, "tenant1", ListParams{StartIndex: 1, Count: 10, Filter: node})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Fatalf("expected filter to match 1 group, got %d/%d", len(list), total)
	}
}

func TestMemoryDriftReconcileIsIdempotent(t *testing.T) {
	store := NewMemoryStore().Repositories()
	ctx := context.Background()

	d := &DriftReport{TenantID: "tenant1", ProviderID: "prov1", DriftType: DriftAttribute}
	if err := store.Drift.Create(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Drift.MarkReconciled(ctx, "tenant1", d.DriftID, "actor1", "fixed"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	// Re-submitting an already-reconciled report is a no-op success.
	if err := store.Drift.MarkReconciled(ctx, "tenant1", d.DriftID, "actor2", "resubmitted"); err != nil {
		t.Fatalf("idempotent reconcile should succeed: %v", err)
	}
	got, err := store.Drift.GetByID(ctx, "tenant1", d.DriftID)
	if err != nil {
		t.Fatalf("getByID: %v", err)
	}
	if got.ReconciledBy != "actor1" {
		t.Fatalf("expected first reconcile to win, got ReconciledBy=%q", got.ReconciledBy)
	}
}

func TestMemorySyncStateUpsert(t *testing.T) {
	store := NewMemoryStore().Repositories()
	ctx := context.Background()

	if _, err := store.SyncState.Get(ctx, "tenant1", "prov1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before upsert, got %v", err)
	}
	if err := store.SyncState.Upsert(ctx, &SyncState{TenantID: "tenant1", ProviderID: "prov1", Watermark: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := store.SyncState.Get(ctx, "tenant1", "prov1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Watermark != 1 {
		t.Fatalf("expected watermark 1, got %d", got.Watermark)
	}
}
