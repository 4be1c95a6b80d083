package syncengine

import (
	"context"
	"testing"

	"github.com/scim-gateway/gateway/internal/audit"
	"github.com/scim-gateway/gateway/internal/repo"
)

func TestDetectDriftExistenceMismatch(t *testing.T) {
	d := DetectDrift("t1", "p1", "User", "u1",
		Snapshot{Exists: true}, Snapshot{Exists: false}, false)
	if d == nil || d.DriftType != repo.DriftExistence {
		t.Fatalf("expected existence drift, got %+v", d)
	}
	if d.Severity != repo.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", d.Severity)
	}
}

func TestDetectDriftSuppressedInFlight(t *testing.T) {
	d := DetectDrift("t1", "p1", "User", "u1",
		Snapshot{Exists: true}, Snapshot{Exists: false}, true)
	if d != nil {
		t.Fatalf("expected no drift while in-flight, got %+v", d)
	}
}

func TestDetectDriftMembership(t *testing.T) {
	d := DetectDrift("t1", "p1", "Group", "g1",
		Snapshot{Exists: true, Members: []string{"u1", "u2"}},
		Snapshot{Exists: true, Members: []string{"u1", "u3"}}, false)
	if d == nil || d.DriftType != repo.DriftMembership {
		t.Fatalf("expected membership drift, got %+v", d)
	}
}

func TestDetectDriftAttribute(t *testing.T) {
	d := DetectDrift("t1", "p1", "User", "u1",
		Snapshot{Exists: true, Attributes: map[string]any{"active": true}},
		Snapshot{Exists: true, Attributes: map[string]any{"active": false}}, false)
	if d == nil || d.DriftType != repo.DriftAttribute {
		t.Fatalf("expected attribute drift, got %+v", d)
	}
	if d.Severity != repo.SeverityCritical {
		t.Fatalf("expected active's criticality to be critical, got %s", d.Severity)
	}
}

func TestDetectDriftNoneWhenIdentical(t *testing.T) {
	d := DetectDrift("t1", "p1", "User", "u1",
		Snapshot{Exists: true, Attributes: map[string]any{"active": true}},
		Snapshot{Exists: true, Attributes: map[string]any{"active": true}}, false)
	if d != nil {
		t.Fatalf("expected no drift, got %+v", d)
	}
}

func TestDetectConflictRequiresBothSidesChanged(t *testing.T) {
	c := DetectConflict("t1", "p1", "User", "u1",
		Snapshot{ModifiedAt: 100}, Snapshot{ModifiedAt: 50}, 80)
	if c != nil {
		t.Fatalf("expected no conflict when only canonical changed, got %+v", c)
	}

	c = DetectConflict("t1", "p1", "User", "u1",
		Snapshot{ModifiedAt: 100, Exists: true}, Snapshot{ModifiedAt: 90, Exists: true}, 80)
	if c == nil || c.ConflictType != repo.ConflictConcurrentUpdate {
		t.Fatalf("expected a concurrent-update conflict, got %+v", c)
	}
}

func TestDetectConflictDeleteVsUpdate(t *testing.T) {
	c := DetectConflict("t1", "p1", "User", "u1",
		Snapshot{ModifiedAt: 100, Exists: false}, Snapshot{ModifiedAt: 90, Exists: true}, 80)
	if c == nil || c.ConflictType != repo.ConflictDeleteVsUpdate {
		t.Fatalf("expected delete-vs-update conflict, got %+v", c)
	}
}

func newRepos() repo.Repositories {
	return repo.NewMemoryStore().Repositories()
}

func TestManualReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()
	d := &repo.DriftReport{DriftID: "d1", TenantID: "t1", ProviderID: "p1", ResourceType: "User", ResourceID: "u1", DriftType: repo.DriftAttribute, Severity: repo.SeverityMedium}
	if err := repos.Drift.Create(ctx, d); err != nil {
		t.Fatalf("create drift: %v", err)
	}

	applyCalls := 0
	apply := func(ctx context.Context, d *repo.DriftReport, direction repo.SyncDirection) error {
		applyCalls++
		return nil
	}

	pipeline := audit.NewPipeline(noopSink{})

	if err := ManualReconcile(ctx, repos, pipeline, "t1", "d1", "actor1", "looks good", repo.DirectionEntraToSaas, true, apply); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if err := ManualReconcile(ctx, repos, pipeline, "t1", "d1", "actor1", "looks good", repo.DirectionEntraToSaas, true, apply); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if applyCalls != 1 {
		t.Fatalf("expected apply to run exactly once across idempotent resubmission, got %d", applyCalls)
	}
}

func TestResolveConflictManualStrategyStaysPending(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()
	c := &repo.ConflictReport{ConflictID: "c1", TenantID: "t1", ProviderID: "p1", ResourceType: "User", ResourceID: "u1"}
	pipeline := audit.NewPipeline(noopSink{})

	applyCalls := 0
	apply := func(ctx context.Context, c *repo.ConflictReport, winner ConflictResolution) error {
		applyCalls++
		return nil
	}

	if err := ResolveConflict(ctx, repos, pipeline, c, ResolutionManual, 0, 0, apply); err != nil {
		t.Fatalf("resolve conflict: %v", err)
	}
	if applyCalls != 0 {
		t.Fatal("manual resolution must not auto-apply")
	}

	got, err := repos.Conflicts.GetByID(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("get conflict: %v", err)
	}
	if got.Resolved {
		t.Fatal("manual conflicts must stay pending until an admin resolves them")
	}
}

func TestResolveConflictNewestPicksLatestSide(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()
	c := &repo.ConflictReport{ConflictID: "c2", TenantID: "t1", ProviderID: "p1", ResourceType: "User", ResourceID: "u2"}
	pipeline := audit.NewPipeline(noopSink{})

	var winnerSeen ConflictResolution
	apply := func(ctx context.Context, c *repo.ConflictReport, winner ConflictResolution) error {
		winnerSeen = winner
		return nil
	}

	if err := ResolveConflict(ctx, repos, pipeline, c, ResolutionNewest, 100, 200, apply); err != nil {
		t.Fatalf("resolve conflict: %v", err)
	}
	if winnerSeen != ResolutionProviderWins {
		t.Fatalf("expected the newer provider side to win, got %s", winnerSeen)
	}
}

type noopSink struct{}

func (noopSink) Append(ctx context.Context, e audit.Entry) error { return nil }
