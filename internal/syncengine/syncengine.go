// Package syncengine implements the Sync Engine & Reconciler (C14): drift
// and conflict detection between the canonical store and provider state,
// plus automatic and manual reconciliation workflows. One logical task runs
// per (tenantId, providerId), scheduled via github.com/robfig/cron/v3 and
// guarded by a keyed mutex so two cycles for the same pair never run
// concurrently, grounded on the teacher's per-resource locking idiom (see
// internal/httpapi/epoch.go's lazy-row-creation pattern, reused here for the
// lazy per-pair SyncState row and its watermark guard against stale cycles).
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/scim-gateway/gateway/internal/audit"
	"github.com/scim-gateway/gateway/internal/repo"
)

// AttributeCriticality maps a canonical attribute name to the severity
// assigned when it drifts, per spec §4.14 ("severity derived from attribute
// criticality table").
var AttributeCriticality = map[string]repo.Severity{
	"active":      repo.SeverityCritical,
	"userName":    repo.SeverityHigh,
	"displayName": repo.SeverityHigh,
	"emails":      repo.SeverityMedium,
	"name":        repo.SeverityMedium,
	"phoneNumbers": repo.SeverityLow,
	"addresses":   repo.SeverityLow,
}

func defaultSeverity() repo.Severity { return repo.SeverityMedium }

// Snapshot is a side's view of one resource at diff time, expressed
// generically so both the canonical store and provider adapters (which
// exchange map[string]any documents) can be compared uniformly.
type Snapshot struct {
	Exists     bool
	Attributes map[string]any
	Members    []string // for groups; provider/canonical member IDs
	ModifiedAt int64    // unix millis, used for conflict detection
}

// DetectDrift compares a canonical snapshot against a provider snapshot for
// one resource and reports the drift found, if any, per spec §4.14. inFlight
// suppresses detection for a resource currently mid-mutation.
func DetectDrift(tenantID, providerID, resourceType, resourceID string, canonical, providerSide Snapshot, inFlight bool) *repo.DriftReport {
	if inFlight {
		return nil
	}

	if canonical.Exists != providerSide.Exists {
		return &repo.DriftReport{
			TenantID: tenantID, ProviderID: providerID, ResourceType: resourceType, ResourceID: resourceID,
			DriftType: repo.DriftExistence, Severity: repo.SeverityCritical, Timestamp: nowMillis(),
			Expected: canonical.Exists, Actual: providerSide.Exists,
		}
	}
	if !canonical.Exists {
		return nil
	}

	if resourceType == "Group" {
		if added, removed := diffMembers(canonical.Members, providerSide.Members); len(added) > 0 || len(removed) > 0 {
			return &repo.DriftReport{
				TenantID: tenantID, ProviderID: providerID, ResourceType: resourceType, ResourceID: resourceID,
				DriftType: repo.DriftMembership, Severity: repo.SeverityHigh, Timestamp: nowMillis(),
				Expected: canonical.Members, Actual: providerSide.Members,
			}
		}
	}

	attr, ok := diffAttributes(canonical.Attributes, providerSide.Attributes)
	if !ok {
		return nil
	}
	severity, ok := AttributeCriticality[attr]
	if !ok {
		severity = defaultSeverity()
	}
	return &repo.DriftReport{
		TenantID: tenantID, ProviderID: providerID, ResourceType: resourceType, ResourceID: resourceID,
		DriftType: repo.DriftAttribute, Severity: severity, Timestamp: nowMillis(),
		Expected: canonical.Attributes[attr], Actual: providerSide.Attributes[attr],
	}
}

// DetectConflict reports a conflict when both sides have changed since
// lastSyncAt (concurrent mutation), per spec §4.14.
func DetectConflict(tenantID, providerID, resourceType, resourceID string, canonical, providerSide Snapshot, lastSyncAt int64) *repo.ConflictReport {
	canonicalChanged := canonical.ModifiedAt > lastSyncAt
	providerChanged := providerSide.ModifiedAt > lastSyncAt
	if !canonicalChanged || !providerChanged {
		return nil
	}

	conflictType := repo.ConflictConcurrentUpdate
	syncBlocked := true
	switch {
	case canonical.Exists && !providerSide.Exists, !canonical.Exists && providerSide.Exists:
		conflictType = repo.ConflictDeleteVsUpdate
	}

	return &repo.ConflictReport{
		TenantID: tenantID, ProviderID: providerID, ResourceType: resourceType, ResourceID: resourceID,
		ConflictType: conflictType, Severity: repo.SeverityHigh, SyncBlocked: syncBlocked,
		Timestamp: nowMillis(), LeftSide: canonical.Attributes, RightSide: providerSide.Attributes,
	}
}

func diffMembers(canonical, providerSide []string) (added, removed []string) {
	canonicalSet := toSet(canonical)
	providerSet := toSet(providerSide)
	for m := range providerSet {
		if !canonicalSet[m] {
			added = append(added, m)
		}
	}
	for m := range canonicalSet {
		if !providerSet[m] {
			removed = append(removed, m)
		}
	}
	return added, removed
}

func toSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}

// diffAttributes returns the first attribute name whose value differs
// between the two maps (deterministic iteration order isn't required since
// callers only need *a* drifted attribute to report, not every one).
func diffAttributes(canonical, providerSide map[string]any) (string, bool) {
	for k, v := range canonical {
		pv, ok := providerSide[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(pv) {
			return k, true
		}
	}
	return "", false
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// AutoReconcileThreshold is the severity at or above which a drift can never be
// auto-reconciled even under a non-Bidirectional direction, per spec §4.14.
const AutoReconcileThreshold = repo.SeverityCritical

// ReconcileDrift applies automatic reconciliation policy: under
// Bidirectional direction, or when severity is at/above
// AutoReconcileThreshold, the drift is left pending for manual review;
// otherwise the side dictated by direction is applied and the drift is
// marked reconciled.
func ReconcileDrift(ctx context.Context, repos repo.Repositories, pipeline *audit.Pipeline, d *repo.DriftReport, direction repo.SyncDirection, apply func(ctx context.Context, d *repo.DriftReport, direction repo.SyncDirection) error) error {
	if direction == repo.DirectionBidirectional || d.Severity == AutoReconcileThreshold {
		return repos.Drift.Create(ctx, d)
	}

	if err := repos.Drift.Create(ctx, d); err != nil {
		return err
	}
	if err := apply(ctx, d, direction); err != nil {
		return err
	}
	if err := repos.Drift.MarkReconciled(ctx, d.TenantID, d.DriftID, "system", "auto-reconciled per sync direction"); err != nil {
		return err
	}

	emitDriftAudit(pipeline, d, "system", audit.ActorSystem, "auto-reconcile")
	return nil
}

// ManualReconcile implements the admin-initiated reconciliation workflow
// from spec §4.14: reload, apply the chosen side, mark reconciled, audit.
// Idempotent: a drift already marked reconciled returns success without
// side effects (enforced by the repository's MarkReconciled).
func ManualReconcile(ctx context.Context, repos repo.Repositories, pipeline *audit.Pipeline, tenantID, driftID, actorID, notes string, direction repo.SyncDirection, applyImmediately bool, apply func(ctx context.Context, d *repo.DriftReport, direction repo.SyncDirection) error) error {
	d, err := repos.Drift.GetByID(ctx, tenantID, driftID)
	if err != nil {
		return err
	}
	if d.Reconciled {
		return nil
	}

	if applyImmediately {
		if err := apply(ctx, d, direction); err != nil {
			return err
		}
	}

	if err := repos.Drift.MarkReconciled(ctx, tenantID, driftID, actorID, notes); err != nil {
		return err
	}
	emitDriftAudit(pipeline, d, actorID, audit.ActorUser, "manual-reconcile")
	return nil
}

// ConflictResolution mirrors spec §4.14's conflict resolution strategies.
type ConflictResolution string

const (
	ResolutionCanonicalWins ConflictResolution = "CanonicalWins"
	ResolutionProviderWins  ConflictResolution = "ProviderWins"
	ResolutionNewest        ConflictResolution = "Newest"
	ResolutionManual        ConflictResolution = "Manual"
)

// ResolveConflict applies a conflict resolution strategy. Manual leaves the
// conflict pending for the admin API to drive via ManualResolveConflict;
// the other strategies apply immediately and mark the conflict resolved.
func ResolveConflict(ctx context.Context, repos repo.Repositories, pipeline *audit.Pipeline, c *repo.ConflictReport, resolution ConflictResolution, canonicalModifiedAt, providerModifiedAt int64, apply func(ctx context.Context, c *repo.ConflictReport, winner ConflictResolution) error) error {
	if err := repos.Conflicts.Create(ctx, c); err != nil {
		return err
	}
	if resolution == ResolutionManual {
		return nil
	}

	winner := resolution
	if resolution == ResolutionNewest {
		if canonicalModifiedAt >= providerModifiedAt {
			winner = ResolutionCanonicalWins
		} else {
			winner = ResolutionProviderWins
		}
	}

	if err := apply(ctx, c, winner); err != nil {
		return err
	}
	if err := repos.Conflicts.MarkResolved(ctx, c.TenantID, c.ConflictID, "system", fmt.Sprintf("auto-resolved via %s", winner)); err != nil {
		return err
	}
	emitConflictAudit(pipeline, c, "system", audit.ActorSystem, string(winner))
	return nil
}

// ManualResolveConflict is the admin-API-driven counterpart to
// ResolveConflict's Manual path: an operator supplies the resolution after
// the fact. Idempotent via the repository's MarkResolved.
func ManualResolveConflict(ctx context.Context, repos repo.Repositories, pipeline *audit.Pipeline, tenantID, conflictID, actorID, notes string, resolution ConflictResolution, apply func(ctx context.Context, c *repo.ConflictReport, winner ConflictResolution) error) error {
	c, err := repos.Conflicts.GetByID(ctx, tenantID, conflictID)
	if err != nil {
		return err
	}
	if c.Resolved {
		return nil
	}
	if resolution != ResolutionManual {
		if err := apply(ctx, c, resolution); err != nil {
			return err
		}
	}
	if err := repos.Conflicts.MarkResolved(ctx, tenantID, conflictID, actorID, notes); err != nil {
		return err
	}
	emitConflictAudit(pipeline, c, actorID, audit.ActorUser, string(resolution))
	return nil
}

func emitDriftAudit(pipeline *audit.Pipeline, d *repo.DriftReport, actorID string, actorType audit.ActorType, op string) {
	if pipeline == nil {
		return
	}
	e := audit.Begin("", "", "SYNC", "")
	e.EnrichAuth(d.TenantID, actorID, actorType)
	e.Operation = op
	e.ResourceType = d.ResourceType
	e.ResourceID = d.ResourceID
	e.Finalize(200, 0, d.Expected, d.Actual, "", "")
	pipeline.Emit(e)
}

func emitConflictAudit(pipeline *audit.Pipeline, c *repo.ConflictReport, actorID string, actorType audit.ActorType, op string) {
	if pipeline == nil {
		return
	}
	e := audit.Begin("", "", "SYNC", "")
	e.EnrichAuth(c.TenantID, actorID, actorType)
	e.Operation = op
	e.ResourceType = c.ResourceType
	e.ResourceID = c.ResourceID
	e.Finalize(200, 0, c.LeftSide, c.RightSide, "", "")
	pipeline.Emit(e)
}

// Task is one scheduled sync cycle for a (tenantId, providerId) pair.
type Task struct {
	TenantID   string
	ProviderID string
	Direction  repo.SyncDirection
	Run        func(ctx context.Context, watermark int64) (newWatermark int64, err error)
}

// Scheduler runs one cron entry per registered Task, guarding each
// (tenantId, providerId) pair with a keyed mutex so overlapping cycles for
// the same pair never execute concurrently (spec §5's "two sync tasks for
// the same pair never run simultaneously").
type Scheduler struct {
	cron  *cron.Cron
	repos repo.Repositories

	mu     sync.Mutex
	inFlight map[string]*sync.Mutex
}

func NewScheduler(repos repo.Repositories) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		repos:    repos,
		inFlight: make(map[string]*sync.Mutex),
	}
}

func taskKey(tenantID, providerID string) string { return tenantID + "|" + providerID }

func (s *Scheduler) keyedMutex(tenantID, providerID string) *sync.Mutex {
	key := taskKey(tenantID, providerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.inFlight[key]
	if !ok {
		m = &sync.Mutex{}
		s.inFlight[key] = m
	}
	return m
}

// Register schedules t to run on the given cron spec (e.g. "@every 5m" for
// incremental, "@every 1h" for full scans).
func (s *Scheduler) Register(spec string, t Task) error {
	_, err := s.cron.AddFunc(spec, func() { s.runOnce(t) })
	return err
}

func (s *Scheduler) runOnce(t Task) {
	guard := s.keyedMutex(t.TenantID, t.ProviderID)
	if !guard.TryLock() {
		log.Debug().Str("tenantId", t.TenantID).Str("providerId", t.ProviderID).Msg("sync cycle already in flight, skipping")
		return
	}
	defer guard.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	state, err := s.repos.SyncState.Get(ctx, t.TenantID, t.ProviderID)
	if err != nil {
		state = &repo.SyncState{TenantID: t.TenantID, ProviderID: t.ProviderID, Direction: t.Direction}
	}

	newWatermark, err := t.Run(ctx, state.Watermark)
	if err != nil {
		log.Error().Err(err).Str("tenantId", t.TenantID).Str("providerId", t.ProviderID).Msg("sync cycle failed")
		return
	}
	if newWatermark < state.Watermark {
		// A stale or reset provider would otherwise rewind the cursor;
		// the watermark only ever advances.
		return
	}

	state.Watermark = newWatermark
	now := time.Now().UnixMilli()
	state.LastIncrementalAt = &now
	if err := s.repos.SyncState.Upsert(ctx, state); err != nil {
		log.Error().Err(err).Str("tenantId", t.TenantID).Str("providerId", t.ProviderID).Msg("failed to persist sync watermark")
	}
}

func (s *Scheduler) Start() { s.cron.Start() }
func (s *Scheduler) Stop()  { <-s.cron.Stop().Done() }
