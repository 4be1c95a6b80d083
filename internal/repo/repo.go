// Package repo defines the tenant-scoped repository contract (C7) for Users,
// Groups, Sync State, Drift, Conflict, and Audit, plus two implementations:
// an in-memory store for tests and a pgx-backed store for production.
// Grounded on the teacher's internal/db/pg.go pool setup and
// internal/service/syncservice/notes_service.go's transaction-wrapped
// optimistic-locking upsert, generalized from a single-owner integer version
// counter to (tenantId, resourceId) scoping with weak ETags.
package repo

import (
	"context"
	"errors"

	"github.com/scim-gateway/gateway/internal/scimfilter"
	"github.com/scim-gateway/gateway/internal/scimmodel"
)

// ErrNotFound is returned by getById/update/patch/delete when the resource
// does not exist within the caller's tenant.
var ErrNotFound = errors.New("repo: resource not found")

// ErrUniqueness is returned on a uniqueness-constraint violation.
var ErrUniqueness = errors.New("repo: uniqueness violation")

type SortOrder string

const (
	SortAscending  SortOrder = "ascending"
	SortDescending SortOrder = "descending"
)

// ListParams carries the pagination/sort/filter parameters shared by every
// list operation. Pagination is 1-based; Count > 1000 is clamped to 1000 by
// the caller (internal/httpapi) before reaching the repository. SortBy and
// SortOrder are applied to user lists only (see sortUsers); group lists
// ignore them.
type ListParams struct {
	Filter     *scimfilter.Node
	StartIndex int
	Count      int
	SortBy     string
	SortOrder  SortOrder
}

// UserRepository is the tenant-scoped contract for SCIM User persistence.
type UserRepository interface {
	Create(ctx context.Context, tenantID string, u *scimmodel.User) error
	GetByID(ctx context.Context, tenantID, id string) (*scimmodel.User, error)
	List(ctx context.Context, tenantID string, params ListParams) ([]*scimmodel.User, int, error)
	Update(ctx context.Context, tenantID string, u *scimmodel.User, ifMatch string) error
	Delete(ctx context.Context, tenantID, id string) error
	UserNameExists(ctx context.Context, tenantID, userName, excludeID string) (bool, error)
}

// GroupRepository is the tenant-scoped contract for SCIM Group persistence.
type GroupRepository interface {
	Create(ctx context.Context, tenantID string, g *scimmodel.Group) error
	GetByID(ctx context.Context, tenantID, id string) (*scimmodel.Group, error)
	List(ctx context.Context, tenantID string, params ListParams) ([]*scimmodel.Group, int, error)
	Update(ctx context.Context, tenantID string, g *scimmodel.Group, ifMatch string) error
	Delete(ctx context.Context, tenantID, id string) error
	DisplayNameExists(ctx context.Context, tenantID, displayName, excludeID string) (bool, error)
}

// SyncDirection mirrors spec §3's Sync State direction enum.
type SyncDirection string

const (
	DirectionEntraToSaas  SyncDirection = "EntraToSaas"
	DirectionSaasToEntra  SyncDirection = "SaasToEntra"
	DirectionBidirectional SyncDirection = "Bidirectional"
)

type SyncState struct {
	TenantID         string
	ProviderID       string
	Direction        SyncDirection
	LastFullSyncAt   *int64 // unix millis
	LastIncrementalAt *int64
	Cursor           string
	Status           string
	Watermark        int64 // monotonic epoch guard, see internal/syncengine
}

type SyncStateRepository interface {
	Get(ctx context.Context, tenantID, providerID string) (*SyncState, error)
	Upsert(ctx context.Context, s *SyncState) error
}

type DriftType string

const (
	DriftAttribute DriftType = "AttributeDrift"
	DriftMembership DriftType = "MembershipDrift"
	DriftExistence  DriftType = "ExistenceDrift"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type DriftReport struct {
	DriftID      string
	TenantID     string
	ProviderID   string
	ResourceType string
	ResourceID   string
	DriftType    DriftType
	Severity     Severity
	Timestamp    int64
	Reconciled   bool
	ReconciledBy string
	Notes        string
	Expected     any
	Actual       any
}

type DriftFilter struct {
	TenantID     string
	ProviderID   string
	ResourceType string
	Severity     Severity
	Reconciled   *bool
	Since        int64
	Until        int64
	StartIndex   int
	Count        int
}

type DriftRepository interface {
	Create(ctx context.Context, d *DriftReport) error
	GetByID(ctx context.Context, tenantID, driftID string) (*DriftReport, error)
	List(ctx context.Context, f DriftFilter) ([]*DriftReport, int, error)
	MarkReconciled(ctx context.Context, tenantID, driftID, actorID, notes string) error
}

type ConflictType string

const (
	ConflictConcurrentUpdate ConflictType = "ConcurrentUpdate"
	ConflictDeleteVsUpdate   ConflictType = "DeleteVsUpdate"
	ConflictUniqueness       ConflictType = "UniquenessCollision"
)

type ConflictReport struct {
	ConflictID   string
	TenantID     string
	ProviderID   string
	ResourceType string
	ResourceID   string
	ConflictType ConflictType
	Severity     Severity
	SyncBlocked  bool
	Resolved     bool
	ResolvedBy   string
	Notes        string
	Timestamp    int64
	LeftSide     any
	RightSide    any
}

type ConflictFilter struct {
	TenantID     string
	ProviderID   string
	ResourceType string
	Severity     Severity
	Resolved     *bool
	Since        int64
	Until        int64
	StartIndex   int
	Count        int
}

type ConflictRepository interface {
	Create(ctx context.Context, c *ConflictReport) error
	GetByID(ctx context.Context, tenantID, conflictID string) (*ConflictReport, error)
	List(ctx context.Context, f ConflictFilter) ([]*ConflictReport, int, error)
	MarkResolved(ctx context.Context, tenantID, conflictID, actorID, notes string) error
}

// Repositories bundles every contract the service layer depends on.
type Repositories struct {
	Users     UserRepository
	Groups    GroupRepository
	SyncState SyncStateRepository
	Drift     DriftRepository
	Conflicts ConflictRepository
	Audit     AuditRepository
}

// AuditRepository is the append-only audit store; it satisfies audit.Sink.
type AuditRepository interface {
	Append(ctx context.Context, e AuditEntry) error
	List(ctx context.Context, tenantID string, startIndex, count int) ([]AuditEntry, int, error)
}

// AuditEntry mirrors audit.Entry's shape without importing the audit package,
// avoiding an import cycle (audit -> repo would be the natural dependency,
// since audit.Sink is implemented here).
type AuditEntry struct {
	ID             string
	TimestampMs    int64
	RequestID      string
	CorrelationID  string
	TenantID       string
	ActorID        string
	ActorType      string
	Operation      string
	ResourceType   string
	ResourceID     string
	HTTPStatus     int
	HTTPMethod     string
	RequestPath    string
	ResponseTimeMs int64
	OldValue       string
	NewValue       string
	ErrorCode      string
	ErrorMessage   string
}

// Clamp applies the list pagination bounds from spec §4.7: count > 1000 is
// clamped to 1000. startIndex < 1 and count < 0 are invalid per spec §4.7/§8
// and must be rejected by the caller (see internal/httpapi's
// parseListParams) before calling Clamp — Clamp itself never silently
// coerces an out-of-range startIndex.
func Clamp(p ListParams) ListParams {
	if p.Count > 1000 {
		p.Count = 1000
	}
	return p
}
