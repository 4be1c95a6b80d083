package repo

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scim-gateway/gateway/internal/etag"
	"github.com/scim-gateway/gateway/internal/scimmodel"
)

// Schema (applied out-of-band via migrations, not by this package):
//
//   CREATE TABLE scim_user (
//     id UUID PRIMARY KEY, tenant_id TEXT NOT NULL, user_name TEXT NOT NULL,
//     version TEXT NOT NULL, doc JSONB NOT NULL,
//     created_at TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL
//   );
//   CREATE UNIQUE INDEX scim_user_tenant_username_ci
//     ON scim_user (tenant_id, lower(user_name));
//
//   CREATE TABLE scim_group ( ... displayName analog ... );
//   CREATE TABLE sync_state (tenant_id TEXT, provider_id TEXT, doc JSONB,
//     PRIMARY KEY (tenant_id, provider_id));
//   CREATE TABLE drift_report (drift_id UUID PRIMARY KEY, tenant_id TEXT, doc JSONB);
//   CREATE TABLE conflict_report (conflict_id UUID PRIMARY KEY, tenant_id TEXT, doc JSONB);
//   CREATE TABLE audit_entry (id UUID PRIMARY KEY, tenant_id TEXT, ts TIMESTAMPTZ, doc JSONB);
//
// Every table carries tenant_id as the leading column of its primary access
// path, per spec §3's partitioning invariant.

// PostgresStore implements the repository contract against Postgres via pgx,
// adapted from the teacher's internal/db/pg.go pool and
// internal/service/syncservice/notes_service.go's transaction-wrapped
// optimistic-locking upsert (generalized from an integer version column to a
// weak ETag string).
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) Repositories() Repositories {
	return Repositories{
		Users:     &pgUsers{pool: p.pool},
		Groups:    &pgGroups{pool: p.pool},
		SyncState: &pgSyncState{pool: p.pool},
		Drift:     &pgDrift{pool: p.pool},
		Conflicts: &pgConflicts{pool: p.pool},
		Audit:     &pgAudit{pool: p.pool},
	}
}

type pgUsers struct{ pool *pgxpool.Pool }

func (r *pgUsers) Create(ctx context.Context, tenantID string, u *scimmodel.User) error {
	u.ID = uuid.New().String()
	u.TenantID = tenantID
	now := time.Now().UTC()
	u.Meta = scimmodel.Meta{ResourceType: scimmodel.ResourceTypeUser, Created: now.Format(time.RFC3339Nano), LastModified: now.Format(time.RFC3339Nano)}
	tag, err := etag.FromResource(u)
	if err != nil {
		return err
	}
	u.Meta.Version = tag
	u.NormalizeSchemas()

	doc, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scim_user (id, tenant_id, user_name, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, u.ID, tenantID, u.UserName, u.Meta.Version, doc, now)
	if isUniqueViolation(err) {
		return ErrUniqueness
	}
	return err
}

func (r *pgUsers) GetByID(ctx context.Context, tenantID, id string) (*scimmodel.User, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM scim_user WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var u scimmodel.User
	if err := json.Unmarshal(doc, &u); err != nil {
		return nil, err
	}
	u.TenantID = tenantID
	return &u, nil
}

func (r *pgUsers) List(ctx context.Context, tenantID string, params ListParams) ([]*scimmodel.User, int, error) {
	params = Clamp(params)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM scim_user WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT doc FROM scim_user WHERE tenant_id = $1 ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var all []*scimmodel.User
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, err
		}
		var u scimmodel.User
		if err := json.Unmarshal(doc, &u); err != nil {
			return nil, 0, err
		}
		if params.Filter != nil {
			var generic map[string]any
			_ = json.Unmarshal(doc, &generic)
			if !Evaluate(params.Filter, generic) {
				continue
			}
		}
		all = append(all, &u)
	}
	if params.SortBy != "" {
		sortUsers(all, params.SortBy, params.SortOrder)
	}
	total = len(all)
	return paginate(all, params.StartIndex, params.Count), total, nil
}

func (r *pgUsers) Update(ctx context.Context, tenantID string, u *scimmodel.User, ifMatch string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var currentVersion string
	var createdDoc []byte
	err = tx.QueryRow(ctx,
		`SELECT version, doc FROM scim_user WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, u.ID,
	).Scan(&currentVersion, &createdDoc)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := etag.Validate(ifMatch, currentVersion); err != nil {
		return err
	}

	var existing scimmodel.User
	_ = json.Unmarshal(createdDoc, &existing)

	u.TenantID = tenantID
	u.Meta = existing.Meta
	u.Meta.LastModified = time.Now().UTC().Format(time.RFC3339Nano)
	tag, err := etag.FromResource(u)
	if err != nil {
		return err
	}
	u.Meta.Version = tag
	u.NormalizeSchemas()

	doc, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `
		UPDATE scim_user SET user_name = $1, version = $2, doc = $3, updated_at = now()
		WHERE tenant_id = $4 AND id = $5
	`, u.UserName, u.Meta.Version, doc, tenantID, u.ID)
	if isUniqueViolation(err) {
		return ErrUniqueness
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (r *pgUsers) Delete(ctx context.Context, tenantID, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM scim_user WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgUsers) UserNameExists(ctx context.Context, tenantID, userName, excludeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM scim_user
			WHERE tenant_id = $1 AND lower(user_name) = lower($2) AND id != $3
		)
	`, tenantID, userName, excludeID).Scan(&exists)
	return exists, err
}

type pgGroups struct{ pool *pgxpool.Pool }

func (r *pgGroups) Create(ctx context.Context, tenantID string, g *scimmodel.Group) error {
	g.ID = uuid.New().String()
	g.TenantID = tenantID
	g.Members = scimmodel.DedupeMembers(g.Members)
	now := time.Now().UTC()
	g.Meta = scimmodel.Meta{ResourceType: scimmodel.ResourceTypeGroup, Created: now.Format(time.RFC3339Nano), LastModified: now.Format(time.RFC3339Nano)}
	tag, err := etag.FromResource(g)
	if err != nil {
		return err
	}
	g.Meta.Version = tag
	g.NormalizeSchemas()

	doc, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scim_group (id, tenant_id, display_name, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, g.ID, tenantID, g.DisplayName, g.Meta.Version, doc, now)
	if isUniqueViolation(err) {
		return ErrUniqueness
	}
	return err
}

func (r *pgGroups) GetByID(ctx context.Context, tenantID, id string) (*scimmodel.Group, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM scim_group WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var g scimmodel.Group
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, err
	}
	g.TenantID = tenantID
	return &g, nil
}

func (r *pgGroups) List(ctx context.Context, tenantID string, params ListParams) ([]*scimmodel.Group, int, error) {
	params = Clamp(params)
	rows, err := r.pool.Query(ctx, `SELECT doc FROM scim_group WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var all []*scimmodel.Group
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, err
		}
		var g scimmodel.Group
		if err := json.Unmarshal(doc, &g); err != nil {
			return nil, 0, err
		}
		if params.Filter != nil {
			var generic map[string]any
			_ = json.Unmarshal(doc, &generic)
			if !Evaluate(params.Filter, generic) {
				continue
			}
		}
		all = append(all, &g)
	}
	total := len(all)
	return paginate(all, params.StartIndex, params.Count), total, nil
}

func (r *pgGroups) Update(ctx context.Context, tenantID string, g *scimmodel.Group, ifMatch string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var currentVersion string
	var existingDoc []byte
	err = tx.QueryRow(ctx,
		`SELECT version, doc FROM scim_group WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, g.ID,
	).Scan(&currentVersion, &existingDoc)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := etag.Validate(ifMatch, currentVersion); err != nil {
		return err
	}

	var existing scimmodel.Group
	_ = json.Unmarshal(existingDoc, &existing)

	g.TenantID = tenantID
	g.Members = scimmodel.DedupeMembers(g.Members)
	g.Meta = existing.Meta
	g.Meta.LastModified = time.Now().UTC().Format(time.RFC3339Nano)
	tag, err := etag.FromResource(g)
	if err != nil {
		return err
	}
	g.Meta.Version = tag
	g.NormalizeSchemas()

	doc, err := json.Marshal(g)
	if err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `
		UPDATE scim_group SET display_name = $1, version = $2, doc = $3, updated_at = now()
		WHERE tenant_id = $4 AND id = $5
	`, g.DisplayName, g.Meta.Version, doc, tenantID, g.ID)
	if isUniqueViolation(err) {
		return ErrUniqueness
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (r *pgGroups) Delete(ctx context.Context, tenantID, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM scim_group WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgGroups) DisplayNameExists(ctx context.Context, tenantID, displayName, excludeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM scim_group
			WHERE tenant_id = $1 AND lower(display_name) = lower($2) AND id != $3
		)
	`, tenantID, displayName, excludeID).Scan(&exists)
	return exists, err
}

type pgSyncState struct{ pool *pgxpool.Pool }

func (r *pgSyncState) Get(ctx context.Context, tenantID, providerID string) (*SyncState, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM sync_state WHERE tenant_id = $1 AND provider_id = $2`, tenantID, providerID,
	).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s SyncState
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *pgSyncState) Upsert(ctx context.Context, s *SyncState) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO sync_state (tenant_id, provider_id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, provider_id) DO UPDATE SET doc = excluded.doc
	`, s.TenantID, s.ProviderID, doc)
	return err
}

type pgDrift struct{ pool *pgxpool.Pool }

func (r *pgDrift) Create(ctx context.Context, d *DriftReport) error {
	if d.DriftID == "" {
		d.DriftID = uuid.New().String()
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO drift_report (drift_id, tenant_id, doc) VALUES ($1, $2, $3)
	`, d.DriftID, d.TenantID, doc)
	return err
}

func (r *pgDrift) GetByID(ctx context.Context, tenantID, driftID string) (*DriftReport, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM drift_report WHERE tenant_id = $1 AND drift_id = $2`, tenantID, driftID,
	).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d DriftReport
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *pgDrift) List(ctx context.Context, f DriftFilter) ([]*DriftReport, int, error) {
	rows, err := r.pool.Query(ctx, `SELECT doc FROM drift_report WHERE tenant_id = $1`, f.TenantID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var all []*DriftReport
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, err
		}
		var d DriftReport
		if err := json.Unmarshal(doc, &d); err != nil {
			return nil, 0, err
		}
		if matchesDriftFilter(&d, f) {
			all = append(all, &d)
		}
	}
	total := len(all)
	startIndex, count := f.StartIndex, f.Count
	if startIndex < 1 {
		startIndex = 1
	}
	if count <= 0 || count > 1000 {
		count = 1000
	}
	return paginate(all, startIndex, count), total, nil
}

func (r *pgDrift) MarkReconciled(ctx context.Context, tenantID, driftID, actorID, notes string) error {
	d, err := r.GetByID(ctx, tenantID, driftID)
	if err != nil {
		return err
	}
	if d.Reconciled {
		return nil
	}
	d.Reconciled = true
	d.ReconciledBy = actorID
	d.Notes = notes
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `UPDATE drift_report SET doc = $1 WHERE tenant_id = $2 AND drift_id = $3`, doc, tenantID, driftID)
	return err
}

type pgConflicts struct{ pool *pgxpool.Pool }

func (r *pgConflicts) Create(ctx context.Context, c *ConflictReport) error {
	if c.ConflictID == "" {
		c.ConflictID = uuid.New().String()
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO conflict_report (conflict_id, tenant_id, doc) VALUES ($1, $2, $3)
	`, c.ConflictID, c.TenantID, doc)
	return err
}

func (r *pgConflicts) GetByID(ctx context.Context, tenantID, conflictID string) (*ConflictReport, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM conflict_report WHERE tenant_id = $1 AND conflict_id = $2`, tenantID, conflictID,
	).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c ConflictReport
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *pgConflicts) List(ctx context.Context, f ConflictFilter) ([]*ConflictReport, int, error) {
	rows, err := r.pool.Query(ctx, `SELECT doc FROM conflict_report WHERE tenant_id = $1`, f.TenantID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var all []*ConflictReport
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, err
		}
		var c ConflictReport
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, 0, err
		}
		if matchesConflictFilter(&c, f) {
			all = append(all, &c)
		}
	}
	total := len(all)
	startIndex, count := f.StartIndex, f.Count
	if startIndex < 1 {
		startIndex = 1
	}
	if count <= 0 || count > 1000 {
		count = 1000
	}
	return paginate(all, startIndex, count), total, nil
}

func (r *pgConflicts) MarkResolved(ctx context.Context, tenantID, conflictID, actorID, notes string) error {
	c, err := r.GetByID(ctx, tenantID, conflictID)
	if err != nil {
		return err
	}
	if c.Resolved {
		return nil
	}
	c.Resolved = true
	c.ResolvedBy = actorID
	c.Notes = notes
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `UPDATE conflict_report SET doc = $1 WHERE tenant_id = $2 AND conflict_id = $3`, doc, tenantID, conflictID)
	return err
}

type pgAudit struct{ pool *pgxpool.Pool }

func (r *pgAudit) Append(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_entry (id, tenant_id, ts, doc) VALUES ($1, $2, now(), $3)
	`, e.ID, e.TenantID, doc)
	return err
}

func (r *pgAudit) List(ctx context.Context, tenantID string, startIndex, count int) ([]AuditEntry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM audit_entry WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT doc FROM audit_entry WHERE tenant_id = $1 ORDER BY ts`, tenantID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var all []AuditEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, err
		}
		var e AuditEntry
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, 0, err
		}
		all = append(all, e)
	}
	return paginate(all, startIndex, count), total, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
