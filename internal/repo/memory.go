package repo

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scim-gateway/gateway/internal/etag"
	"github.com/scim-gateway/gateway/internal/scimmodel"
)

// MemoryStore is an in-memory implementation of the full repository contract,
// used by tests and by the Sync Engine's fixture suite. It mirrors the
// teacher's getTestDB(t) convention of swapping backing stores under the same
// interface without changing call sites.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]map[string]*scimmodel.User  // tenantID -> id -> user
	groups    map[string]map[string]*scimmodel.Group // tenantID -> id -> group
	syncState map[string]*SyncState                  // tenantID|providerID -> state
	drift     map[string]*DriftReport
	conflicts map[string]*ConflictReport
	audit     []AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]map[string]*scimmodel.User),
		groups:    make(map[string]map[string]*scimmodel.Group),
		syncState: make(map[string]*SyncState),
		drift:     make(map[string]*DriftReport),
		conflicts: make(map[string]*ConflictReport),
	}
}

// Repositories returns a Repositories bundle backed by this store.
func (m *MemoryStore) Repositories() Repositories {
	return Repositories{
		Users:     (*memUsers)(m),
		Groups:    (*memGroups)(m),
		SyncState: (*memSyncState)(m),
		Drift:     (*memDrift)(m),
		Conflicts: (*memConflicts)(m),
		Audit:     (*memAudit)(m),
	}
}

func cloneUser(u *scimmodel.User) *scimmodel.User {
	cp := *u
	raw, _ := json.Marshal(u)
	var out scimmodel.User
	_ = json.Unmarshal(raw, &out)
	out.TenantID = cp.TenantID
	return &out
}

func cloneGroup(g *scimmodel.Group) *scimmodel.Group {
	cp := *g
	raw, _ := json.Marshal(g)
	var out scimmodel.Group
	_ = json.Unmarshal(raw, &out)
	out.TenantID = cp.TenantID
	return &out
}

type memUsers MemoryStore

func (m *memUsers) store() *MemoryStore { return (*MemoryStore)(m) }

func (m *memUsers) Create(ctx context.Context, tenantID string, u *scimmodel.User) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[tenantID] == nil {
		s.users[tenantID] = make(map[string]*scimmodel.User)
	}
	for _, existing := range s.users[tenantID] {
		if strings.EqualFold(existing.UserName, u.UserName) {
			return ErrUniqueness
		}
	}
	u.ID = uuid.New().String()
	u.TenantID = tenantID
	now := time.Now().UTC().Format(time.RFC3339Nano)
	u.Meta = scimmodel.Meta{ResourceType: scimmodel.ResourceTypeUser, Created: now, LastModified: now}
	tag, _ := etag.FromResource(u)
	u.Meta.Version = tag
	u.NormalizeSchemas()
	s.users[tenantID][u.ID] = cloneUser(u)
	*u = *cloneUser(u)
	return nil
}

func (m *memUsers) GetByID(ctx context.Context, tenantID, id string) (*scimmodel.User, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[tenantID][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memUsers) List(ctx context.Context, tenantID string, params ListParams) ([]*scimmodel.User, int, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	params = Clamp(params)

	var matched []*scimmodel.User
	for _, u := range s.users[tenantID] {
		if params.Filter != nil {
			raw, _ := json.Marshal(u)
			var generic map[string]any
			_ = json.Unmarshal(raw, &generic)
			if !Evaluate(params.Filter, generic) {
				continue
			}
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if params.SortBy != "" {
		sortUsers(matched, params.SortBy, params.SortOrder)
	}
	total := len(matched)
	page := paginate(matched, params.StartIndex, params.Count)
	out := make([]*scimmodel.User, len(page))
	for i, u := range page {
		out[i] = cloneUser(u)
	}
	return out, total, nil
}

func sortUsers(us []*scimmodel.User, by string, order SortOrder) {
	less := func(i, j int) bool {
		var vi, vj string
		switch strings.ToLower(by) {
		case "username":
			vi, vj = us[i].UserName, us[j].UserName
		default:
			vi, vj = us[i].ID, us[j].ID
		}
		if order == SortDescending {
			return vi > vj
		}
		return vi < vj
	}
	sort.SliceStable(us, less)
}

func (m *memUsers) Update(ctx context.Context, tenantID string, u *scimmodel.User, ifMatch string) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[tenantID][u.ID]
	if !ok {
		return ErrNotFound
	}
	if err := etag.Validate(ifMatch, existing.Meta.Version); err != nil {
		return err
	}
	for id, other := range s.users[tenantID] {
		if id != u.ID && strings.EqualFold(other.UserName, u.UserName) {
			return ErrUniqueness
		}
	}
	u.TenantID = tenantID
	u.Meta = existing.Meta
	u.Meta.LastModified = time.Now().UTC().Format(time.RFC3339Nano)
	tag, _ := etag.FromResource(u)
	u.Meta.Version = tag
	u.NormalizeSchemas()
	s.users[tenantID][u.ID] = cloneUser(u)
	*u = *cloneUser(u)
	return nil
}

func (m *memUsers) Delete(ctx context.Context, tenantID, id string) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[tenantID][id]; !ok {
		return ErrNotFound
	}
	delete(s.users[tenantID], id)
	return nil
}

func (m *memUsers) UserNameExists(ctx context.Context, tenantID, userName, excludeID string) (bool, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, u := range s.users[tenantID] {
		if id == excludeID {
			continue
		}
		if strings.EqualFold(u.UserName, userName) {
			return true, nil
		}
	}
	return false, nil
}

type memGroups MemoryStore

func (m *memGroups) store() *MemoryStore { return (*MemoryStore)(m) }

func (m *memGroups) Create(ctx context.Context, tenantID string, g *scimmodel.Group) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[tenantID] == nil {
		s.groups[tenantID] = make(map[string]*scimmodel.Group)
	}
	for _, existing := range s.groups[tenantID] {
		if strings.EqualFold(existing.DisplayName, g.DisplayName) {
			return ErrUniqueness
		}
	}
	g.ID = uuid.New().String()
	g.TenantID = tenantID
	g.Members = scimmodel.DedupeMembers(g.Members)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	g.Meta = scimmodel.Meta{ResourceType: scimmodel.ResourceTypeGroup, Created: now, LastModified: now}
	tag, _ := etag.FromResource(g)
	g.Meta.Version = tag
	g.NormalizeSchemas()
	s.groups[tenantID][g.ID] = cloneGroup(g)
	*g = *cloneGroup(g)
	return nil
}

func (m *memGroups) GetByID(ctx context.Context, tenantID, id string) (*scimmodel.Group, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[tenantID][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneGroup(g), nil
}

func (m *memGroups) List(ctx context.Context, tenantID string, params ListParams) ([]*scimmodel.Group, int, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	params = Clamp(params)

	var matched []*scimmodel.Group
	for _, g := range s.groups[tenantID] {
		if params.Filter != nil {
			raw, _ := json.Marshal(g)
			var generic map[string]any
			_ = json.Unmarshal(raw, &generic)
			if !Evaluate(params.Filter, generic) {
				continue
			}
		}
		matched = append(matched, g)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)
	page := paginate(matched, params.StartIndex, params.Count)
	out := make([]*scimmodel.Group, len(page))
	for i, g := range page {
		out[i] = cloneGroup(g)
	}
	return out, total, nil
}

func (m *memGroups) Update(ctx context.Context, tenantID string, g *scimmodel.Group, ifMatch string) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.groups[tenantID][g.ID]
	if !ok {
		return ErrNotFound
	}
	if err := etag.Validate(ifMatch, existing.Meta.Version); err != nil {
		return err
	}
	for id, other := range s.groups[tenantID] {
		if id != g.ID && strings.EqualFold(other.DisplayName, g.DisplayName) {
			return ErrUniqueness
		}
	}
	g.TenantID = tenantID
	g.Members = scimmodel.DedupeMembers(g.Members)
	g.Meta = existing.Meta
	g.Meta.LastModified = time.Now().UTC().Format(time.RFC3339Nano)
	tag, _ := etag.FromResource(g)
	g.Meta.Version = tag
	g.NormalizeSchemas()
	s.groups[tenantID][g.ID] = cloneGroup(g)
	*g = *cloneGroup(g)
	return nil
}

func (m *memGroups) Delete(ctx context.Context, tenantID, id string) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[tenantID][id]; !ok {
		return ErrNotFound
	}
	delete(s.groups[tenantID], id)
	return nil
}

func (m *memGroups) DisplayNameExists(ctx context.Context, tenantID, displayName, excludeID string) (bool, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, g := range s.groups[tenantID] {
		if id == excludeID {
			continue
		}
		if strings.EqualFold(g.DisplayName, displayName) {
			return true, nil
		}
	}
	return false, nil
}

func paginate[T any](items []T, startIndex, count int) []T {
	if startIndex < 1 {
		startIndex = 1
	}
	start := startIndex - 1
	if start >= len(items) {
		return []T{}
	}
	end := start + count
	if count == 0 {
		return []T{}
	}
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type memSyncState MemoryStore

func (m *memSyncState) store() *MemoryStore { return (*MemoryStore)(m) }

func key2(a, b string) string { return a + "|" + b }

func (m *memSyncState) Get(ctx context.Context, tenantID, providerID string) (*SyncState, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.syncState[key2(tenantID, providerID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memSyncState) Upsert(ctx context.Context, st *SyncState) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.syncState[key2(st.TenantID, st.ProviderID)] = &cp
	return nil
}

type memDrift MemoryStore

func (m *memDrift) store() *MemoryStore { return (*MemoryStore)(m) }

func (m *memDrift) Create(ctx context.Context, d *DriftReport) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.DriftID == "" {
		d.DriftID = uuid.New().String()
	}
	cp := *d
	s.drift[d.DriftID] = &cp
	return nil
}

func (m *memDrift) GetByID(ctx context.Context, tenantID, driftID string) (*DriftReport, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drift[driftID]
	if !ok || d.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDrift) List(ctx context.Context, f DriftFilter) ([]*DriftReport, int, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*DriftReport
	for _, d := range s.drift {
		if !matchesDriftFilter(d, f) {
			continue
		}
		cp := *d
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp < matched[j].Timestamp })
	total := len(matched)
	startIndex, count := f.StartIndex, f.Count
	if startIndex < 1 {
		startIndex = 1
	}
	if count <= 0 || count > 1000 {
		count = 1000
	}
	return paginate(matched, startIndex, count), total, nil
}

func matchesDriftFilter(d *DriftReport, f DriftFilter) bool {
	if f.TenantID != "" && d.TenantID != f.TenantID {
		return false
	}
	if f.ProviderID != "" && d.ProviderID != f.ProviderID {
		return false
	}
	if f.ResourceType != "" && d.ResourceType != f.ResourceType {
		return false
	}
	if f.Severity != "" && d.Severity != f.Severity {
		return false
	}
	if f.Reconciled != nil && d.Reconciled != *f.Reconciled {
		return false
	}
	if f.Since != 0 && d.Timestamp < f.Since {
		return false
	}
	if f.Until != 0 && d.Timestamp > f.Until {
		return false
	}
	return true
}

func (m *memDrift) MarkReconciled(ctx context.Context, tenantID, driftID, actorID, notes string) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drift[driftID]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	if d.Reconciled {
		return nil // idempotent: already reconciled
	}
	d.Reconciled = true
	d.ReconciledBy = actorID
	d.Notes = notes
	return nil
}

type memConflicts MemoryStore

func (m *memConflicts) store() *MemoryStore { return (*MemoryStore)(m) }

func (m *memConflicts) Create(ctx context.Context, c *ConflictReport) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ConflictID == "" {
		c.ConflictID = uuid.New().String()
	}
	cp := *c
	s.conflicts[c.ConflictID] = &cp
	return nil
}

func (m *memConflicts) GetByID(ctx context.Context, tenantID, conflictID string) (*ConflictReport, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[conflictID]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConflicts) List(ctx context.Context, f ConflictFilter) ([]*ConflictReport, int, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*ConflictReport
	for _, c := range s.conflicts {
		if !matchesConflictFilter(c, f) {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp < matched[j].Timestamp })
	total := len(matched)
	startIndex, count := f.StartIndex, f.Count
	if startIndex < 1 {
		startIndex = 1
	}
	if count <= 0 || count > 1000 {
		count = 1000
	}
	return paginate(matched, startIndex, count), total, nil
}

func matchesConflictFilter(c *ConflictReport, f ConflictFilter) bool {
	if f.TenantID != "" && c.TenantID != f.TenantID {
		return false
	}
	if f.ProviderID != "" && c.ProviderID != f.ProviderID {
		return false
	}
	if f.ResourceType != "" && c.ResourceType != f.ResourceType {
		return false
	}
	if f.Severity != "" && c.Severity != f.Severity {
		return false
	}
	if f.Resolved != nil && c.Resolved != *f.Resolved {
		return false
	}
	if f.Since != 0 && c.Timestamp < f.Since {
		return false
	}
	if f.Until != 0 && c.Timestamp > f.Until {
		return false
	}
	return true
}

func (m *memConflicts) MarkResolved(ctx context.Context, tenantID, conflictID, actorID, notes string) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[conflictID]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	if c.Resolved {
		return nil // idempotent
	}
	c.Resolved = true
	c.ResolvedBy = actorID
	c.Notes = notes
	return nil
}

type memAudit MemoryStore

func (m *memAudit) store() *MemoryStore { return (*MemoryStore)(m) }

func (m *memAudit) Append(ctx context.Context, e AuditEntry) error {
	s := m.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (m *memAudit) List(ctx context.Context, tenantID string, startIndex, count int) ([]AuditEntry, int, error) {
	s := m.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []AuditEntry
	for _, e := range s.audit {
		if e.TenantID == tenantID {
			matched = append(matched, e)
		}
	}
	total := len(matched)
	return paginate(matched, startIndex, count), total, nil
}
