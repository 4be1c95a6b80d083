// Package provider defines the Provider Adapter contract (C13): the uniform
// capability set every downstream SaaS integration must satisfy, plus a
// thread-safe registry keyed by (tenantId, providerId). Grounded on
// abcxyz-team-link/pkg/github/scim.go's SCIMClient (SCIM-over-HTTP wire
// shapes, application/scim+json content negotiation, startIndex/count
// pagination loop) and its sibling groupreadwriter.go adapters, generalized
// from a single hardcoded provider (GHES) to a pluggable registry.
package provider

import (
	"context"
	"fmt"
	"sync"
)

// Entitlement is what a provider grants as a result of group membership
// (spec §3's Transformation Rule output).
type Entitlement struct {
	Name               string
	Type               string
	ProviderEntitlementID string
}

// Failure is the typed provider error from spec §4.13:
// {providerErrorCode, httpStatus?, retryable}.
type Failure struct {
	ProviderErrorCode string
	HTTPStatus        int
	Retryable         bool
	Cause             error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("provider error %s (status %d): %v", f.ProviderErrorCode, f.HTTPStatus, f.Cause)
	}
	return fmt.Sprintf("provider error %s (status %d)", f.ProviderErrorCode, f.HTTPStatus)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Adapter is the capability set every provider integration must implement.
type Adapter interface {
	CreateUser(ctx context.Context, user map[string]any) (map[string]any, error)
	GetUser(ctx context.Context, providerUserID string) (map[string]any, error)
	UpdateUser(ctx context.Context, providerUserID string, user map[string]any) (map[string]any, error)
	DeleteUser(ctx context.Context, providerUserID string) error
	CreateGroup(ctx context.Context, group map[string]any) (map[string]any, error)
	AddUserToGroup(ctx context.Context, providerGroupID, providerUserID string) error
	RemoveUserFromGroup(ctx context.Context, providerGroupID, providerUserID string) error
	ListEntitlements(ctx context.Context, providerUserID string) ([]Entitlement, error)
}

// key identifies one adapter instance within the registry.
type key struct {
	TenantID   string
	ProviderID string
}

// Registry is the process-wide, concurrent-friendly adapter map from
// spec §4.13/§5: read far more than written, so a sync.Map is a better fit
// than a RWMutex-guarded map here (registrations happen once at startup or
// on tenant/provider onboarding, lookups happen on every request).
type Registry struct {
	adapters sync.Map // key -> Adapter
}

func NewRegistry() *Registry { return &Registry{} }

// Register associates an adapter with (tenantId, providerId). Adapters MUST
// already have resolved their credentials via an external secret store
// (e.g. internal/provider/httpadapter.go's clientcredentials.Config) before
// registration; Register itself never accepts plaintext credentials.
func (r *Registry) Register(tenantID, providerID string, adapter Adapter) {
	r.adapters.Store(key{tenantID, providerID}, adapter)
}

// Lookup returns the adapter for (tenantId, providerId), or false if none
// is registered.
func (r *Registry) Lookup(tenantID, providerID string) (Adapter, bool) {
	v, ok := r.adapters.Load(key{tenantID, providerID})
	if !ok {
		return nil, false
	}
	return v.(Adapter), true
}

// Deregister removes an adapter, e.g. on tenant offboarding.
func (r *Registry) Deregister(tenantID, providerID string) {
	r.adapters.Delete(key{tenantID, providerID})
}
