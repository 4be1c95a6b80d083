package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/scim-gateway/gateway/internal/scimerr"
)

// TenantContext is the resolved per-request identity produced by the Tenant
// Resolver half of C8, attached to the request context for every downstream
// stage (rate limiter, resource handlers, audit pipeline).
type TenantContext struct {
	TenantID  string
	ActorID   string
	ActorType ActorType
	RequestID string
}

// ResolveTenant derives a TenantContext from validated token claims, per
// spec §4.8. Callers must have already rejected a missing tid in
// Validator.ValidateToken; ResolveTenant never returns InvalidTenant itself.
func ResolveTenant(claims Claims, requestID string) TenantContext {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return TenantContext{
		TenantID:  claims.TenantID,
		ActorID:   claims.ActorID(),
		ActorType: claims.ActorType(),
		RequestID: requestID,
	}
}

// CheckCrossTenant enforces spec §4.8's cross-tenant check: when the URL
// path carries a tenant segment, it must equal the token's tid
// case-insensitively, else 403 forbidden. An empty pathTenant means the
// route carries no tenant segment and the check is skipped.
func CheckCrossTenant(pathTenant, tokenTenant string) error {
	if pathTenant == "" {
		return nil
	}
	if !strings.EqualFold(pathTenant, tokenTenant) {
		return scimerr.CrossTenant()
	}
	return nil
}

type ctxKey string

const tenantCtxKey ctxKey = "scim_tenant_context"

// WithTenantContext attaches a resolved TenantContext to ctx.
func WithTenantContext(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantCtxKey, tc)
}

// FromContext retrieves the TenantContext attached by the request pipeline.
func FromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantCtxKey).(TenantContext)
	return tc, ok
}
