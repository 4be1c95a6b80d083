package syncengine

import (
	"context"
	"fmt"

	"github.com/scim-gateway/gateway/internal/provider"
	"github.com/scim-gateway/gateway/internal/scimmodel"
	"github.com/scim-gateway/gateway/internal/transform"
)

// SyncGroupEntitlements is the per-group unit of work a registered Task.Run
// performs each cycle: evaluate the (tenantId, providerId) transformation
// rule set (C12) against one SCIM group's displayName, then push the
// resulting entitlements to the provider adapter (C13), granting every
// group member access to each resolved entitlement. providerMemberIDs maps
// a canonical SCIM user id to its provider-side user id, as already
// resolved by the user half of the sync cycle.
func SyncGroupEntitlements(ctx context.Context, group *scimmodel.Group, providerMemberIDs map[string]string, cache *transform.Cache, adapter provider.Adapter, tenantID, providerID string, strategy transform.ConflictStrategy) ([]transform.ConflictEvent, error) {
	rules, err := cache.Get(tenantID, providerID)
	if err != nil {
		return nil, fmt.Errorf("loading transformation rules for %s/%s: %w", tenantID, providerID, err)
	}

	entitlements, conflicts, err := transform.Evaluate(rules, group.DisplayName, strategy)
	if err != nil {
		return conflicts, err
	}

	for _, ent := range entitlements {
		providerGroupID := ent.ProviderEntitlementID
		if providerGroupID == "" {
			created, err := adapter.CreateGroup(ctx, map[string]any{"displayName": ent.Name})
			if err != nil {
				return conflicts, fmt.Errorf("provisioning entitlement %q: %w", ent.Name, err)
			}
			providerGroupID, _ = created["id"].(string)
		}

		for _, m := range group.Members {
			providerUserID, ok := providerMemberIDs[m.Value]
			if !ok {
				continue
			}
			if err := adapter.AddUserToGroup(ctx, providerGroupID, providerUserID); err != nil {
				return conflicts, fmt.Errorf("granting entitlement %q to member %s: %w", ent.Name, m.Value, err)
			}
		}
	}

	return conflicts, nil
}
