package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scim-gateway/gateway/internal/auth"
	"github.com/scim-gateway/gateway/internal/repo"
	"github.com/scim-gateway/gateway/internal/scimerr"
	"github.com/scim-gateway/gateway/internal/scimmodel"
	"github.com/scim-gateway/gateway/internal/scimpatch"
	"github.com/scim-gateway/gateway/internal/syncengine"
)

// ListDrift handles GET /api/drift.
func (s *Server) ListDrift(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	f := repo.DriftFilter{
		TenantID:     tc.TenantID,
		ProviderID:   r.URL.Query().Get("providerId"),
		ResourceType: r.URL.Query().Get("resourceType"),
		StartIndex:   parseIntDefault(r.URL.Query().Get("startIndex"), 1),
		Count:        parseIntDefault(r.URL.Query().Get("count"), 100),
	}
	reports, total, err := s.Repos.Drift.List(r.Context(), f)
	if err != nil {
		writeAdminErr(w, err)
		return
	}
	writeJSONPlain(w, http.StatusOK, pagedReport{Results: toAnySlice(reports), Total: total})
}

// GetDrift handles GET /api/drift/{driftId}.
func (s *Server) GetDrift(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	d, err := s.Repos.Drift.GetByID(r.Context(), tc.TenantID, chi.URLParam(r, "driftId"))
	if err != nil {
		writeAdminErr(w, mapNotFound(err))
		return
	}
	writeJSONPlain(w, http.StatusOK, d)
}

type reconcileRequest struct {
	ActorID           string             `json:"actorId"`
	Notes             string             `json:"notes"`
	Direction         repo.SyncDirection `json:"direction"`
	ApplyImmediately  bool               `json:"applyImmediately"`
}

// ReconcileDriftHandler handles POST /api/drift/{driftId}/reconcile.
func (s *Server) ReconcileDriftHandler(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	driftID := chi.URLParam(r, "driftId")

	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminErr(w, scimerr.InvalidSyntax("malformed reconcile request: "+err.Error()))
		return
	}
	if req.Direction == "" {
		req.Direction = repo.DirectionBidirectional
	}

	err := syncengine.ManualReconcile(r.Context(), s.Repos, s.Audit, tc.TenantID, driftID, req.ActorID, req.Notes, req.Direction, req.ApplyImmediately, s.applyDriftToCanonical)
	if err != nil {
		writeAdminErr(w, mapNotFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConflicts handles GET /api/conflicts.
func (s *Server) ListConflicts(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	f := repo.ConflictFilter{
		TenantID:     tc.TenantID,
		ProviderID:   r.URL.Query().Get("providerId"),
		ResourceType: r.URL.Query().Get("resourceType"),
		StartIndex:   parseIntDefault(r.URL.Query().Get("startIndex"), 1),
		Count:        parseIntDefault(r.URL.Query().Get("count"), 100),
	}
	reports, total, err := s.Repos.Conflicts.List(r.Context(), f)
	if err != nil {
		writeAdminErr(w, err)
		return
	}
	writeJSONPlain(w, http.StatusOK, pagedReport{Results: toAnySlice(reports), Total: total})
}

// GetConflict handles GET /api/conflicts/{conflictId}.
func (s *Server) GetConflict(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	c, err := s.Repos.Conflicts.GetByID(r.Context(), tc.TenantID, chi.URLParam(r, "conflictId"))
	if err != nil {
		writeAdminErr(w, mapNotFound(err))
		return
	}
	writeJSONPlain(w, http.StatusOK, c)
}

type resolveRequest struct {
	ActorID    string                       `json:"actorId"`
	Notes      string                       `json:"notes"`
	Resolution syncengine.ConflictResolution `json:"resolution"`
}

// ResolveConflictHandler handles POST /api/conflicts/{conflictId}/resolve.
func (s *Server) ResolveConflictHandler(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	conflictID := chi.URLParam(r, "conflictId")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminErr(w, scimerr.InvalidSyntax("malformed resolve request: "+err.Error()))
		return
	}
	if req.Resolution == "" {
		writeAdminErr(w, scimerr.InvalidValue("resolution is required"))
		return
	}

	err := syncengine.ManualResolveConflict(r.Context(), s.Repos, s.Audit, tc.TenantID, conflictID, req.ActorID, req.Notes, req.Resolution, s.applyConflictWinner)
	if err != nil {
		writeAdminErr(w, mapNotFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pagedReport struct {
	Results []any `json:"results"`
	Total   int   `json:"total"`
}

// applyDriftToCanonical pushes a drift's Expected value onto the canonical
// store record, reconciling our system of record to the side the
// administrator or auto-reconcile policy chose. Provider-side application is
// the scheduled Task's responsibility (internal/syncengine.Task.Run), which
// owns the provider.Adapter for the pair; the Admin API only ever mutates the
// canonical record it is directly responsible for.
func (s *Server) applyDriftToCanonical(ctx context.Context, d *repo.DriftReport, direction repo.SyncDirection) error {
	expected, ok := d.Expected.(map[string]any)
	if !ok {
		return nil
	}

	switch d.ResourceType {
	case scimmodel.ResourceTypeUser:
		u, err := s.Repos.Users.GetByID(ctx, d.TenantID, d.ResourceID)
		if err != nil {
			return err
		}
		generic, err := toGenericResource(u)
		if err != nil {
			return err
		}
		if err := scimpatch.Apply(generic, []scimmodel.PatchOperation{{Op: "replace", Value: expected}}); err != nil {
			return err
		}
		if err := fromGenericResource(generic, u); err != nil {
			return err
		}
		return s.Repos.Users.Update(ctx, d.TenantID, u, "")
	case scimmodel.ResourceTypeGroup:
		g, err := s.Repos.Groups.GetByID(ctx, d.TenantID, d.ResourceID)
		if err != nil {
			return err
		}
		generic, err := toGenericResource(g)
		if err != nil {
			return err
		}
		if err := scimpatch.Apply(generic, []scimmodel.PatchOperation{{Op: "replace", Value: expected}}); err != nil {
			return err
		}
		if err := fromGenericResource(generic, g); err != nil {
			return err
		}
		return s.Repos.Groups.Update(ctx, d.TenantID, g, "")
	default:
		return nil
	}
}

// applyConflictWinner writes the winning side's attributes onto the
// canonical record, mirroring applyDriftToCanonical's provider-vs-canonical
// split of responsibility.
func (s *Server) applyConflictWinner(ctx context.Context, c *repo.ConflictReport, winner syncengine.ConflictResolution) error {
	var side any
	switch winner {
	case syncengine.ResolutionCanonicalWins:
		side = c.LeftSide
	case syncengine.ResolutionProviderWins:
		side = c.RightSide
	default:
		return nil
	}
	expected, ok := side.(map[string]any)
	if !ok {
		return nil
	}
	return s.applyDriftToCanonical(ctx, &repo.DriftReport{
		TenantID: c.TenantID, ResourceType: c.ResourceType, ResourceID: c.ResourceID, Expected: expected,
	}, repo.DirectionBidirectional)
}
