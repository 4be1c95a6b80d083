package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scim-gateway/gateway/internal/auth"
	"github.com/scim-gateway/gateway/internal/scimerr"
	"github.com/scim-gateway/gateway/internal/scimmodel"
	"github.com/scim-gateway/gateway/internal/scimpatch"
	"github.com/scim-gateway/gateway/internal/scimvalidate"
)

// CreateGroup handles POST /scim/v2/Groups per spec §4.11.
func (s *Server) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "CreateGroup")
	tc, _ := auth.FromContext(ctx)

	var g scimmodel.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeErr(w, scimerr.InvalidSyntax("malformed group body: "+err.Error()))
		return
	}
	if errs := scimvalidate.Group(&g); !errs.Empty() {
		writeErr(w, scimerr.InvalidValue(errs[0]))
		return
	}

	exists, err := s.Repos.Groups.DisplayNameExists(ctx, tc.TenantID, g.DisplayName, "")
	if err != nil {
		writeErr(w, err)
		return
	}
	if exists {
		writeErr(w, scimerr.Uniqueness("displayName already exists: "+g.DisplayName))
		return
	}

	g.Members = scimmodel.DedupeMembers(g.Members)
	g.NormalizeSchemas()
	if err := s.Repos.Groups.Create(ctx, tc.TenantID, &g); err != nil {
		writeErr(w, err)
		return
	}
	g.SetLocation(s.BaseURL)
	g.PopulateMemberRefs(s.BaseURL)

	annotateResource(ctx, scimmodel.ResourceTypeGroup, g.ID)
	recordOutcome(ctx, nil, &g, "", "")

	w.Header().Set("Location", g.Meta.Location)
	writeJSON(w, http.StatusCreated, &g)
}

// GetGroup handles GET /scim/v2/Groups/{id}.
func (s *Server) GetGroup(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "GetGroup")
	tc, _ := auth.FromContext(ctx)
	id := chi.URLParam(r, "id")

	g, err := s.Repos.Groups.GetByID(ctx, tc.TenantID, id)
	if err != nil {
		writeErr(w, mapNotFound(err))
		return
	}
	g.SetLocation(s.BaseURL)
	g.PopulateMemberRefs(s.BaseURL)
	annotateResource(ctx, scimmodel.ResourceTypeGroup, id)
	w.Header().Set("ETag", g.Meta.Version)
	writeJSON(w, http.StatusOK, g)
}

// ListGroups handles GET /scim/v2/Groups.
func (s *Server) ListGroups(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "ListGroups")
	tc, _ := auth.FromContext(ctx)

	params, err := parseListParams(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	groups, total, err := s.Repos.Groups.List(ctx, tc.TenantID, params)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, g := range groups {
		g.SetLocation(s.BaseURL)
		g.PopulateMemberRefs(s.BaseURL)
	}

	writeJSON(w, http.StatusOK, scimmodel.NewListResponse(toAnySlice(groups), total, params.StartIndex, len(groups)))
}

// ReplaceGroup handles PUT /scim/v2/Groups/{id}: full replacement.
func (s *Server) ReplaceGroup(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "ReplaceGroup")
	tc, _ := auth.FromContext(ctx)
	id := chi.URLParam(r, "id")

	before, err := s.Repos.Groups.GetByID(ctx, tc.TenantID, id)
	if err != nil {
		writeErr(w, mapNotFound(err))
		return
	}

	var g scimmodel.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeErr(w, scimerr.InvalidSyntax("malformed group body: "+err.Error()))
		return
	}
	g.ID = id
	if errs := scimvalidate.Group(&g); !errs.Empty() {
		writeErr(w, scimerr.InvalidValue(errs[0]))
		return
	}

	if !strings.EqualFold(g.DisplayName, before.DisplayName) {
		exists, err := s.Repos.Groups.DisplayNameExists(ctx, tc.TenantID, g.DisplayName, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if exists {
			writeErr(w, scimerr.Uniqueness("displayName already exists: "+g.DisplayName))
			return
		}
	}

	g.Members = scimmodel.DedupeMembers(g.Members)
	g.NormalizeSchemas()
	if err := s.Repos.Groups.Update(ctx, tc.TenantID, &g, r.Header.Get("If-Match")); err != nil {
		writeErr(w, mapVersionMismatch(err))
		return
	}
	g.SetLocation(s.BaseURL)
	g.PopulateMemberRefs(s.BaseURL)

	annotateResource(ctx, scimmodel.ResourceTypeGroup, id)
	recordOutcome(ctx, before, &g, "", "")
	w.Header().Set("ETag", g.Meta.Version)
	writeJSON(w, http.StatusOK, &g)
}

// PatchGroup handles PATCH /scim/v2/Groups/{id}. Membership add operations
// are set-semantics: a repeated identical add against members yields the
// same 2-member set, per spec §4.11's worked example.
func (s *Server) PatchGroup(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "PatchGroup")
	tc, _ := auth.FromContext(ctx)
	id := chi.URLParam(r, "id")

	var patchReq scimmodel.PatchRequest
	if err := json.NewDecoder(r.Body).Decode(&patchReq); err != nil {
		writeErr(w, scimerr.InvalidSyntax("malformed patch body: "+err.Error()))
		return
	}
	if len(patchReq.Operations) == 0 {
		writeErr(w, scimerr.InvalidSyntax("PATCH requires at least one operation"))
		return
	}

	before, err := s.Repos.Groups.GetByID(ctx, tc.TenantID, id)
	if err != nil {
		writeErr(w, mapNotFound(err))
		return
	}

	generic, err := toGenericResource(before)
	if err != nil {
		writeErr(w, scimerr.Internal(err))
		return
	}
	if err := scimpatch.Apply(generic, patchReq.Operations); err != nil {
		writeErr(w, err)
		return
	}

	var g scimmodel.Group
	if err := fromGenericResource(generic, &g); err != nil {
		writeErr(w, scimerr.Internal(err))
		return
	}
	g.ID = id
	if errs := scimvalidate.Group(&g); !errs.Empty() {
		writeErr(w, scimerr.InvalidValue(errs[0]))
		return
	}

	if !strings.EqualFold(g.DisplayName, before.DisplayName) {
		exists, err := s.Repos.Groups.DisplayNameExists(ctx, tc.TenantID, g.DisplayName, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if exists {
			writeErr(w, scimerr.Uniqueness("displayName already exists: "+g.DisplayName))
			return
		}
	}

	g.Members = scimmodel.DedupeMembers(g.Members)
	g.NormalizeSchemas()
	if err := s.Repos.Groups.Update(ctx, tc.TenantID, &g, r.Header.Get("If-Match")); err != nil {
		writeErr(w, mapVersionMismatch(err))
		return
	}
	g.SetLocation(s.BaseURL)
	g.PopulateMemberRefs(s.BaseURL)

	annotateResource(ctx, scimmodel.ResourceTypeGroup, id)
	recordOutcome(ctx, before, &g, "", "")
	w.Header().Set("ETag", g.Meta.Version)
	writeJSON(w, http.StatusOK, &g)
}

// DeleteGroup handles DELETE /scim/v2/Groups/{id}.
func (s *Server) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "DeleteGroup")
	tc, _ := auth.FromContext(ctx)
	id := chi.URLParam(r, "id")

	if err := s.Repos.Groups.Delete(ctx, tc.TenantID, id); err != nil {
		writeErr(w, mapNotFound(err))
		return
	}
	annotateResource(ctx, scimmodel.ResourceTypeGroup, id)
	w.WriteHeader(http.StatusNoContent)
}
