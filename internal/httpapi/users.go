package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scim-gateway/gateway/internal/auth"
	"github.com/scim-gateway/gateway/internal/etag"
	"github.com/scim-gateway/gateway/internal/repo"
	"github.com/scim-gateway/gateway/internal/scimerr"
	"github.com/scim-gateway/gateway/internal/scimmodel"
	"github.com/scim-gateway/gateway/internal/scimpatch"
	"github.com/scim-gateway/gateway/internal/scimvalidate"
)

// CreateUser handles POST /scim/v2/Users per spec §4.11.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "CreateUser")
	tc, _ := auth.FromContext(ctx)

	var u scimmodel.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeErr(w, scimerr.InvalidSyntax("malformed user body: "+err.Error()))
		return
	}
	if errs := scimvalidate.User(&u); !errs.Empty() {
		writeErr(w, scimerr.InvalidValue(errs[0]))
		return
	}

	exists, err := s.Repos.Users.UserNameExists(ctx, tc.TenantID, u.UserName, "")
	if err != nil {
		writeErr(w, err)
		return
	}
	if exists {
		writeErr(w, scimerr.Uniqueness("userName already exists: "+u.UserName))
		return
	}

	u.NormalizeSchemas()
	if err := s.Repos.Users.Create(ctx, tc.TenantID, &u); err != nil {
		writeErr(w, err)
		return
	}
	u.SetLocation(s.BaseURL)

	entry := entryFromContext(ctx)
	if entry != nil {
		entry.ResourceType = scimmodel.ResourceTypeUser
		entry.ResourceID = u.ID
	}
	recordOutcome(ctx, nil, &u, "", "")

	w.Header().Set("ETag", u.Meta.Version)
	w.Header().Set("Location", u.Meta.Location)
	writeJSON(w, http.StatusCreated, &u)
}

// GetUser handles GET /scim/v2/Users/{id}.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "GetUser")
	tc, _ := auth.FromContext(ctx)
	id := chi.URLParam(r, "id")

	u, err := s.Repos.Users.GetByID(ctx, tc.TenantID, id)
	if err != nil {
		writeErr(w, mapNotFound(err))
		return
	}
	u.SetLocation(s.BaseURL)
	annotateResource(ctx, scimmodel.ResourceTypeUser, id)
	w.Header().Set("ETag", u.Meta.Version)
	writeJSON(w, http.StatusOK, u)
}

// ListUsers handles GET /scim/v2/Users.
func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "ListUsers")
	tc, _ := auth.FromContext(ctx)

	params, err := parseListParams(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	users, total, err := s.Repos.Users.List(ctx, tc.TenantID, params)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, u := range users {
		u.SetLocation(s.BaseURL)
	}

	writeJSON(w, http.StatusOK, scimmodel.NewListResponse(toAnySlice(users), total, params.StartIndex, len(users)))
}

// ReplaceUser handles PUT /scim/v2/Users/{id}: full replacement.
func (s *Server) ReplaceUser(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "ReplaceUser")
	tc, _ := auth.FromContext(ctx)
	id := chi.URLParam(r, "id")

	before, err := s.Repos.Users.GetByID(ctx, tc.TenantID, id)
	if err != nil {
		writeErr(w, mapNotFound(err))
		return
	}

	var u scimmodel.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeErr(w, scimerr.InvalidSyntax("malformed user body: "+err.Error()))
		return
	}
	u.ID = id
	if errs := scimvalidate.User(&u); !errs.Empty() {
		writeErr(w, scimerr.InvalidValue(errs[0]))
		return
	}

	if !equalFoldUserName(u.UserName, before.UserName) {
		exists, err := s.Repos.Users.UserNameExists(ctx, tc.TenantID, u.UserName, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if exists {
			writeErr(w, scimerr.Uniqueness("userName already exists: "+u.UserName))
			return
		}
	}

	u.NormalizeSchemas()
	if err := s.Repos.Users.Update(ctx, tc.TenantID, &u, r.Header.Get("If-Match")); err != nil {
		writeErr(w, mapVersionMismatch(err))
		return
	}
	u.SetLocation(s.BaseURL)

	annotateResource(ctx, scimmodel.ResourceTypeUser, id)
	recordOutcome(ctx, before, &u, "", "")
	w.Header().Set("ETag", u.Meta.Version)
	writeJSON(w, http.StatusOK, &u)
}

// PatchUser handles PATCH /scim/v2/Users/{id} per spec §4.11's PATCH
// semantics: empty Operations is rejected rather than treated as a no-op.
func (s *Server) PatchUser(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "PatchUser")
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

	before, err := s.Repos.Users.GetByID(ctx, tc.TenantID, id)
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

	var u scimmodel.User
	if err := fromGenericResource(generic, &u); err != nil {
		writeErr(w, scimerr.Internal(err))
		return
	}
	u.ID = id
	if errs := scimvalidate.User(&u); !errs.Empty() {
		writeErr(w, scimerr.InvalidValue(errs[0]))
		return
	}

	if !equalFoldUserName(u.UserName, before.UserName) {
		exists, err := s.Repos.Users.UserNameExists(ctx, tc.TenantID, u.UserName, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if exists {
			writeErr(w, scimerr.Uniqueness("userName already exists: "+u.UserName))
			return
		}
	}

	u.NormalizeSchemas()
	if err := s.Repos.Users.Update(ctx, tc.TenantID, &u, r.Header.Get("If-Match")); err != nil {
		writeErr(w, mapVersionMismatch(err))
		return
	}
	u.SetLocation(s.BaseURL)

	annotateResource(ctx, scimmodel.ResourceTypeUser, id)
	recordOutcome(ctx, before, &u, "", "")
	w.Header().Set("ETag", u.Meta.Version)
	writeJSON(w, http.StatusOK, &u)
}

// DeleteUser handles DELETE /scim/v2/Users/{id}.
func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := withOperation(r.Context(), "DeleteUser")
	tc, _ := auth.FromContext(ctx)
	id := chi.URLParam(r, "id")

	if err := s.Repos.Users.Delete(ctx, tc.TenantID, id); err != nil {
		writeErr(w, mapNotFound(err))
		return
	}
	annotateResource(ctx, scimmodel.ResourceTypeUser, id)
	w.WriteHeader(http.StatusNoContent)
}

func equalFoldUserName(a, b string) bool {
	return strings.EqualFold(a, b)
}

func annotateResource(ctx context.Context, resourceType, resourceID string) {
	if entry := entryFromContext(ctx); entry != nil {
		entry.ResourceType = resourceType
		entry.ResourceID = resourceID
	}
}

func mapNotFound(err error) error {
	if err == repo.ErrNotFound {
		return scimerr.NotFound("resource not found")
	}
	return err
}

func mapVersionMismatch(err error) error {
	if _, ok := err.(*etag.VersionMismatch); ok {
		return scimerr.PreconditionFailed(err.Error())
	}
	if err == repo.ErrUniqueness {
		return scimerr.Uniqueness(err.Error())
	}
	return err
}
