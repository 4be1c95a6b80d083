package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/scim-gateway/gateway/internal/repo"
	"github.com/scim-gateway/gateway/internal/scimerr"
	"github.com/scim-gateway/gateway/internal/scimfilter"
)

// writeJSON writes a JSON response, matching the teacher's writeJSON helper.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/scim+json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode scim response")
	}
}

// writeJSONPlain writes a plain `application/json` response, used by the
// Admin API (spec §6: "Plain JSON", unlike the SCIM resource endpoints'
// application/scim+json envelope).
func writeJSONPlain(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode admin response")
	}
}

// writeAdminErr writes a plain-JSON error body for the Admin API.
func writeAdminErr(w http.ResponseWriter, err error) {
	se, ok := scimerr.As(err)
	if !ok {
		se = scimerr.Internal(err)
	}
	writeJSONPlain(w, se.HTTPStatus(), map[string]string{"error": se.Detail})
}

// writeScimError renders a SCIM error document per spec §4.5/§7.
func writeScimError(w http.ResponseWriter, err *scimerr.Error) {
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	writeJSON(w, err.HTTPStatus(), err.Document())
}

// writeErr is writeScimError's convenience form for a plain error, mapping
// non-*scimerr.Error causes (e.g. a repo I/O failure) to an internal error.
func writeErr(w http.ResponseWriter, err error) {
	se, ok := scimerr.As(err)
	if !ok {
		se = scimerr.Internal(err)
	}
	writeScimError(w, se)
}

// parseListParams extracts filter/startIndex/count/sortBy/sortOrder query
// parameters per spec §6, returning a clamped repo.ListParams.
func parseListParams(r *http.Request) (repo.ListParams, error) {
	q := r.URL.Query()

	var node *scimfilter.Node
	if raw := q.Get("filter"); raw != "" {
		n, err := scimfilter.Parse(raw)
		if err != nil {
			return repo.ListParams{}, scimerr.InvalidFilter(err.Error())
		}
		node = n
	}

	startIndex := parseIntDefault(q.Get("startIndex"), 1)
	if startIndex < 1 {
		return repo.ListParams{}, scimerr.InvalidValue("startIndex must be a positive integer")
	}
	count := parseIntDefault(q.Get("count"), 100)
	if count < 0 {
		return repo.ListParams{}, scimerr.InvalidValue("count must not be negative")
	}

	sortOrder := repo.SortAscending
	if q.Get("sortOrder") == string(repo.SortDescending) {
		sortOrder = repo.SortDescending
	}

	return repo.Clamp(repo.ListParams{
		Filter:     node,
		StartIndex: startIndex,
		Count:      count,
		SortBy:     q.Get("sortBy"),
		SortOrder:  sortOrder,
	}), nil
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// toGenericResource round-trips a typed resource through JSON into a generic
// map so internal/scimpatch can apply PATCH operations against it path by
// path, independent of the Go struct shape.
func toGenericResource(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// fromGenericResource decodes a patched generic map back into the typed
// resource it was derived from.
func fromGenericResource(generic map[string]any, out any) error {
	raw, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func toAnySlice[T any](resources []T) []any {
	out := make([]any, len(resources))
	for i, r := range resources {
		out[i] = r
	}
	return out
}
