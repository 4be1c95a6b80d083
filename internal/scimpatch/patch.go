// Package scimpatch applies RFC 7644 §3.5.2 PATCH operations to a generic
// JSON-decoded resource representation, per spec §4.11. Grounded on
// internal/repo/evaluate.go's map[string]any + scimfilter.Node evaluation
// strategy, reused here so a PATCH value-filter path (e.g.
// `emails[type eq "work"]`) is matched with the exact same predicate logic
// that list filtering uses.
package scimpatch

import (
	"strings"

	"github.com/scim-gateway/gateway/internal/repo"
	"github.com/scim-gateway/gateway/internal/scimerr"
	"github.com/scim-gateway/gateway/internal/scimfilter"
	"github.com/scim-gateway/gateway/internal/scimmodel"
)

// Apply mutates resource (a JSON-decoded map) in place by applying each
// PatchOperation in order, per spec §4.11's exact op semantics. Returns a
// *scimerr.Error on the first invalid operation (e.g. noTarget on remove).
func Apply(resource map[string]any, ops []scimmodel.PatchOperation) error {
	for _, op := range ops {
		if err := applyOne(resource, op); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(resource map[string]any, op scimmodel.PatchOperation) error {
	kind := strings.ToLower(op.Op)
	switch kind {
	case "add", "replace":
		return applyAddOrReplace(resource, op.Path, op.Value, kind == "replace")
	case "remove":
		return applyRemove(resource, op.Path)
	default:
		return scimerr.InvalidSyntax("unsupported patch op " + op.Op)
	}
}

func applyAddOrReplace(resource map[string]any, path string, value any, replace bool) error {
	if path == "" {
		obj, ok := value.(map[string]any)
		if !ok {
			return scimerr.InvalidValue("add/replace with no path requires an object value")
		}
		for k, v := range obj {
			resource[k] = v
		}
		return nil
	}

	attr, filterNode, subAttr, err := parsePath(path)
	if err != nil {
		return err
	}

	if filterNode == nil {
		return setSimplePath(resource, attr, value, replace)
	}

	return mutateFilteredValues(resource, attr, filterNode, subAttr, func(items []any) ([]any, error) {
		if replace {
			return replaceMatching(items, filterNode, subAttr, value), nil
		}
		return addMatching(items, filterNode, value)
	})
}

func applyRemove(resource map[string]any, path string) error {
	if path == "" {
		return scimerr.NoTarget("remove requires a path")
	}

	attr, filterNode, subAttr, err := parsePath(path)
	if err != nil {
		return err
	}

	if filterNode == nil {
		return removeSimplePath(resource, attr)
	}

	removed := false
	err = mutateFilteredValues(resource, attr, filterNode, subAttr, func(items []any) ([]any, error) {
		out := items[:0:0]
		for _, item := range items {
			m, ok := item.(map[string]any)
			if ok && repo.Evaluate(filterNode.SubFilter, m) {
				removed = true
				if subAttr != "" {
					delete(m, subAttr)
					out = append(out, m)
				}
				continue
			}
			out = append(out, item)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	if !removed {
		return scimerr.NoTarget("no elements matched remove filter on " + attr)
	}
	return nil
}

// parsePath splits a PATCH path into its bare attribute, an optional
// value-path filter node (for `attr[filter]`), and an optional sub-attribute
// following the bracket (`attr[filter].subAttr`).
func parsePath(path string) (attr string, filterNode *scimfilter.Node, subAttr string, err error) {
	if !strings.Contains(path, "[") {
		return path, nil, "", nil
	}
	node, parseErr := scimfilter.Parse(path)
	if parseErr != nil {
		return "", nil, "", scimerr.InvalidSyntax("invalid patch path: " + path)
	}
	if node.Op != "valuepath" {
		return "", nil, "", scimerr.InvalidSyntax("invalid patch path: " + path)
	}
	return node.Attribute, node, node.SubAttr, nil
}

func setSimplePath(resource map[string]any, attr string, value any, replace bool) error {
	if idx := strings.Index(attr, "."); idx >= 0 {
		parent := findOrCreateMap(resource, attr[:idx])
		return setSimplePath(parent, attr[idx+1:], value, replace)
	}
	if !replace {
		if existing, ok := resource[attr]; ok {
			if arr, isArr := existing.([]any); isArr {
				out, _ := addMatching(arr, nil, value)
				resource[attr] = out
				return nil
			}
		}
	}
	resource[attr] = value
	return nil
}

func removeSimplePath(resource map[string]any, attr string) error {
	if idx := strings.Index(attr, "."); idx >= 0 {
		parentName := attr[:idx]
		parent, ok := resource[parentName].(map[string]any)
		if !ok {
			return scimerr.NoTarget("no target for path " + attr)
		}
		return removeSimplePath(parent, attr[idx+1:])
	}
	if _, ok := resource[attr]; !ok {
		return scimerr.NoTarget("no target for path " + attr)
	}
	delete(resource, attr)
	return nil
}

func findOrCreateMap(resource map[string]any, key string) map[string]any {
	existing, ok := resource[key].(map[string]any)
	if !ok {
		existing = map[string]any{}
		resource[key] = existing
	}
	return existing
}

func toSlice(value any) []any {
	if arr, ok := value.([]any); ok {
		return arr
	}
	return []any{value}
}

func mutateFilteredValues(resource map[string]any, attr string, filterNode *scimfilter.Node, subAttr string, mutate func([]any) ([]any, error)) error {
	existing, _ := resource[attr].([]any)
	updated, err := mutate(existing)
	if err != nil {
		return err
	}
	resource[attr] = updated
	return nil
}

func replaceMatching(items []any, filterNode *scimfilter.Node, subAttr string, value any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if ok && repo.Evaluate(filterNode.SubFilter, m) {
			if subAttr != "" {
				m[subAttr] = value
				out = append(out, m)
			} else if obj, ok := value.(map[string]any); ok {
				merged := map[string]any{}
				for k, v := range m {
					merged[k] = v
				}
				for k, v := range obj {
					merged[k] = v
				}
				out = append(out, merged)
			} else {
				out = append(out, value)
			}
			continue
		}
		out = append(out, item)
	}
	return out
}

// addMatching appends value to a multi-valued attribute, deduplicating on
// the "value" key so repeated identical adds produce a set (spec §4.11
// example: "subsequent identical PATCH still yields a set of 2").
func addMatching(items []any, filterNode *scimfilter.Node, value any) ([]any, error) {
	toAdd := toSlice(value)
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			if v, ok := m["value"].(string); ok {
				seen[v] = true
			}
		}
	}
	out := append([]any{}, items...)
	for _, a := range toAdd {
		m, ok := a.(map[string]any)
		if !ok {
			out = append(out, a)
			continue
		}
		v, _ := m["value"].(string)
		if v != "" && seen[v] {
			continue
		}
		if v != "" {
			seen[v] = true
		}
		out = append(out, m)
	}
	return out, nil
}
