package repo

import (
	"strconv"
	"strings"

	"github.com/scim-gateway/gateway/internal/scimfilter"
)

// Evaluate applies a parsed filter expression tree against a resource
// represented as a generic JSON-decoded map, per spec §4.2 ("the tree is a
// pure value; evaluation is the repository's responsibility").
func Evaluate(node *scimfilter.Node, resource map[string]any) bool {
	if node == nil {
		return true
	}
	switch node.Op {
	case scimfilter.OpAnd:
		return Evaluate(node.Left, resource) && Evaluate(node.Right, resource)
	case scimfilter.OpOr:
		return Evaluate(node.Left, resource) || Evaluate(node.Right, resource)
	case scimfilter.OpNot:
		return !Evaluate(node.Left, resource)
	case scimfilter.OpPr:
		return lookup(resource, node.Attribute) != nil
	case "valuepath":
		return evalValuePath(node, resource)
	default:
		return evalComparison(node, lookup(resource, node.Attribute))
	}
}

func evalValuePath(node *scimfilter.Node, resource map[string]any) bool {
	v := lookup(resource, node.Attribute)
	items, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if Evaluate(node.SubFilter, m) {
			return true
		}
	}
	return false
}

func evalComparison(node *scimfilter.Node, actual any) bool {
	switch node.Op {
	case scimfilter.OpEq:
		return compareEq(actual, node.Value)
	case scimfilter.OpNe:
		return !compareEq(actual, node.Value)
	case scimfilter.OpCo:
		return stringOp(actual, node.Value, strings.Contains)
	case scimfilter.OpSw:
		return stringOp(actual, node.Value, strings.HasPrefix)
	case scimfilter.OpEw:
		return stringOp(actual, node.Value, strings.HasSuffix)
	case scimfilter.OpGt, scimfilter.OpGe, scimfilter.OpLt, scimfilter.OpLe:
		return numericOp(node.Op, actual, node.Value)
	default:
		return false
	}
}

func compareEq(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.EqualFold(as, bs)
	}
	af, aok2 := toFloat(a)
	bf, bok2 := toFloat(b)
	if aok2 && bok2 {
		return af == bf
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return a == b
}

func stringOp(a, b any, f func(string, string) bool) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return false
	}
	return f(strings.ToLower(as), strings.ToLower(bs))
}

func numericOp(op scimfilter.Op, a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case scimfilter.OpGt:
			return af > bf
		case scimfilter.OpGe:
			return af >= bf
		case scimfilter.OpLt:
			return af < bf
		case scimfilter.OpLe:
			return af <= bf
		}
		return false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case scimfilter.OpGt:
			return as > bs
		case scimfilter.OpGe:
			return as >= bs
		case scimfilter.OpLt:
			return as < bs
		case scimfilter.OpLe:
			return as <= bs
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// lookup resolves a dotted/urn-prefixed attribute path against a generic map.
func lookup(resource map[string]any, path string) any {
	// strip a schema URN prefix (everything up to and including the last ':'
	// before the final path segment), per spec §4.2's colon-bearing paths.
	if idx := strings.LastIndex(path, ":"); idx >= 0 {
		path = path[idx+1:]
	}
	parts := strings.Split(path, ".")
	var cur any = resource
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = findCaseInsensitive(m, p)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func findCaseInsensitive(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}
