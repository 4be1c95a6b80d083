// Package transform implements the Transformation Engine (C12): mapping
// SCIM group display names to provider entitlements via four rule kinds,
// plus best-effort reverse mapping and conflict resolution. Grounded on
// abcxyz-team-link/pkg/groupsync/groups.go's OneToManyGroupMapper/Mapping
// abstraction for the shape of a pluggable group-to-target mapping
// contract, generalized from a single group-system mapper to rule-kind
// dispatch per spec §4.12.
package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/scim-gateway/gateway/internal/provider"
	"github.com/scim-gateway/gateway/internal/scimerr"
)

// Kind is the rule-kind enum from spec §3/§4.12.
type Kind string

const (
	KindExact        Kind = "EXACT"
	KindRegex        Kind = "REGEX"
	KindHierarchical Kind = "HIERARCHICAL"
	KindConditional  Kind = "CONDITIONAL"
)

// ConflictStrategy governs how same-name entitlement conflicts are resolved
// per spec §4.12.
type ConflictStrategy string

const (
	FirstWins      ConflictStrategy = "firstWins"
	HighestPriority ConflictStrategy = "highestPriority"
	Merge          ConflictStrategy = "merge"
	Fail           ConflictStrategy = "fail"
)

// Rule is spec §3's Transformation Rule.
type Rule struct {
	ID            string
	Priority      int // lower = higher priority
	SourcePattern string
	TargetMapping string
	Kind          Kind
	ProviderID    string
	TenantID      string
	Enabled       bool
}

// ConflictEvent is emitted to the audit pipeline when two rules disagree on
// an entitlement's attributes (spec §4.12: "surfaced via the audit pipeline
// as structured events").
type ConflictEvent struct {
	TenantID       string
	ProviderID     string
	EntitlementName string
	RuleIDs        []string
}

// Evaluate applies every enabled rule for (tenantId, providerId) against
// groupDisplayName, in priority order, per spec §4.12.
func Evaluate(rules []Rule, groupDisplayName string, strategy ConflictStrategy) ([]provider.Entitlement, []ConflictEvent, error) {
	sorted := sortedEnabled(rules)

	byName := make(map[string][]matched)
	var order []string
	for _, r := range sorted {
		ents := evalRule(r, groupDisplayName)
		for _, e := range ents {
			if _, seen := byName[e.Name]; !seen {
				order = append(order, e.Name)
			}
			byName[e.Name] = append(byName[e.Name], matched{rule: r, ent: e})
		}
	}

	var result []provider.Entitlement
	var conflicts []ConflictEvent
	for _, name := range order {
		group := byName[name]
		if !hasConflict(group) {
			result = append(result, group[0].ent)
			continue
		}

		conflict := ConflictEvent{
			TenantID:        sorted[0].TenantID,
			ProviderID:      sorted[0].ProviderID,
			EntitlementName: name,
		}
		for _, m := range group {
			conflict.RuleIDs = append(conflict.RuleIDs, m.rule.ID)
		}
		conflicts = append(conflicts, conflict)

		resolved, err := resolveConflict(group, strategy)
		if err != nil {
			return nil, conflicts, err
		}
		result = append(result, resolved...)
	}

	return result, conflicts, nil
}

type matched struct {
	rule Rule
	ent  provider.Entitlement
}

func hasConflict(group []matched) bool {
	if len(group) < 2 {
		return false
	}
	first := group[0].ent
	for _, m := range group[1:] {
		if m.ent != first {
			return true
		}
	}
	return false
}

func resolveConflict(group []matched, strategy ConflictStrategy) ([]provider.Entitlement, error) {
	switch strategy {
	case FirstWins:
		return []provider.Entitlement{group[0].ent}, nil
	case HighestPriority:
		best := group[0]
		for _, m := range group[1:] {
			if m.rule.Priority < best.rule.Priority {
				best = m
			}
		}
		return []provider.Entitlement{best.ent}, nil
	case Merge:
		merged := group[0].ent
		merged.ProviderEntitlementID = strings.Join(entitlementIDs(group), ",")
		return []provider.Entitlement{merged}, nil
	case Fail:
		return nil, scimerr.New(scimerr.KindInternal, "", fmt.Sprintf("transformation conflict on entitlement %q", group[0].ent.Name))
	default:
		return []provider.Entitlement{group[0].ent}, nil
	}
}

func entitlementIDs(group []matched) []string {
	ids := make([]string, 0, len(group))
	for _, m := range group {
		if m.ent.ProviderEntitlementID != "" {
			ids = append(ids, m.ent.ProviderEntitlementID)
		}
	}
	return ids
}

func sortedEnabled(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func evalRule(r Rule, groupDisplayName string) []provider.Entitlement {
	switch r.Kind {
	case KindExact:
		if groupDisplayName == r.SourcePattern {
			return []provider.Entitlement{{Name: r.TargetMapping, Type: "entitlement", ProviderEntitlementID: r.TargetMapping}}
		}
	case KindRegex:
		re, err := regexp.Compile(r.SourcePattern)
		if err != nil {
			return nil
		}
		if re.MatchString(groupDisplayName) {
			name := expandRegexTemplate(re, groupDisplayName, r.TargetMapping)
			return []provider.Entitlement{{Name: name, Type: "entitlement", ProviderEntitlementID: name}}
		}
	case KindHierarchical:
		segments := strings.Split(groupDisplayName, "/")
		if !matchesHierarchicalPattern(r.SourcePattern, segments) {
			return nil
		}
		name := expandHierarchicalTemplate(r.TargetMapping, segments)
		return []provider.Entitlement{{Name: name, Type: "entitlement", ProviderEntitlementID: name}}
	case KindConditional:
		if evalConditionalPredicate(r.SourcePattern, groupDisplayName) {
			return []provider.Entitlement{{Name: r.TargetMapping, Type: "entitlement", ProviderEntitlementID: r.TargetMapping}}
		}
	}
	return nil
}

func expandRegexTemplate(re *regexp.Regexp, input, template string) string {
	match := re.FindStringSubmatchIndex(input)
	if match == nil {
		return template
	}
	return string(re.ExpandString(nil, template, input, match))
}

// matchesHierarchicalPattern supports a sourcePattern of "*" (match any
// depth) or an exact segment-count match (e.g. "*/*" requires 2 segments).
func matchesHierarchicalPattern(pattern string, segments []string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	want := strings.Split(pattern, "/")
	return len(want) == len(segments)
}

// expandHierarchicalTemplate replaces ${levelN} (1-based) with the n-th
// path segment, per spec §4.12.
func expandHierarchicalTemplate(template string, segments []string) string {
	out := template
	for i, seg := range segments {
		placeholder := fmt.Sprintf("${level%d}", i+1)
		out = strings.ReplaceAll(out, placeholder, seg)
	}
	return out
}

// evalConditionalPredicate supports the spec's example predicate shape:
// `contains 'X'`. Additional predicate forms can be added as the rule
// language grows; unknown predicates never match (fail closed).
func evalConditionalPredicate(predicate, groupDisplayName string) bool {
	predicate = strings.TrimSpace(predicate)
	const containsPrefix = "contains "
	if strings.HasPrefix(predicate, containsPrefix) {
		needle := strings.Trim(strings.TrimPrefix(predicate, containsPrefix), `'"`)
		return strings.Contains(groupDisplayName, needle)
	}
	return false
}

// ReverseMatch is one candidate group a reverse transformation produced.
type ReverseMatch struct {
	RuleID            string
	GroupDisplayName  string
	RulePriority      int
}

// Reverse returns every SCIM group that *could* have produced
// entitlementName under the given rules, per spec §4.12. EXACT and
// CONDITIONAL rules have a literal targetMapping, so a match yields
// sourcePattern directly. REGEX/HIERARCHICAL rules are inverted by
// substitution: the placeholders in targetMapping (`${n}` / `${levelN}`)
// are turned into capturing groups, matched against entitlementName to
// recover the original captured text, then that text is spliced back into
// sourcePattern's own capturing groups (worked example: REGEX
// `^Sales-(.*)$` -> `Sales_${1}_Rep`, reverse of `Sales_EMEA_Rep` yields
// `Sales-EMEA`).
func Reverse(rules []Rule, entitlementName string) []ReverseMatch {
	var out []ReverseMatch
	for _, r := range sortedEnabled(rules) {
		switch r.Kind {
		case KindExact, KindConditional:
			if r.TargetMapping == entitlementName {
				out = append(out, ReverseMatch{RuleID: r.ID, GroupDisplayName: r.SourcePattern, RulePriority: r.Priority})
			}
		case KindRegex:
			if name, ok := reverseRegex(r.SourcePattern, r.TargetMapping, entitlementName); ok {
				out = append(out, ReverseMatch{RuleID: r.ID, GroupDisplayName: name, RulePriority: r.Priority})
			}
		case KindHierarchical:
			if name, ok := reverseHierarchical(r.TargetMapping, entitlementName); ok {
				out = append(out, ReverseMatch{RuleID: r.ID, GroupDisplayName: name, RulePriority: r.Priority})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RulePriority < out[j].RulePriority })
	return out
}

var (
	regexGroupPlaceholder = regexp.MustCompile(`\$\{(\d+)\}`)
	levelPlaceholder       = regexp.MustCompile(`\$\{level(\d+)\}`)
	sourceGroupPattern     = regexp.MustCompile(`\([^()]*\)`)
)

// captureFromPlaceholders turns template's placeholders (as matched by
// placeholderRe, whose first submatch is the numeric key) into capturing
// groups, matches value against the resulting pattern, and returns the
// captured text keyed by placeholder number.
func captureFromPlaceholders(placeholderRe *regexp.Regexp, template, value string) (map[int]string, bool) {
	locs := placeholderRe.FindAllStringSubmatchIndex(template, -1)
	if len(locs) == 0 {
		return nil, false
	}

	var pattern strings.Builder
	pattern.WriteString("^")
	keys := make([]int, 0, len(locs))
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		pattern.WriteString(regexp.QuoteMeta(template[last:start]))
		pattern.WriteString("(.*)")
		key, err := strconv.Atoi(template[loc[2]:loc[3]])
		if err != nil {
			return nil, false
		}
		keys = append(keys, key)
		last = end
	}
	pattern.WriteString(regexp.QuoteMeta(template[last:]))
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, false
	}
	m := re.FindStringSubmatch(value)
	if m == nil {
		return nil, false
	}

	captures := make(map[int]string, len(keys))
	for i, key := range keys {
		captures[key] = m[i+1]
	}
	return captures, true
}

// reverseRegex inverts a REGEX rule by recovering each ${n} capture from
// targetMapping and splicing it back into sourcePattern's n-th capturing
// group, then stripping the `^`/`$` anchors left over from treating
// sourcePattern as a regex rather than a literal skeleton.
func reverseRegex(sourcePattern, targetMapping, entitlementName string) (string, bool) {
	captures, ok := captureFromPlaceholders(regexGroupPlaceholder, targetMapping, entitlementName)
	if !ok {
		return "", false
	}

	groupNum := 0
	spliced := sourceGroupPattern.ReplaceAllStringFunc(sourcePattern, func(group string) string {
		groupNum++
		if v, ok := captures[groupNum]; ok {
			return v
		}
		return group
	})
	spliced = strings.TrimPrefix(spliced, "^")
	spliced = strings.TrimSuffix(spliced, "$")
	return spliced, true
}

// reverseHierarchical inverts a HIERARCHICAL rule by recovering each
// ${levelN} capture from targetMapping and joining them back into
// slash-separated segments, per the same positional-level convention
// expandHierarchicalTemplate uses going forward.
func reverseHierarchical(targetMapping, entitlementName string) (string, bool) {
	captures, ok := captureFromPlaceholders(levelPlaceholder, targetMapping, entitlementName)
	if !ok {
		return "", false
	}

	maxLevel := 0
	for k := range captures {
		if k > maxLevel {
			maxLevel = k
		}
	}
	segments := make([]string, maxLevel)
	for i := 1; i <= maxLevel; i++ {
		segments[i-1] = captures[i]
	}
	return strings.Join(segments, "/"), true
}

// RuleSetLoader fetches the enabled rule set for (tenantId, providerId),
// typically backed by a repository query.
type RuleSetLoader func(tenantID, providerID string) ([]Rule, error)

// Cache is the TTL-based, single-flight rule-set cache from spec §5
// ("The transformation rule set per (tenantId, providerId) is cached with
// TTL-based invalidation; cache refresh is single-flight"), using the same
// sync.RWMutex double-checked-lock idiom as the teacher's
// RateLimiter.getBucket.
type Cache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	load   RuleSetLoader
	byKey  map[string]cacheEntry
	inflight sync.Map // key -> *sync.WaitGroup, coalesces concurrent refreshes
}

type cacheEntry struct {
	rules     []Rule
	fetchedAt time.Time
}

func NewCache(ttl time.Duration, load RuleSetLoader) *Cache {
	return &Cache{ttl: ttl, load: load, byKey: make(map[string]cacheEntry)}
}

func cacheKey(tenantID, providerID string) string { return tenantID + "|" + providerID }

// Get returns the cached rule set, refreshing it (single-flight) if stale.
func (c *Cache) Get(tenantID, providerID string) ([]Rule, error) {
	key := cacheKey(tenantID, providerID)

	c.mu.RLock()
	entry, ok := c.byKey[key]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.rules, nil
	}

	wgVal, loaded := c.inflight.LoadOrStore(key, new(sync.WaitGroup))
	wg := wgVal.(*sync.WaitGroup)
	if loaded {
		wg.Wait()
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.byKey[key].rules, nil
	}

	wg.Add(1)
	defer func() {
		wg.Done()
		c.inflight.Delete(key)
	}()

	rules, err := c.load(tenantID, providerID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byKey[key] = cacheEntry{rules: rules, fetchedAt: time.Now()}
	c.mu.Unlock()
	return rules, nil
}

// Invalidate drops the cached entry for (tenantId, providerId), forcing the
// next Get to reload.
func (c *Cache) Invalidate(tenantID, providerID string) {
	c.mu.Lock()
	delete(c.byKey, cacheKey(tenantID, providerID))
	c.mu.Unlock()
}
