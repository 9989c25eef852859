// Package policydiff compares two policy documents in terms of what they
// decide, not how they are written.
package policydiff

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/wI2L/jsondiff"

	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a rule addition, removal, modification or move.
type RuleChange struct {
	Type   string   `json:"type"` // "added", "removed", "changed", "moved"
	ID     string   `json:"id"`
	Rule   string   `json:"rule"`
	Fields []string `json:"fields,omitempty"`
}

// DiffResult holds the comparison of two policies.
type DiffResult struct {
	OldPath     string         `json:"old_path"`
	NewPath     string         `json:"new_path"`
	Changes     []Change       `json:"changes"`
	RuleChanges []RuleChange   `json:"rule_changes"`
	Patch       jsondiff.Patch `json:"patch,omitempty"`
	HasChanges  bool           `json:"has_changes"`
}

// Diff compares two policies. The JSON patch covers the whole document;
// Changes and RuleChanges explain the parts that affect decisions.
func Diff(old, new *policy.Policy) (*DiffResult, error) {
	r := &DiffResult{}

	if old.Version != new.Version {
		r.Changes = append(r.Changes, Change{
			Field: "version",
			Old:   fmt.Sprintf("%d", old.Version),
			New:   fmt.Sprintf("%d", new.Version),
		})
	}

	if oa, na := effectiveDefault(old), effectiveDefault(new); oa != na {
		r.Changes = append(r.Changes, Change{
			Field:   "default_action",
			Old:     string(oa),
			New:     string(na),
			Comment: actionComment(oa, na),
		})
	}

	if op, np := effectivePrecedence(old), effectivePrecedence(new); op != np {
		r.Changes = append(r.Changes, Change{Field: "precedence", Old: op, New: np})
	}

	diffRateLimit(r, "rate_limit", old.RateLimit, new.RateLimit)

	if old.UseDefaultPatterns != new.UseDefaultPatterns {
		c := Change{
			Field: "use_default_patterns",
			Old:   fmt.Sprintf("%t", old.UseDefaultPatterns),
			New:   fmt.Sprintf("%t", new.UseDefaultPatterns),
		}
		if new.UseDefaultPatterns {
			c.Comment = "stricter"
		} else {
			c.Comment = "looser"
		}
		r.Changes = append(r.Changes, c)
	}
	diffSet(r, "injection_patterns", old.InjectionPatterns, new.InjectionPatterns)

	diffRules(r, old.Rules, new.Rules)

	patch, err := patchOf(old, new)
	if err != nil {
		return nil, err
	}
	r.Patch = patch

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0
	return r, nil
}

func patchOf(old, new *policy.Policy) (jsondiff.Patch, error) {
	src, err := json.Marshal(old)
	if err != nil {
		return nil, fmt.Errorf("marshal old policy: %w", err)
	}
	dst, err := json.Marshal(new)
	if err != nil {
		return nil, fmt.Errorf("marshal new policy: %w", err)
	}
	patch, err := jsondiff.CompareJSON(src, dst)
	if err != nil {
		return nil, fmt.Errorf("compare policies: %w", err)
	}
	return patch, nil
}

// effectiveDefault mirrors compilation: an unset default blocks.
func effectiveDefault(p *policy.Policy) model.Action {
	a, _ := model.ParseAction(p.DefaultAction)
	return a
}

func effectivePrecedence(p *policy.Policy) string {
	if p.Precedence == "" {
		return string(policy.ScopeFirst)
	}
	return p.Precedence
}

func actionComment(old, new model.Action) string {
	if new == model.Block && old == model.Allow {
		return "stricter"
	}
	if new == model.Allow && old == model.Block {
		return "looser"
	}
	return ""
}

func diffRateLimit(r *DiffResult, field string, old, new *policy.RateLimit) {
	os, ns := rateLimitLabel(old), rateLimitLabel(new)
	if os == ns {
		return
	}
	r.Changes = append(r.Changes, Change{
		Field:   field,
		Old:     os,
		New:     ns,
		Comment: rateLimitComment(old, new),
	})
}

func rateLimitLabel(rl *policy.RateLimit) string {
	if rl == nil {
		return "none"
	}
	return fmt.Sprintf("%d/%ds", rl.MaxCalls, rl.WindowSeconds)
}

// rateLimitComment compares calls per second; adding a limit is stricter.
func rateLimitComment(old, new *policy.RateLimit) string {
	switch {
	case old == nil:
		return "stricter"
	case new == nil:
		return "looser"
	case old.WindowSeconds <= 0 || new.WindowSeconds <= 0:
		return ""
	}
	o := float64(old.MaxCalls) / float64(old.WindowSeconds)
	n := float64(new.MaxCalls) / float64(new.WindowSeconds)
	switch {
	case n < o:
		return "stricter"
	case n > o:
		return "looser"
	}
	return ""
}

func diffSet(r *DiffResult, field string, old, new []string) {
	for _, v := range new {
		if !slices.Contains(old, v) {
			r.Changes = append(r.Changes, Change{Field: field, New: v, Comment: "added"})
		}
	}
	for _, v := range old {
		if !slices.Contains(new, v) {
			r.Changes = append(r.Changes, Change{Field: field, Old: v, Comment: "removed"})
		}
	}
}

func ruleLabel(r policy.Rule) string {
	label := fmt.Sprintf("%s: %s → %s %s",
		r.ID, strings.Join(r.IdentityMatch, ","), strings.Join(r.Scope.Tools, ","), strings.ToLower(r.Scope.Action))
	if r.RateLimit != nil {
		label += " (" + rateLimitLabel(r.RateLimit) + ")"
	}
	return label
}

func diffRules(r *DiffResult, oldRules, newRules []policy.Rule) {
	oldMap := make(map[string]policy.Rule, len(oldRules))
	for _, rule := range oldRules {
		oldMap[rule.ID] = rule
	}
	newMap := make(map[string]policy.Rule, len(newRules))
	for _, rule := range newRules {
		newMap[rule.ID] = rule
	}

	for _, rule := range newRules {
		oldRule, exists := oldMap[rule.ID]
		if !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{Type: "added", ID: rule.ID, Rule: ruleLabel(rule)})
			continue
		}
		if fields := changedFields(oldRule, rule); len(fields) > 0 {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type:   "changed",
				ID:     rule.ID,
				Rule:   fmt.Sprintf("%s (was: %s)", ruleLabel(rule), ruleLabel(oldRule)),
				Fields: fields,
			})
		}
	}

	for _, rule := range oldRules {
		if _, exists := newMap[rule.ID]; !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{Type: "removed", ID: rule.ID, Rule: ruleLabel(rule)})
		}
	}

	// First match wins, so the relative order of surviving rules matters.
	oldOrder := commonOrder(oldRules, newMap)
	newOrder := commonOrder(newRules, oldMap)
	for i, id := range newOrder {
		if oldOrder[i] != id {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "moved",
				ID:   id,
				Rule: fmt.Sprintf("%s now evaluated at position %d (was %d)", id, indexOf(newRules, id)+1, indexOf(oldRules, id)+1),
			})
		}
	}
}

func changedFields(old, new policy.Rule) []string {
	var fields []string
	if !slices.Equal(old.IdentityMatch, new.IdentityMatch) {
		fields = append(fields, "identity_match")
	}
	if !slices.Equal(old.Scope.Tools, new.Scope.Tools) {
		fields = append(fields, "scope.tools")
	}
	oa, _ := model.ParseAction(old.Scope.Action)
	na, _ := model.ParseAction(new.Scope.Action)
	if oa != na {
		fields = append(fields, "scope.action")
	}
	if rateLimitLabel(old.RateLimit) != rateLimitLabel(new.RateLimit) {
		fields = append(fields, "rate_limit")
	}
	return fields
}

func commonOrder(rules []policy.Rule, other map[string]policy.Rule) []string {
	var ids []string
	for _, r := range rules {
		if _, ok := other[r.ID]; ok {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func indexOf(rules []policy.Rule, id string) int {
	for i, r := range rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}
