package identity

import (
	"strings"

	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

// Resolution is the outcome of scope resolution for one call.
type Resolution struct {
	// Rule is the first matching rule, or nil when default_action applied.
	Rule   *policy.CompiledRule
	Action model.Action
}

// RuleID returns the matched rule id, or "" for the default action.
func (r Resolution) RuleID() string {
	if r.Rule == nil {
		return ""
	}
	return r.Rule.ID
}

// Reason describes the resolution in the form used by decisions.
func (r Resolution) Reason() string {
	verb := "allows"
	if r.Action != model.Allow {
		verb = "denies"
	}
	if r.Rule == nil {
		return "default action is " + string(r.Action)
	}
	return "rule " + r.Rule.ID + " " + verb
}

// Resolve walks the rules in declared order and returns the first whose
// identity_match accepts identity and whose scope.tools accepts tool.
// First match wins. With no match the policy default applies.
func Resolve(c *policy.Compiled, identity, tool string) Resolution {
	if c == nil {
		return Resolution{Action: model.Block}
	}
	for i := range c.Rules {
		r := &c.Rules[i]
		if MatchAny(r.IdentityMatch, identity) && MatchAny(r.Tools, tool) {
			return Resolution{Rule: r, Action: r.Action}
		}
	}
	return Resolution{Action: c.DefaultAction}
}

// Trace records, for every rule, whether it matched. Used by eval --explain.
type Trace struct {
	RuleID        string
	IdentityMatch bool
	ToolMatch     bool
}

// Explain is Resolve plus the per-rule match trace up to and including the
// winning rule.
func Explain(c *policy.Compiled, identity, tool string) (Resolution, []Trace) {
	if c == nil {
		return Resolution{Action: model.Block}, nil
	}
	var traces []Trace
	for i := range c.Rules {
		r := &c.Rules[i]
		t := Trace{
			RuleID:        r.ID,
			IdentityMatch: MatchAny(r.IdentityMatch, identity),
			ToolMatch:     MatchAny(r.Tools, tool),
		}
		traces = append(traces, t)
		if t.IdentityMatch && t.ToolMatch {
			return Resolution{Rule: r, Action: r.Action}, traces
		}
	}
	return Resolution{Action: c.DefaultAction}, traces
}

// MatchAny reports whether any pattern accepts value.
func MatchAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if MatchPattern(p, value) {
			return true
		}
	}
	return false
}

// MatchPattern checks if a value matches a glob-like pattern.
// Supports: * (anything), *x* (contains), *x (suffix), x* (prefix), exact match.
// Matching is case-insensitive. An empty pattern matches nothing.
func MatchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == "" {
		return false
	}

	lowerValue := strings.ToLower(value)
	lowerPattern := strings.ToLower(pattern)

	// *x* contains
	if len(lowerPattern) >= 2 && strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		inner := lowerPattern[1 : len(lowerPattern)-1]
		return strings.Contains(lowerValue, inner)
	}

	// *x suffix
	if strings.HasPrefix(lowerPattern, "*") {
		return strings.HasSuffix(lowerValue, lowerPattern[1:])
	}

	// x* prefix
	if strings.HasSuffix(lowerPattern, "*") {
		return strings.HasPrefix(lowerValue, lowerPattern[:len(lowerPattern)-1])
	}

	return lowerValue == lowerPattern
}
