package policydiff

import (
	"strings"
	"testing"

	"github.com/ppiankov/toolgate/internal/policy"
)

func basePolicy() *policy.Policy {
	return &policy.Policy{
		Version:       1,
		DefaultAction: "block",
		RateLimit:     &policy.RateLimit{WindowSeconds: 60, MaxCalls: 30},
		Rules: []policy.Rule{
			{ID: "ops-deploy", IdentityMatch: policy.Patterns{"ops"}, Scope: policy.Scope{Tools: policy.Patterns{"deploy"}, Action: "allow"}},
			{ID: "read-only", IdentityMatch: policy.Patterns{"*"}, Scope: policy.Scope{Tools: policy.Patterns{"get_*"}, Action: "allow"}},
			{ID: "no-shell", IdentityMatch: policy.Patterns{"*"}, Scope: policy.Scope{Tools: policy.Patterns{"shell_exec"}, Action: "block"}},
		},
	}
}

func mustDiff(t *testing.T, a, b *policy.Policy) *DiffResult {
	t.Helper()
	r, err := Diff(a, b)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestIdenticalPoliciesNoChanges(t *testing.T) {
	r := mustDiff(t, basePolicy(), basePolicy())
	if r.HasChanges || len(r.Patch) != 0 {
		t.Errorf("expected no changes, got %+v", r)
	}
}

func TestDefaultActionChange(t *testing.T) {
	b := basePolicy()
	b.DefaultAction = "allow"

	r := mustDiff(t, basePolicy(), b)
	if len(r.Changes) != 1 {
		t.Fatalf("expected 1 change, got %+v", r.Changes)
	}
	c := r.Changes[0]
	if c.Field != "default_action" || c.Old != "block" || c.New != "allow" || c.Comment != "looser" {
		t.Errorf("unexpected change %+v", c)
	}
	if len(r.Patch) == 0 {
		t.Error("expected a JSON patch")
	}
}

func TestUnsetDefaultEqualsBlock(t *testing.T) {
	b := basePolicy()
	b.DefaultAction = ""
	if r := mustDiff(t, basePolicy(), b); len(r.Changes) != 0 {
		t.Errorf("unset default should compare equal to block, got %+v", r.Changes)
	}
}

func TestRateLimitStricter(t *testing.T) {
	b := basePolicy()
	b.RateLimit = &policy.RateLimit{WindowSeconds: 60, MaxCalls: 10}

	r := mustDiff(t, basePolicy(), b)
	if len(r.Changes) != 1 || r.Changes[0].Comment != "stricter" || r.Changes[0].New != "10/60s" {
		t.Fatalf("unexpected changes %+v", r.Changes)
	}

	b.RateLimit = nil
	r = mustDiff(t, basePolicy(), b)
	if r.Changes[0].New != "none" || r.Changes[0].Comment != "looser" {
		t.Fatalf("removing the limit should be looser, got %+v", r.Changes[0])
	}
}

func TestRuleAddedRemovedChanged(t *testing.T) {
	b := basePolicy()
	b.Rules[0].Scope.Action = "block"
	b.Rules = append(b.Rules[:2], policy.Rule{
		ID: "dev-read", IdentityMatch: policy.Patterns{"dev"}, Scope: policy.Scope{Tools: policy.Patterns{"read_file"}, Action: "allow"},
	})

	r := mustDiff(t, basePolicy(), b)
	types := map[string]string{}
	for _, rc := range r.RuleChanges {
		types[rc.ID] = rc.Type
	}
	if types["ops-deploy"] != "changed" || types["dev-read"] != "added" || types["no-shell"] != "removed" {
		t.Fatalf("unexpected rule changes %+v", r.RuleChanges)
	}
	for _, rc := range r.RuleChanges {
		if rc.ID == "ops-deploy" && (len(rc.Fields) != 1 || rc.Fields[0] != "scope.action") {
			t.Errorf("expected scope.action change, got %v", rc.Fields)
		}
	}
}

func TestRuleOrderChange(t *testing.T) {
	b := basePolicy()
	b.Rules[1], b.Rules[2] = b.Rules[2], b.Rules[1]

	r := mustDiff(t, basePolicy(), b)
	moved := 0
	for _, rc := range r.RuleChanges {
		if rc.Type == "moved" {
			moved++
		}
	}
	if moved != 2 {
		t.Fatalf("expected 2 moved rules, got %+v", r.RuleChanges)
	}
}

func TestInjectionPatternChanges(t *testing.T) {
	a := basePolicy()
	a.InjectionPatterns = []string{"ignore previous instructions"}
	b := basePolicy()
	b.InjectionPatterns = []string{"re:api[_-]?key"}
	b.UseDefaultPatterns = true

	r := mustDiff(t, a, b)
	text := FormatText(r)
	for _, want := range []string{"+ re:api[_-]?key", "- ignore previous instructions", "use_default_patterns:", "(stricter)"} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
}

func TestFormatNoChanges(t *testing.T) {
	r := mustDiff(t, basePolicy(), basePolicy())
	r.OldPath, r.NewPath = "a.yaml", "b.yaml"
	if got := FormatText(r); !strings.Contains(got, "No changes detected.") {
		t.Errorf("unexpected text %q", got)
	}
}

func TestFormatJSONAndPatch(t *testing.T) {
	b := basePolicy()
	b.DefaultAction = "allow"
	r := mustDiff(t, basePolicy(), b)

	js, err := FormatJSON(r)
	if err != nil || !strings.Contains(js, `"has_changes": true`) {
		t.Fatalf("unexpected JSON %s (%v)", js, err)
	}
	patch, err := FormatPatch(r)
	if err != nil || !strings.Contains(patch, `"/default_action"`) || !strings.Contains(patch, `"replace"`) {
		t.Fatalf("unexpected patch %s (%v)", patch, err)
	}
}
