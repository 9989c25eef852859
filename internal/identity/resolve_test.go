package identity

import (
	"testing"

	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

func compile(t *testing.T, p *policy.Policy) *policy.Compiled {
	t.Helper()
	c, err := policy.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return c
}

func rule(id, ident, tool, action string) policy.Rule {
	return policy.Rule{
		ID:            id,
		IdentityMatch: policy.Patterns{ident},
		Scope:         policy.Scope{Tools: policy.Patterns{tool}, Action: action},
	}
}

func TestResolveFirstMatch(t *testing.T) {
	c := compile(t, &policy.Policy{
		Version:       1,
		DefaultAction: "block",
		Rules: []policy.Rule{
			rule("ops-deploy", "ops", "deploy", "allow"),
			rule("all-deploy", "*", "deploy", "block"),
		},
	})

	res := Resolve(c, "ops", "deploy")
	if res.Action != model.Allow || res.RuleID() != "ops-deploy" {
		t.Errorf("expected ops-deploy allow, got %s %s", res.RuleID(), res.Action)
	}
	if res.Reason() != "rule ops-deploy allows" {
		t.Errorf("unexpected reason %q", res.Reason())
	}

	res = Resolve(c, "dev", "deploy")
	if res.Action != model.Block || res.RuleID() != "all-deploy" {
		t.Errorf("expected all-deploy block, got %s %s", res.RuleID(), res.Action)
	}
	if res.Reason() != "rule all-deploy denies" {
		t.Errorf("unexpected reason %q", res.Reason())
	}
}

func TestResolveReversedOrderChangesResult(t *testing.T) {
	allow := rule("ops-deploy", "ops", "deploy", "allow")
	deny := rule("all-deploy", "*", "deploy", "block")

	forward := compile(t, &policy.Policy{Version: 1, Rules: []policy.Rule{allow, deny}})
	reversed := compile(t, &policy.Policy{Version: 1, Rules: []policy.Rule{deny, allow}})

	a := Resolve(forward, "ops", "deploy")
	b := Resolve(reversed, "ops", "deploy")
	if a.Action == b.Action {
		t.Fatalf("expected first-match-wins to change the outcome, both %s", a.Action)
	}
	if a.RuleID() != "ops-deploy" || b.RuleID() != "all-deploy" {
		t.Errorf("unexpected winners %s / %s", a.RuleID(), b.RuleID())
	}
}

func TestResolveDefaultAction(t *testing.T) {
	tests := []struct {
		def    string
		want   model.Action
		reason string
	}{
		{"allow", model.Allow, "default action is allow"},
		{"block", model.Block, "default action is block"},
		{"", model.Block, "default action is block"},
	}
	for _, tt := range tests {
		t.Run("default_"+tt.def, func(t *testing.T) {
			c := compile(t, &policy.Policy{
				Version:       1,
				DefaultAction: tt.def,
				Rules:         []policy.Rule{rule("ops-deploy", "ops", "deploy", "allow")},
			})
			res := Resolve(c, "dev", "deploy")
			if res.Rule != nil {
				t.Errorf("expected no rule, got %s", res.RuleID())
			}
			if res.Action != tt.want || res.Reason() != tt.reason {
				t.Errorf("got %s %q, want %s %q", res.Action, res.Reason(), tt.want, tt.reason)
			}
		})
	}
}

func TestResolveNeedsBothMatches(t *testing.T) {
	c := compile(t, &policy.Policy{
		Version:       1,
		DefaultAction: "block",
		Rules:         []policy.Rule{rule("ops-deploy", "ops", "deploy", "allow")},
	})
	if Resolve(c, "ops", "shell").Rule != nil {
		t.Error("identity match alone must not select the rule")
	}
	if Resolve(c, "dev", "deploy").Rule != nil {
		t.Error("tool match alone must not select the rule")
	}
}

func TestResolveNilPolicyBlocks(t *testing.T) {
	if Resolve(nil, "ops", "deploy").Action != model.Block {
		t.Error("nil policy must block")
	}
}

func TestExplainTrace(t *testing.T) {
	c := compile(t, &policy.Policy{
		Version: 1,
		Rules: []policy.Rule{
			rule("a", "dev", "deploy", "allow"),
			rule("b", "ops", "shell", "block"),
			rule("c", "ops", "deploy", "allow"),
			rule("d", "*", "*", "block"),
		},
	})
	res, traces := Explain(c, "ops", "deploy")
	if res.RuleID() != "c" {
		t.Fatalf("expected rule c, got %s", res.RuleID())
	}
	if len(traces) != 3 {
		t.Fatalf("expected trace to stop at winner, got %d entries", len(traces))
	}
	if traces[0].IdentityMatch || !traces[0].ToolMatch {
		t.Errorf("unexpected trace for a: %+v", traces[0])
	}
	if !traces[1].IdentityMatch || traces[1].ToolMatch {
		t.Errorf("unexpected trace for b: %+v", traces[1])
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"", "anything", false},
		{"deploy", "deploy", true},
		{"deploy", "DEPLOY", true},
		{"deploy", "deploy_prod", false},
		{"deploy*", "deploy_prod", true},
		{"deploy*", "predeploy", false},
		{"*_prod", "deploy_prod", true},
		{"*_prod", "deploy_staging", false},
		{"*shell*", "run_shell_cmd", true},
		{"*shell*", "bash", false},
		{"**", "x", true},
	}
	for _, tt := range tests {
		if got := MatchPattern(tt.pattern, tt.value); got != tt.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	if !MatchAny([]string{"a", "b*"}, "bravo") {
		t.Error("expected bravo to match b*")
	}
	if MatchAny(nil, "x") {
		t.Error("empty pattern set must match nothing")
	}
}
