package model

import (
	"strings"
	"time"
)

// Action is the effect a rule (or the policy default) has on a tool call.
type Action string

const (
	Allow Action = "allow"
	Block Action = "block"
)

// ParseAction maps a policy string to an Action.
// Unknown values return ok=false; callers must treat them as Block.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return Allow, true
	case "block", "deny":
		return Block, true
	default:
		return Block, false
	}
}

// Stage names the decision step that produced a result.
type Stage string

const (
	StagePolicy    Stage = "policy"
	StageInjection Stage = "injection"
	StageScope     Stage = "scope"
	StageRateLimit Stage = "ratelimit"
	StageInternal  Stage = "internal"
)

// Request is one intercepted tool call, as handed over by the host hook.
type Request struct {
	Tool       string `json:"tool"`
	Args       any    `json:"args,omitempty"`
	Identity   string `json:"identity"`
	Session    string `json:"session,omitempty"`
	PolicyPath string `json:"policy_path"`
}

// CheckResult is the governance decision for one call.
// It is built once per call and never modified afterwards.
type CheckResult struct {
	Allowed       bool          `json:"allowed"`
	Reason        string        `json:"reason"`
	MatchedRuleID string        `json:"matched_rule_id,omitempty"`
	Stage         Stage         `json:"stage"`
	DecisionID    string        `json:"decision_id"`
	PolicyHash    string        `json:"policy_hash,omitempty"`
	RetryAfter    time.Duration `json:"retry_after,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`

	// AuditWarning is set when the audit write for this decision failed.
	// The decision itself is unaffected.
	AuditWarning string `json:"audit_warning,omitempty"`
}

// Decision returns the result as an Action.
func (r CheckResult) Decision() Action {
	if r.Allowed {
		return Allow
	}
	return Block
}

// TimestampFormat is the layout used for decision and audit timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// UTCISO formats t in TimestampFormat.
func UTCISO(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}
