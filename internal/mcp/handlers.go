package mcp

import (
	"context"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/toolgate/internal/identity"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/ratelimit"
)

// --- Input/Output types ---

// CheckInput defines parameters for the toolgate_check tool.
type CheckInput struct {
	Identity string         `json:"identity" jsonschema:"caller identity asserted by the host"`
	Tool     string         `json:"tool" jsonschema:"name of the tool about to be called"`
	Args     map[string]any `json:"args,omitempty" jsonschema:"tool call arguments"`
	Session  string         `json:"session,omitempty" jsonschema:"session id for audit correlation"`
}

// CheckOutput contains the decision.
type CheckOutput struct {
	Decision      string `json:"decision"`
	Reason        string `json:"reason"`
	Stage         string `json:"stage"`
	MatchedRuleID string `json:"matched_rule_id,omitempty"`
	DecisionID    string `json:"decision_id"`
	RetryAfterSec int    `json:"retry_after_seconds,omitempty"`
}

// ValidateInput defines parameters for the toolgate_validate tool.
type ValidateInput struct {
	Path    string `json:"path,omitempty" jsonschema:"policy file to validate; defaults to the active policy"`
	Content string `json:"content,omitempty" jsonschema:"inline policy document, validated instead of a file"`
	Format  string `json:"format,omitempty" jsonschema:"format of inline content (yaml/json/toml), default yaml"`
}

// ValidateOutput lists violations, if any.
type ValidateOutput struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
	Error      string   `json:"error,omitempty"`
	Rules      int      `json:"rules,omitempty"`
	Hash       string   `json:"hash,omitempty"`
}

// ExplainInput defines parameters for the toolgate_explain tool.
type ExplainInput struct {
	Identity string `json:"identity" jsonschema:"caller identity"`
	Tool     string `json:"tool" jsonschema:"tool name"`
}

// ExplainOutput describes the resolution.
type ExplainOutput struct {
	Action string        `json:"action"`
	RuleID string        `json:"rule_id,omitempty"`
	Reason string        `json:"reason"`
	Trace  []ExplainStep `json:"trace"`
}

// ExplainStep is one evaluated rule.
type ExplainStep struct {
	RuleID        string `json:"rule_id"`
	IdentityMatch bool   `json:"identity_match"`
	ToolMatch     bool   `json:"tool_match"`
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	var args any
	if input.Args != nil {
		args = input.Args
	}
	res := s.gate.Check(ctx, model.Request{
		Tool:       input.Tool,
		Args:       args,
		Identity:   input.Identity,
		Session:    input.Session,
		PolicyPath: s.cfg.PolicyPath,
	})

	out := CheckOutput{
		Decision:      string(res.Decision()),
		Reason:        res.Reason,
		Stage:         string(res.Stage),
		MatchedRuleID: res.MatchedRuleID,
		DecisionID:    res.DecisionID,
	}
	if res.RetryAfter > 0 {
		out.RetryAfterSec = ratelimit.RetrySeconds(res.RetryAfter)
	}
	if !res.Allowed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleValidate(ctx context.Context, req *mcpsdk.CallToolRequest, input ValidateInput) (*mcpsdk.CallToolResult, ValidateOutput, error) {
	var (
		p    *policy.Policy
		hash string
		err  error
	)
	switch {
	case input.Content != "":
		format := policy.Format(input.Format)
		if format == "" {
			format = policy.FormatYAML
		}
		p, err = policy.Parse([]byte(input.Content), format)
		hash = policy.HashBytes([]byte(input.Content))
	default:
		path := input.Path
		if path == "" {
			path = s.cfg.PolicyPath
		}
		p, hash, err = policy.LoadWithHash(path)
	}
	if err == nil {
		err = policy.Validate(p)
	}
	if err != nil {
		out := ValidateOutput{Error: err.Error()}
		var verr *policy.ValidationError
		if errors.As(err, &verr) {
			for _, v := range verr.Violations {
				out.Violations = append(out.Violations, v.String())
			}
		}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, ValidateOutput{Valid: true, Rules: len(p.Rules), Hash: hash}, nil
}

func (s *Server) handleExplain(ctx context.Context, req *mcpsdk.CallToolRequest, input ExplainInput) (*mcpsdk.CallToolResult, ExplainOutput, error) {
	c, err := s.gate.Policy(s.cfg.PolicyPath)
	if err != nil {
		return nil, ExplainOutput{}, fmt.Errorf("policy error: %w", err)
	}
	res, steps := identity.Explain(c, input.Identity, input.Tool)
	out := ExplainOutput{
		Action: string(res.Action),
		RuleID: res.RuleID(),
		Reason: res.Reason(),
		Trace:  make([]ExplainStep, len(steps)),
	}
	for i, st := range steps {
		out.Trace[i] = ExplainStep{RuleID: st.RuleID, IdentityMatch: st.IdentityMatch, ToolMatch: st.ToolMatch}
	}
	return nil, out, nil
}
