package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/identity"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/ratelimit"
)

var (
	evalIdentity string
	evalTool     string
	evalArgs     string
	evalSession  string
	evalExplain  bool
	evalFormat   string
)

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().String("policy", "", "Path to policy file (yaml, json or toml)")
	evalCmd.Flags().String("precedence", "", "Override decision order (scope_first|rate_limit_first)")
	evalCmd.Flags().String("audit-sink", "", "Audit sink (jsonl|sqlite|log|none)")
	evalCmd.Flags().String("audit-path", "", "Audit log path for file sinks")
	evalCmd.Flags().StringVar(&evalIdentity, "identity", "", "Calling agent identity")
	evalCmd.Flags().StringVar(&evalTool, "tool", "", "Tool name")
	evalCmd.Flags().StringVar(&evalArgs, "args", "", "Tool arguments as JSON, or @file")
	evalCmd.Flags().StringVar(&evalSession, "session", "", "Session id (generated when empty)")
	evalCmd.Flags().BoolVar(&evalExplain, "explain", false, "Show the rule match trace")
	evalCmd.Flags().StringVar(&evalFormat, "format", "text", "Output format (text|json)")
	_ = evalCmd.MarkFlagRequired("identity")
	_ = evalCmd.MarkFlagRequired("tool")
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Decide a single tool call",
	Long:  "Runs one tool call through the gate and prints the decision.\nExits 0 when allowed and 2 when blocked.",
	RunE:  runEval,
}

// evalOutput is the JSON shape of an eval decision.
type evalOutput struct {
	model.CheckResult
	RetryAfterSeconds int         `json:"retry_after_seconds,omitempty"`
	Trace             []evalTrace `json:"trace,omitempty"`
}

type evalTrace struct {
	RuleID        string `json:"rule_id"`
	IdentityMatch bool   `json:"identity_match"`
	ToolMatch     bool   `json:"tool_match"`
}

func runEval(cmd *cobra.Command, args []string) error {
	if evalFormat != "text" && evalFormat != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", evalFormat)
	}
	callArgs, err := parseArgs(evalArgs)
	if err != nil {
		return err
	}

	g, cleanup, err := newGate(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	session := evalSession
	if session == "" {
		session = identity.NewSessionID()
	}
	req := model.Request{
		Tool:       evalTool,
		Args:       callArgs,
		Identity:   evalIdentity,
		Session:    session,
		PolicyPath: cfg.Policy,
	}
	res := g.Check(cmd.Context(), req)

	var traces []evalTrace
	if evalExplain {
		if c, err := g.Policy(cfg.Policy); err == nil {
			_, steps := identity.Explain(c, evalIdentity, evalTool)
			for _, st := range steps {
				traces = append(traces, evalTrace{RuleID: st.RuleID, IdentityMatch: st.IdentityMatch, ToolMatch: st.ToolMatch})
			}
		}
	}

	out := cmd.OutOrStdout()
	if evalFormat == "json" {
		eo := evalOutput{CheckResult: res, Trace: traces}
		if res.RetryAfter > 0 {
			eo.RetryAfterSeconds = ratelimit.RetrySeconds(res.RetryAfter)
		}
		data, err := json.MarshalIndent(eo, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprintf(out, "%s: %s\n", strings.ToUpper(string(res.Decision())), res.Reason)
		fmt.Fprintf(out, "  stage:    %s\n", res.Stage)
		if res.MatchedRuleID != "" {
			fmt.Fprintf(out, "  rule:     %s\n", res.MatchedRuleID)
		}
		if res.PolicyHash != "" {
			fmt.Fprintf(out, "  policy:   %s\n", shortHash(res.PolicyHash))
		}
		fmt.Fprintf(out, "  decision: %s\n", res.DecisionID)
		fmt.Fprintf(out, "  session:  %s\n", session)
		if res.AuditWarning != "" {
			fmt.Fprintf(out, "  warning:  %s\n", res.AuditWarning)
		}
		if evalExplain {
			fmt.Fprintln(out, "\nRule trace:")
			if len(traces) == 0 {
				fmt.Fprintln(out, "  (no rules evaluated)")
			}
			for i, tr := range traces {
				fmt.Fprintf(out, "  %d. %-24s identity=%s tool=%s\n", i+1, tr.RuleID, mark(tr.IdentityMatch), mark(tr.ToolMatch))
			}
		}
	}

	if !res.Allowed {
		return &ExitError{Code: 2}
	}
	return nil
}

// parseArgs reads --args. Valid JSON is passed through verbatim; anything
// else is treated as a plain string argument.
func parseArgs(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	if name, ok := strings.CutPrefix(raw, "@"); ok {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read args file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	return raw, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func mark(ok bool) string {
	if ok {
		return "match"
	}
	return "-"
}
