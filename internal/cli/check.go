package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/scenario"
)

var (
	checkScenario string
	checkFormat   string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkScenario, "scenario", "", "Scenario file or glob pattern")
	checkCmd.Flags().String("policy", "", "Policy file (overrides the scenario's own policy)")
	checkCmd.Flags().String("precedence", "", "Override decision order (scope_first|rate_limit_first)")
	checkCmd.Flags().StringVar(&checkFormat, "format", "text", "Output format (text|json)")
	_ = checkCmd.MarkFlagRequired("scenario")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run scenario files against a policy",
	Long:  "Replays the calls in each scenario file through a fresh gate with a\nsimulated clock and compares decisions with the expected ones.\nExits 1 if any call does not match.",
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkFormat != "text" && checkFormat != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", checkFormat)
	}

	files, err := filepath.Glob(checkScenario)
	if err != nil {
		return fmt.Errorf("invalid scenario pattern: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no scenario files match %q", checkScenario)
	}

	// Scenarios carry their own policy; only an explicit flag overrides it.
	policyPath := ""
	if f := cmd.Flags().Lookup("policy"); f != nil && f.Changed {
		policyPath = cfg.Policy
	}
	var opts []gate.Option
	if cfg.Precedence != "" {
		opts = append(opts, gate.WithPrecedence(policy.Precedence(cfg.Precedence)))
	}

	var results []*scenario.RunResult
	failed := false
	for _, file := range files {
		r, err := scenario.LoadAndRun(file, policyPath, opts...)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if r.Failed > 0 {
			failed = true
		}
		results = append(results, r)
	}

	out := cmd.OutOrStdout()
	if checkFormat == "json" {
		js, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, js)
	} else {
		fmt.Fprint(out, scenario.FormatText(results))
	}

	if failed {
		return &ExitError{Code: 1}
	}
	return nil
}
