package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/policydiff"
)

var diffFormat string

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyDiffCmd)
	policyDiffCmd.Flags().StringVar(&diffFormat, "format", "text", "Output format (text|json|patch)")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy file operations",
}

var policyDiffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Compare two policy files",
	Long:  "Shows how two policies differ in what they decide: default action,\nrate limits, injection patterns and rule changes, including reordering.\nFiles may be in different formats.",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicyDiff,
}

func runPolicyDiff(cmd *cobra.Command, args []string) error {
	oldPol, err := policy.Load(args[0])
	if err != nil {
		return err
	}
	newPol, err := policy.Load(args[1])
	if err != nil {
		return err
	}

	r, err := policydiff.Diff(oldPol, newPol)
	if err != nil {
		return err
	}
	r.OldPath, r.NewPath = args[0], args[1]

	out := cmd.OutOrStdout()
	switch diffFormat {
	case "text":
		fmt.Fprint(out, policydiff.FormatText(r))
	case "json":
		js, err := policydiff.FormatJSON(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, js)
	case "patch":
		patch, err := policydiff.FormatPatch(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, patch)
	default:
		return fmt.Errorf("unknown format %q (want text, json or patch)", diffFormat)
	}
	return nil
}
