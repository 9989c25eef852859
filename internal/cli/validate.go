package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/policy"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate [path...]",
	Short: "Validate policy files",
	Long:  "Loads and validates each policy file, reporting every violation.\nWith no arguments the configured policy is validated. Exits 1 if any file is invalid.",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		paths = []string{cfg.Policy}
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range paths {
		p, hash, err := policy.LoadWithHash(path)
		if err == nil {
			_, err = policy.Compile(p)
		}
		if err == nil {
			fmt.Fprintf(out, "OK    %s (%d rules, sha256:%s)\n", path, len(p.Rules), shortHash(hash))
			continue
		}

		failed++
		var verr *policy.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "FAIL  %s (%d violations)\n", path, len(verr.Violations))
			for _, v := range verr.Violations {
				fmt.Fprintf(out, "        %s\n", v)
			}
			continue
		}
		fmt.Fprintf(out, "FAIL  %s\n        %v\n", path, err)
	}

	if failed > 0 {
		return &ExitError{Code: 1}
	}
	return nil
}
