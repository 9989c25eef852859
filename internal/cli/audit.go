package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/audit"
)

var (
	tailLines     int
	tailFormat    string
	replaySession string
	replayIdent   string
	replayTool    string
	replayDecide  string
	replayFrom    string
	replayTo      string
	replayFormat  string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)

	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().StringVar(&tailFormat, "format", "text", "Output format (text|json)")

	auditReplayCmd.Flags().StringVar(&replaySession, "session", "", "Only records from this session")
	auditReplayCmd.Flags().StringVar(&replayIdent, "identity", "", "Identity pattern")
	auditReplayCmd.Flags().StringVar(&replayTool, "tool", "", "Tool pattern")
	auditReplayCmd.Flags().StringVar(&replayDecide, "decision", "", "Only allow or block decisions")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayFormat, "format", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.\nPaths ending in .db or .sqlite are read as SQLite stores, anything else as JSONL.\nWith no path argument the configured audit path is used.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [path]",
	Short: "Replay decisions from an audit log",
	Long:  "Filters audit records by session, identity, tool, decision and time range\nand prints them as a timeline with a summary.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditReplay,
}

func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if cfg.Audit.Path == "" {
		return "", fmt.Errorf("no audit log path given and audit.path is not configured")
	}
	return cfg.Audit.Path, nil
}

func isSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// replay reads records matching f from either store kind.
func replay(cmd *cobra.Command, path string, f audit.ReplayFilter) (*audit.ReplayResult, error) {
	if !isSQLitePath(path) {
		return audit.Replay(path, f)
	}
	st, err := audit.OpenSQL(path)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.Query(cmd.Context(), f)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}

	var result audit.VerifyResult
	if isSQLitePath(path) {
		st, err := audit.OpenSQL(path)
		if err != nil {
			return err
		}
		result = st.Verify(cmd.Context())
		st.Close()
	} else {
		result = audit.Verify(path)
	}

	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	return &ExitError{Code: 1}
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}

	var records []audit.Record
	if isSQLitePath(path) {
		res, err := replay(cmd, path, audit.ReplayFilter{})
		if err != nil {
			return err
		}
		records = res.Records
		if tailLines > 0 && len(records) > tailLines {
			records = records[len(records)-tailLines:]
		}
	} else {
		records, err = audit.Tail(path, tailLines)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	switch tailFormat {
	case "text":
		for _, r := range records {
			fmt.Fprint(out, audit.FormatRecord(r))
		}
	case "json":
		js, err := audit.FormatJSON(&audit.ReplayResult{Records: records})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, js)
	default:
		return fmt.Errorf("unknown format %q (want text or json)", tailFormat)
	}
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}

	filter := audit.ReplayFilter{
		Session:  replaySession,
		Identity: replayIdent,
		Tool:     replayTool,
		Decision: replayDecide,
	}
	if filter.From, err = parseTime("from", replayFrom); err != nil {
		return err
	}
	if filter.To, err = parseTime("to", replayTo); err != nil {
		return err
	}

	result, err := replay(cmd, path, filter)
	if err != nil {
		return err
	}
	result.Filter = filter

	out := cmd.OutOrStdout()
	switch replayFormat {
	case "text":
		fmt.Fprint(out, audit.FormatTimeline(result))
	case "json":
		js, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, js)
	default:
		return fmt.Errorf("unknown format %q (want text or json)", replayFormat)
	}
	return nil
}

func parseTime(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s time %q: %w", flag, value, err)
	}
	return t, nil
}
