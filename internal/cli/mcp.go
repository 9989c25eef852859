package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("policy", "", "Path to policy file")
	mcpCmd.Flags().String("precedence", "", "Override decision order (scope_first|rate_limit_first)")
	mcpCmd.Flags().String("audit-sink", "", "Audit sink (jsonl|sqlite|log|none)")
	mcpCmd.Flags().String("audit-path", "", "Audit log path for file sinks")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve governance tools over MCP stdio",
	Long:  "Exposes toolgate_check, toolgate_validate and toolgate_explain as MCP tools\non stdin/stdout. Logs go to stderr.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, cleanup, err := newGate(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	go g.Limiter().Run(ctx, cfg.RateLimit.SweepInterval)

	srv := mcp.New(g, mcp.Config{PolicyPath: cfg.Policy, Version: version})
	return srv.Run(ctx)
}
