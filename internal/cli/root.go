package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/alert"
	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/config"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/logging"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/telemetry"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger *slog.Logger
)

// flagKeys maps command flags to config keys. A flag only overrides the
// config when the running command defines it and it was set.
var flagKeys = map[string]string{
	"policy":     "policy",
	"precedence": "precedence",
	"audit-sink": "audit.sink",
	"audit-path": "audit.path",
	"watch":      "watch",
	"addr":       "serve.addr",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default .toolgate.yaml in the working or home directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text|json)")
}

var rootCmd = &cobra.Command{
	Use:           "toolgate",
	Short:         "Governance gate for agent tool calls",
	Long:          "Decides, before dispatch, whether an agent's tool call may proceed:\nidentity and scope rules, sliding-window rate limits, injection screening,\nand an append-only audit trail. Fails closed.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

// ExitError carries a process exit code without an error message.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func loadConfig(cmd *cobra.Command) error {
	v := config.New()
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	c, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lc := c.LoggingConfig()
	lc.Output = cmd.ErrOrStderr()
	l, err := logging.New(lc)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

// newGate builds a gate from the loaded config. Configured alert webhooks
// receive every audit record next to the audit sink. The returned cleanup
// closes the sinks and flushes traces.
func newGate(ctx context.Context, extra ...gate.Option) (*gate.Gate, func(), error) {
	sink, err := audit.OpenSink(cfg.Audit.Sink, cfg.Audit.Path, logger)
	if err != nil {
		return nil, nil, err
	}
	if d := alert.NewDispatcher(cfg.Alerts, logger); d != nil {
		sink = audit.Multi{sink, d}
	}
	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig(version))
	if err != nil {
		sink.Close()
		return nil, nil, fmt.Errorf("telemetry: %w", err)
	}

	opts := []gate.Option{
		gate.WithSink(sink),
		gate.WithLogger(logger),
		gate.WithTracer(tel.Tracer),
		gate.WithAuditTimeout(cfg.Audit.Timeout),
	}
	if cfg.Precedence != "" {
		opts = append(opts, gate.WithPrecedence(policy.Precedence(cfg.Precedence)))
	}
	g := gate.New(append(opts, extra...)...)

	cleanup := func() {
		if err := g.Close(); err != nil {
			logger.Warn("audit sink close failed", slog.String("error", err.Error()))
		}
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	return g, cleanup, nil
}
