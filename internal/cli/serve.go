package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "gRPC listen address (default 127.0.0.1:7443)")
	serveCmd.Flags().String("policy", "", "Path to policy file")
	serveCmd.Flags().String("precedence", "", "Override decision order (scope_first|rate_limit_first)")
	serveCmd.Flags().String("audit-sink", "", "Audit sink (jsonl|sqlite|log|none)")
	serveCmd.Flags().String("audit-path", "", "Audit log path for file sinks")
	serveCmd.Flags().Bool("watch", false, "Reload the policy when the file changes")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC decision server",
	Long:  "Runs toolgate as a central decision service over gRPC.\nAgents connect as clients; every call is decided against the server's policy.\nSIGHUP reloads the policy; --watch reloads it when the file changes.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, cleanup, err := newGate(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(g, server.Config{Addr: cfg.Serve.Addr, PolicyPath: cfg.Policy}, logger)

	go g.Limiter().Run(ctx, cfg.RateLimit.SweepInterval)

	if cfg.Watch {
		reloader, err := server.NewReloader(cfg.Policy, srv.ReloadPolicy, logger)
		if err != nil {
			logger.Warn("hot-reload disabled", slog.String("error", err.Error()))
		} else {
			go reloader.Run(ctx)
			logger.Info("watching policy", slog.String("path", cfg.Policy))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					if err := srv.ReloadPolicy(); err != nil {
						logger.Warn("reload failed, keeping previous policy", slog.String("error", err.Error()))
					} else {
						logger.Info("policy reloaded", slog.String("path", cfg.Policy))
					}
					continue
				}
				logger.Info("shutting down", slog.String("signal", sig.String()))
				cancel()
				srv.GracefulStop()
				return
			}
		}
	}()

	return srv.Serve()
}
