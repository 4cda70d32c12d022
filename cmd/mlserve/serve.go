package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mlserve/internal/app"
)

// shutdownGrace is added to the drain timeout when unloading at exit.
const shutdownGrace = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Start the model manager and the ops HTTP server",
		Example: "  mlserve serve --config mlserve.yaml\n  MLSERVE_REDIS_URL=redis://localhost:6379/0 mlserve serve --config mlserve.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			// Graceful shutdown (Ctrl+C / SIGTERM)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			runErr := a.Start(ctx)
			if runErr == nil {
				runErr = a.Wait(ctx)
			}
			grace := time.Duration(cfg.DrainTimeoutSeconds)*time.Second + shutdownGrace
			sctx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			if err := a.Shutdown(sctx); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}
