package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdftrans/internal/app"
	"github.com/dgallion1/pdftrans/internal/config"
	"github.com/dgallion1/pdftrans/internal/logger"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the translation HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			log := logger.NewCLI(logger.ParseLevel(cfg.LogLevel))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, cfg, log)
		},
		SilenceUsage: true,
	}
	addTranslateFlags(cmd.Flags())
	cmd.Flags().String("port", "8090", "Listen port")
	cmd.Flags().Int("workers", 4, "Concurrent translation jobs")
	cmd.Flags().Int("queue-size", 100, "Maximum queued jobs")
	return cmd
}
