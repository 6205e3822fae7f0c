package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/dossier-crawler/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API",
		Long: `Starts the HTTP API (search, run progress and cache maintenance) and
blocks until SIGINT or SIGTERM, then drains in-flight requests and flushes
progress before exiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
