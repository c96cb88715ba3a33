package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd builds the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history API and metrics",
		Long: `Starts the HTTP server that exposes crawl run history, stored
records and Prometheus metrics. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return a.Serve(cmd.Context())
		},
	}
}
