// Package cmd defines the marketcrawl command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrydata/marketplace-crawler/internal/app"
	"github.com/quarrydata/marketplace-crawler/internal/config"
	"github.com/quarrydata/marketplace-crawler/internal/logging"
)

const closeTimeout = 15 * time.Second

// appKeyType keys the wired application in the command context.
type appKeyType struct{}

var appKey appKeyType

// newRootCmd builds the root command. Configuration and logging are wired
// in PersistentPreRunE so every subcommand runs against a fully built App.
func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		logDev  bool
	)

	cmd := &cobra.Command{
		Use:   "marketcrawl",
		Short: "Crawls marketplace listings into structured records",
		Long: `marketcrawl discovers marketplace URLs from a sitemap, classifies them
into listings, seller profiles and category pages, and crawls them through
a rate-limited, retrying fetch pipeline. Extracted records are persisted
and each run is checkpointed so interruptions resume where they stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if logDev {
				cfg.Logging.Development = true
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			a, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || a == nil {
				return
			}
			// The command context may already be canceled; closing still
			// needs time to flush progress and drain clients.
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = a.Close(closeCtx)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default probes ., /etc/marketcrawl and $HOME/.marketcrawl)")
	cmd.PersistentFlags().BoolVar(&logDev, "log-dev", false, "force development logging")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// appFromContext retrieves the App placed in the context by the root hook.
func appFromContext(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context so
// in-flight runs drain through the graceful path.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
