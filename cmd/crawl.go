package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newCrawlCmd builds the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl over the configured sitemap",
		Long: `Fetches the configured sitemap, classifies its URLs into listings,
profiles and categories, and crawls them through the politeness gate.
Progress is checkpointed so an interrupted run resumes where it stopped.`,
		RunE: runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}

	summary, err := a.Crawl(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl: %w", err)
	}

	if summary.RunID != "" {
		fmt.Fprintf(cmd.OutOrStdout(),
			"run %s: %d succeeded, %d failed, %d skipped, %d canceled of %d discovered in %s\n",
			summary.RunID, summary.Succeeded, summary.Failed, summary.Skipped,
			summary.Canceled, summary.Discovered, summary.Duration.Round(time.Millisecond))
	}
	return nil
}
