package cmd

import (
	"github.com/spf13/cobra"
)

// newIndexCmd builds the 'index' subcommand.
func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Classify the sitemap without crawling",
		Long: `Fetches the configured sitemap and prints the classified URL buckets.
Nothing is fetched beyond the sitemap itself, which makes this a cheap
way to check classification patterns before a real run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return a.Index(cmd.Context(), cmd.OutOrStdout())
		},
	}
}
