package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-news-ingest/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var opts ingest.Options
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion and print its summary",
		Long: `Runs a single ingestion outside the schedule and writes the run summary
as JSON to stdout. Upstream and write failures are reported in the summary; a
missing API key exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, runErr := appInstance.Ingest(cmd.Context(), opts)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("encode summary: %w", err)
			}
			if runErr != nil {
				// PersistentPostRunE is skipped when RunE fails.
				_ = appInstance.Close(cmd.Context())
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "page cap for this run (default from config)")
	cmd.Flags().StringVar(&opts.Language, "language", "", "upstream language filter (default from config)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "comma-separated upstream categories (default from config)")
	return cmd
}
