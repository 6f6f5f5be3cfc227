package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

func newArticleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "article <id>",
		Short: "Print a stored article as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			article, err := appInstance.Article(cmd.Context(), args[0])
			if err != nil {
				_ = appInstance.Close(cmd.Context())
				if errors.Is(err, news.ErrNotFound) {
					return fmt.Errorf("article %s not found", args[0])
				}
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(article); err != nil {
				return fmt.Errorf("encode article: %w", err)
			}
			return nil
		},
	}
}
