package cmd

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/workflow"
)

// newCrawlCmd fetches URLs with colly and refines them.
func newCrawlCmd() *cobra.Command {
	var (
		flags    sessionFlags
		urlsFile string
	)
	cmd := &cobra.Command{
		Use:   "crawl <urls...>",
		Short: "Fetch and refine URLs",
		Long: `Fetches every URL through a bounded worker pool, skipping URLs whose
cached copy is still fresh, and refines the responses. URLs come from the
arguments and from --urls-file (one per line, # starts a comment).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, cfg, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()

			urls := append([]string(nil), args...)
			if urlsFile != "" {
				fromFile, err := readLines(urlsFile)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return errors.New("at least one URL required")
			}

			opts := flags.options(cmd, cfg)
			session, result, err := appInstance.RunSession(cmd.Context(), workflow.IngestRequest{
				SessionID:       uuid.NewString(),
				URLs:            urls,
				Category:        flags.category,
				Force:           opts.Force,
				PreserveHeaders: opts.PreserveHeaders,
			})
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			logger.Info("crawl finished",
				zap.Int("delivered", result.Delivered),
				zap.Int("skipped", result.Skipped),
				zap.Int("duplicates", result.Duplicates),
				zap.Int("failed", result.Failed),
				zap.Int("chunks", result.Chunks),
			)
			return flags.finish(cmd, session, logger)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&urlsFile, "urls-file", "", "file with one URL per line")
	return cmd
}
