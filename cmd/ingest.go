package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	collyfetcher "github.com/JakeFAU/corpus-refinery/internal/fetcher/colly"
)

var ingestExtensions = map[string]bool{
	".html": true,
	".htm":  true,
	".txt":  true,
	".md":   true,
	".pdf":  true,
}

// newIngestCmd refines local HTML, text and PDF files.
func newIngestCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "ingest <paths...>",
		Short: "Refine local HTML, text and PDF files",
		Long: `Reads every file named on the command line (directories are walked for
.html, .htm, .txt, .md and .pdf files), runs the documents through cleaning,
deduplication and chunking, and delivers the chunks to the configured sink.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, cfg, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()

			results, err := loadFiles(args, flags.category)
			if err != nil {
				return err
			}
			session, err := appInstance.NewSession(flags.options(cmd, cfg))
			if err != nil {
				return err
			}

			session.Start()
			outcomes, err := session.ProcessAll(cmd.Context(), results)
			session.Finish()
			if err != nil {
				if ctxErr := cmd.Context().Err(); ctxErr != nil {
					return fmt.Errorf("ingest canceled: %w", ctxErr)
				}
				logger.Warn("some documents failed", zap.Error(err))
			}
			logger.Info("ingest finished", zap.Int("documents", len(outcomes)))
			return flags.finish(cmd, session, logger)
		},
	}
	flags.register(cmd)
	return cmd
}

func loadFiles(paths []string, category string) ([]corpus.FetchResult, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ingestExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no ingestible files found")
	}

	results := make([]corpus.FetchResult, 0, len(files))
	for _, path := range files {
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", path, err)
		}
		url := "file://" + filepath.ToSlash(abs)
		results = append(results, corpus.FetchResult{
			URL:         url,
			Kind:        collyfetcher.DetectKind(url, ""),
			Body:        body,
			StatusCode:  200,
			ContentSize: int64(len(body)),
			Category:    category,
		})
	}
	return results, nil
}
