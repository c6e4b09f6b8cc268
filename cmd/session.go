package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/config"
	"github.com/JakeFAU/corpus-refinery/internal/pipeline"
)

type sessionFlags struct {
	category        string
	force           bool
	preserveHeaders bool
	metricsOut      string
	details         int
	quiet           bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.category, "category", "", "category recorded for every document")
	cmd.Flags().BoolVar(&f.force, "force", false, "ignore URL cache freshness")
	cmd.Flags().BoolVar(&f.preserveHeaders, "preserve-headers", true, "chunk along section headers")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "write the metrics snapshot as JSON to this file")
	cmd.Flags().IntVar(&f.details, "details", 0, "URL records in the JSON snapshot (0 uses the configured default)")
	cmd.Flags().BoolVar(&f.quiet, "quiet", false, "do not print the text report")
}

func (f *sessionFlags) options(cmd *cobra.Command, cfg config.Config) pipeline.Options {
	opts := pipeline.Options{
		PreserveHeaders: cfg.Pipeline.PreserveHeaders,
		Force:           f.force || cfg.Pipeline.Force,
	}
	if cmd.Flags().Changed("preserve-headers") {
		opts.PreserveHeaders = f.preserveHeaders
	}
	return opts
}

// finish prints the report and writes the JSON snapshot when requested.
func (f *sessionFlags) finish(cmd *cobra.Command, session *pipeline.Pipeline, logger *zap.Logger) error {
	if !f.quiet {
		if _, err := io.WriteString(cmd.OutOrStdout(), session.Metrics().Report()); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if f.metricsOut == "" {
		return nil
	}
	file, err := os.Create(f.metricsOut)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			logger.Warn("failed to close metrics file", zap.Error(cerr))
		}
	}()
	if err := session.Metrics().WriteJSON(file, f.details); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	logger.Info("metrics snapshot written", zap.String("path", f.metricsOut))
	return nil
}

// readLines returns the non-empty lines of path, skipping # comments.
func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var out []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
