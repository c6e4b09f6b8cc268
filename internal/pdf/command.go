package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

// MethodPdftotext identifies results produced by Command.
const MethodPdftotext = "pdftotext"

// Command extracts text from local PDF files with the poppler pdftotext
// binary. Pages are counted from the form feeds it emits between pages.
type Command struct {
	binary string
	logger *zap.Logger
}

// NewCommand locates binary on PATH ("pdftotext" when empty). It returns
// ErrDisabled when the binary is missing.
func NewCommand(binary string, logger *zap.Logger) (*Command, error) {
	if binary == "" {
		binary = "pdftotext"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrDisabled, binary, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{binary: resolved, logger: logger}, nil
}

// Extract runs the binary on the file at path.
func (c *Command) Extract(ctx context.Context, path string) (corpus.PDFContent, error) {
	out := corpus.PDFContent{
		URL:              path,
		ExtractionMethod: MethodPdftotext,
		Metadata:         MetadataFromURL(path),
	}
	info, err := os.Stat(path)
	if err != nil {
		out.Error = err.Error()
		return out, fmt.Errorf("stat %s: %w", path, err)
	}
	out.FileSize = info.Size()

	var stdout, stderr bytes.Buffer
	// #nosec G204 -- binary is resolved once at construction; path is an argument, not a shell string.
	cmd := exec.CommandContext(ctx, c.binary, "-enc", "UTF-8", "-layout", path, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		out.Error = msg
		return out, fmt.Errorf("pdftotext %s: %w", path, errors.Join(err, errors.New(msg)))
	}

	pages := strings.Split(strings.TrimRight(stdout.String(), "\f\n"), "\f")
	out.Text = strings.Join(pages, "\n\n")
	out.NumPages = len(pages)
	out.Title = Title(out)
	out.Success = strings.TrimSpace(out.Text) != ""
	if !out.Success {
		out.Error = "no text extracted"
	}
	c.logger.Debug("pdf extracted",
		zap.String("path", path),
		zap.Int("pages", out.NumPages),
		zap.Int64("bytes", out.FileSize),
	)
	return out, nil
}
