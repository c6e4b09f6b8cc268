// Package chunker splits accepted document text into retrieval-sized chunks.
// Chunks follow paragraph boundaries where possible, fall back to sentences
// for oversized paragraphs, and repeat a short overlap from the previous
// chunk. In header-aware mode every markdown heading starts a new section and
// chunks carry their section's header.
package chunker

import (
	"fmt"
	"maps"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

// Config sizes are measured in characters.
type Config struct {
	MaxChunkSize int `mapstructure:"max_chunk_size"`
	MinChunkSize int `mapstructure:"min_chunk_size"`
	Overlap      int `mapstructure:"overlap"`
}

// DefaultConfig returns max 1500, min 200 and overlap 300.
func DefaultConfig() Config {
	return Config{MaxChunkSize: 1500, MinChunkSize: 200, Overlap: 300}
}

// Validate checks that the sizes are consistent.
func (c Config) Validate() error {
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("chunker max_chunk_size must be positive, got %d", c.MaxChunkSize)
	}
	if c.MinChunkSize < 0 || c.MinChunkSize > c.MaxChunkSize {
		return fmt.Errorf("chunker min_chunk_size must be in [0, %d], got %d", c.MaxChunkSize, c.MinChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChunkSize {
		return fmt.Errorf("chunker overlap must be in [0, %d), got %d", c.MaxChunkSize, c.Overlap)
	}
	return nil
}

// Chunker is stateless and safe for concurrent use.
type Chunker struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Chunker.
func New(cfg Config, logger *zap.Logger) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{cfg: cfg, logger: logger}, nil
}

// Config returns the chunker configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits text into ordered chunks. With preserveHeaders, markdown
// headings partition the text into sections chunked independently; otherwise
// the whole text is one section without a header. Blank or too-short input
// yields no chunks.
func (c *Chunker) Chunk(text string, preserveHeaders bool) []corpus.Chunk {
	var sections []section
	if preserveHeaders {
		sections = splitSections(text)
	} else {
		sections = []section{{body: text}}
	}

	var out []corpus.Chunk
	for _, sec := range sections {
		drafts := c.settle(c.pack(units(sec.body, c.cfg.MaxChunkSize)))
		for i, d := range drafts {
			out = append(out, corpus.Chunk{
				Text:                 d.text(),
				Header:               sec.header,
				HeaderLevel:          sec.level,
				ChunkIndex:           i,
				TotalChunksInSection: len(drafts),
				Overlap:              utf8.RuneCountInString(d.overlap),
			})
		}
	}
	return out
}

// ChunkDocument is Chunk with metadata copied onto every chunk.
func (c *Chunker) ChunkDocument(text string, metadata map[string]string, preserveHeaders bool) []corpus.Chunk {
	chunks := c.Chunk(text, preserveHeaders)
	if len(metadata) > 0 {
		for i := range chunks {
			chunks[i].Metadata = maps.Clone(metadata)
		}
	}
	c.logger.Debug("chunked document",
		zap.Int("chunks", len(chunks)),
		zap.Int("chars", utf8.RuneCountInString(text)),
		zap.Bool("preserve_headers", preserveHeaders),
	)
	return chunks
}

// OptimalChunkSize suggests a chunk size for text: the text length for texts
// under 1000 characters, 1000 under 5000 characters and 1500 otherwise.
func OptimalChunkSize(text string) int {
	n := utf8.RuneCountInString(text)
	switch {
	case n < 1000:
		return n
	case n < 5000:
		return 1000
	default:
		return 1500
	}
}
