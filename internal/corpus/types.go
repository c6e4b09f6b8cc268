package corpus

import (
	"errors"
	"time"
)

// ErrSkipped is returned when a document is not processed because the URL
// cache reports a fresh copy.
var ErrSkipped = errors.New("document skipped: cached copy is fresh")

// ErrQueueClosed is returned by Queue.Dequeue after Close.
var ErrQueueClosed = errors.New("queue closed")

// SourceKind tells the pipeline how to interpret a FetchResult body.
type SourceKind string

// Supported source kinds.
const (
	SourceHTML SourceKind = "html"
	SourceText SourceKind = "text"
	SourcePDF  SourceKind = "pdf"
)

// Document is created once per fetched resource. The cleaned fields are filled
// in by the cleaner and the document is treated as immutable once chunked.
type Document struct {
	URL             string `json:"url"`
	Category        string `json:"category,omitempty"`
	RawMarkup       string `json:"-"`
	CleanedText     string `json:"cleaned_text"`
	WordCount       int    `json:"word_count"`
	CharCount       int    `json:"char_count"`
	IsSubstantial   bool   `json:"is_substantial"`
	UsedFallback    bool   `json:"used_fallback,omitempty"`
	DuplicateReason string `json:"duplicate_reason,omitempty"`
}

// Chunk is a retrieval-sized span of an accepted document. Overlap counts the
// leading characters repeated from the previous chunk of the same section.
type Chunk struct {
	Text                 string            `json:"text"`
	Header               *string           `json:"header"`
	HeaderLevel          int               `json:"header_level"`
	ChunkIndex           int               `json:"chunk_index"`
	TotalChunksInSection int               `json:"total_chunks_in_section"`
	Overlap              int               `json:"overlap"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// FetchResult is what a fetcher hands to the pipeline for one resource.
type FetchResult struct {
	URL         string
	Kind        SourceKind
	Body        []byte
	ContentType string
	StatusCode  int
	Duration    time.Duration
	ContentSize int64
	Category    string
	Err         error
}

// CachedURL is the summary row kept by the URL cache collaborator.
type CachedURL struct {
	URL         string    `json:"url" db:"url"`
	Category    string    `json:"category" db:"category"`
	LastScraped time.Time `json:"last_scraped" db:"last_scraped"`
	Success     bool      `json:"success" db:"success"`
	StatusCode  int       `json:"status_code" db:"status_code"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
}

// PDFContent is returned by a PDF extraction backend.
type PDFContent struct {
	URL              string            `json:"url"`
	Title            string            `json:"title"`
	Text             string            `json:"text"`
	NumPages         int               `json:"num_pages"`
	FileSize         int64             `json:"file_size"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ExtractionMethod string            `json:"extraction_method"`
	Success          bool              `json:"success"`
	Error            string            `json:"error,omitempty"`
}

// Delivery is the unit handed to a downstream ChunkSink.
type Delivery struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Category    string    `json:"category,omitempty"`
	ContentHash string    `json:"content_hash"`
	Chunks      []Chunk   `json:"chunks"`
	CreatedAt   time.Time `json:"created_at"`
}

// WorkItem is one unit of queued ingest work. Prefetched carries a body that
// was already retrieved; otherwise the worker fetches URL.
type WorkItem struct {
	URL        string
	Category   string
	Kind       SourceKind
	Prefetched *FetchResult
}
