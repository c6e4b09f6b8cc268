// Package scrapemetrics records per-document crawl events and derives
// aggregate statistics and reports from them. A Collector lives for one
// crawl session.
package scrapemetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/corpus-refinery/internal/clock/system"
	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

// Unknown is the bucket used when an optional field was not supplied.
const Unknown = "unknown"

// Config bounds the detail history.
type Config struct {
	DetailCapacity  int `mapstructure:"detail_capacity"`
	SnapshotDetails int `mapstructure:"snapshot_details"`
}

// DefaultConfig keeps 1000 URL records and exports the newest 100.
func DefaultConfig() Config {
	return Config{DetailCapacity: 1000, SnapshotDetails: 100}
}

// Counters are the monotonically increasing session totals.
type Counters struct {
	URLsCrawled            int   `json:"urls_crawled"`
	URLsSuccessful         int   `json:"urls_successful"`
	URLsFailed             int   `json:"urls_failed"`
	PDFsFound              int   `json:"pdfs_found"`
	PDFsExtracted          int   `json:"pdfs_extracted"`
	PDFsFailed             int   `json:"pdfs_failed"`
	PDFPages               int   `json:"pdf_pages"`
	PDFBytes               int64 `json:"pdf_bytes"`
	DuplicatesRemoved      int   `json:"duplicates_removed"`
	InsubstantialDocuments int   `json:"insubstantial_documents"`
	DocumentsChunked       int   `json:"documents_chunked"`
	ChunksProduced         int   `json:"chunks_produced"`
}

// URLRecord is one timestamped URL event.
type URLRecord struct {
	URL          string        `json:"url"`
	Success      bool          `json:"success"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time_ns,omitempty"`
	ContentSize  int64         `json:"content_size,omitempty"`
	Category     string        `json:"category,omitempty"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`

	hasResponseTime bool
	hasContentSize  bool
}

// Collector is safe for concurrent use. Recording never fails.
type Collector struct {
	cfg   Config
	clock corpus.Clock

	mu            sync.RWMutex
	start         time.Time
	counters      Counters
	responseTimes []time.Duration
	contentSizes  []int64
	errors        map[string]int
	categories    map[string]int
	statusCodes   map[string]int
	pdfMethods    map[string]int
	details       *ring[URLRecord]
}

// New starts a session at clock.Now(). A nil clock uses the system clock.
func New(cfg Config, clock corpus.Clock) *Collector {
	d := DefaultConfig()
	if cfg.DetailCapacity <= 0 {
		cfg.DetailCapacity = d.DetailCapacity
	}
	if cfg.SnapshotDetails <= 0 {
		cfg.SnapshotDetails = d.SnapshotDetails
	}
	if clock == nil {
		clock = system.New()
	}
	return &Collector{
		cfg:         cfg,
		clock:       clock,
		start:       clock.Now(),
		errors:      make(map[string]int),
		categories:  make(map[string]int),
		statusCodes: make(map[string]int),
		pdfMethods:  make(map[string]int),
		details:     newRing[URLRecord](cfg.DetailCapacity),
	}
}

// RecordURL records one fetch attempt.
func (c *Collector) RecordURL(url string, success bool, opts ...URLOption) {
	rec := URLRecord{URL: url, Success: success}
	for _, opt := range opts {
		opt(&rec)
	}
	rec.Timestamp = c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters.URLsCrawled++
	if success {
		c.counters.URLsSuccessful++
	} else {
		c.counters.URLsFailed++
	}
	c.statusCodes[statusKey(rec.StatusCode)]++
	c.categories[orUnknown(rec.Category)]++
	if rec.hasResponseTime {
		c.responseTimes = append(c.responseTimes, rec.ResponseTime)
	}
	if rec.hasContentSize {
		c.contentSizes = append(c.contentSizes, rec.ContentSize)
	}
	if rec.Error != "" {
		c.errors[rec.Error]++
	}
	c.details.push(rec)
}

// RecordPDF records one PDF extraction attempt. Failures are counted in the
// error table as "pdf_<error>".
func (c *Collector) RecordPDF(url string, success bool, opts ...PDFOption) {
	var ev pdfEvent
	for _, opt := range opts {
		opt(&ev)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters.PDFsFound++
	c.counters.PDFPages += ev.pages
	c.counters.PDFBytes += ev.fileSize
	if success {
		c.counters.PDFsExtracted++
		c.pdfMethods[orUnknown(ev.method)]++
		return
	}
	c.counters.PDFsFailed++
	c.errors["pdf_"+orUnknown(ev.err)]++
}

// RecordDuplicate counts a rejected document under "duplicate_<reason>".
func (c *Collector) RecordDuplicate(_ string, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.DuplicatesRemoved++
	c.errors["duplicate_"+orUnknown(reason)]++
}

// RecordInsubstantial counts a document that was not chunked because its
// text did not pass the substantiality check.
func (c *Collector) RecordInsubstantial(_ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.InsubstantialDocuments++
}

// RecordChunks counts the chunks produced for one document.
func (c *Collector) RecordChunks(_ string, n int) {
	if n < 0 {
		n = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.DocumentsChunked++
	c.counters.ChunksProduced += n
}

// RecordError counts an outer-layer failure such as a sink or cache error.
func (c *Collector) RecordError(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[orUnknown(kind)]++
}

// Counters returns a copy of the session totals.
func (c *Collector) Counters() Counters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters
}

// StartTime is when the session began.
func (c *Collector) StartTime() time.Time {
	return c.start
}

// SuccessRate is successful/crawled, 0 when nothing was crawled.
func (c *Collector) SuccessRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ratio(c.counters.URLsSuccessful, c.counters.URLsCrawled)
}

// TotalResponseTime sums the recorded response times.
func (c *Collector) TotalResponseTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sumDurations(c.responseTimes)
}

// AvgResponseTime is the mean response time, 0 when none were recorded.
func (c *Collector) AvgResponseTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return avgDuration(c.responseTimes)
}

// TotalContentSize sums the recorded content sizes.
func (c *Collector) TotalContentSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sumInts(c.contentSizes)
}

// AvgContentSize is the mean content size, 0 when none were recorded.
func (c *Collector) AvgContentSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return avgInt(c.contentSizes)
}

// Elapsed is the session duration so far.
func (c *Collector) Elapsed() time.Duration {
	return c.clock.Now().Sub(c.start)
}

// CrawlRate is URLs crawled per elapsed second, 0 when no time has passed.
func (c *Collector) CrawlRate() float64 {
	elapsed := c.Elapsed()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return rate(c.counters.URLsCrawled, elapsed)
}

func statusKey(code int) string {
	if code <= 0 {
		return Unknown
	}
	return strconv.Itoa(code)
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func rate(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

func sumDurations(ds []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total
}

func avgDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	return sumDurations(ds) / time.Duration(len(ds))
}

func sumInts(xs []int64) int64 {
	var total int64
	for _, x := range xs {
		total += x
	}
	return total
}

func avgInt(xs []int64) int64 {
	if len(xs) == 0 {
		return 0
	}
	return sumInts(xs) / int64(len(xs))
}
