package scrapemetrics

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const topErrors = 10

// Snapshot is a JSON-serialisable copy of the collector state.
type Snapshot struct {
	StartTime            time.Time      `json:"start_time"`
	CapturedAt           time.Time      `json:"captured_at"`
	ElapsedSeconds       float64        `json:"elapsed_seconds"`
	Counters             Counters       `json:"counters"`
	SuccessRate          float64        `json:"success_rate"`
	CrawlRate            float64        `json:"crawl_rate"`
	AvgResponseSeconds   float64        `json:"avg_response_time"`
	TotalResponseSeconds float64        `json:"total_response_time"`
	AvgContentSize       int64          `json:"avg_content_size"`
	TotalContentSize     int64          `json:"total_content_size"`
	ResponseTimes        []float64      `json:"response_times"`
	ContentSizes         []int64        `json:"content_sizes"`
	Errors               map[string]int `json:"errors"`
	Categories           map[string]int `json:"categories"`
	StatusCodes          map[string]int `json:"status_codes"`
	PDFExtractionMethods map[string]int `json:"pdf_extraction_methods"`
	URLDetails           []URLRecord    `json:"url_details"`
}

// Snapshot copies the current state with the newest lastN URL records.
// lastN <= 0 uses the configured default.
func (c *Collector) Snapshot(lastN int) Snapshot {
	if lastN <= 0 {
		lastN = c.cfg.SnapshotDetails
	}
	now := c.clock.Now()
	elapsed := now.Sub(c.start)

	c.mu.RLock()
	defer c.mu.RUnlock()

	times := make([]float64, len(c.responseTimes))
	for i, d := range c.responseTimes {
		times[i] = d.Seconds()
	}
	return Snapshot{
		StartTime:            c.start,
		CapturedAt:           now,
		ElapsedSeconds:       elapsed.Seconds(),
		Counters:             c.counters,
		SuccessRate:          ratio(c.counters.URLsSuccessful, c.counters.URLsCrawled),
		CrawlRate:            rate(c.counters.URLsCrawled, elapsed),
		AvgResponseSeconds:   avgDuration(c.responseTimes).Seconds(),
		TotalResponseSeconds: sumDurations(c.responseTimes).Seconds(),
		AvgContentSize:       avgInt(c.contentSizes),
		TotalContentSize:     sumInts(c.contentSizes),
		ResponseTimes:        times,
		ContentSizes:         append([]int64(nil), c.contentSizes...),
		Errors:               maps.Clone(c.errors),
		Categories:           maps.Clone(c.categories),
		StatusCodes:          maps.Clone(c.statusCodes),
		PDFExtractionMethods: maps.Clone(c.pdfMethods),
		URLDetails:           c.details.last(lastN),
	}
}

// WriteJSON writes Snapshot(lastN) as indented JSON.
func (c *Collector) WriteJSON(w io.Writer, lastN int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.Snapshot(lastN)); err != nil {
		return fmt.Errorf("encode metrics snapshot: %w", err)
	}
	return nil
}

// Report renders a plain-text summary of the session.
func (c *Collector) Report() string {
	s := c.Snapshot(1)
	var b strings.Builder

	rule := strings.Repeat("=", 64)
	fmt.Fprintf(&b, "%s\nCRAWL METRICS REPORT\n%s\n\n", rule, rule)

	fmt.Fprintf(&b, "Time\n")
	fmt.Fprintf(&b, "  Start: %s\n", s.StartTime.Format(time.DateTime))
	fmt.Fprintf(&b, "  Duration: %.1fs (%.1f minutes)\n", s.ElapsedSeconds, s.ElapsedSeconds/60)
	fmt.Fprintf(&b, "  Crawl rate: %.2f URLs/s\n\n", s.CrawlRate)

	fmt.Fprintf(&b, "URLs\n")
	fmt.Fprintf(&b, "  Crawled: %s\n", humanize.Comma(int64(s.Counters.URLsCrawled)))
	fmt.Fprintf(&b, "  Successful: %s\n", humanize.Comma(int64(s.Counters.URLsSuccessful)))
	fmt.Fprintf(&b, "  Failed: %s\n", humanize.Comma(int64(s.Counters.URLsFailed)))
	fmt.Fprintf(&b, "  Success rate: %.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(&b, "  Duplicates removed: %d\n\n", s.Counters.DuplicatesRemoved)

	fmt.Fprintf(&b, "Documents\n")
	fmt.Fprintf(&b, "  Chunked: %d\n", s.Counters.DocumentsChunked)
	fmt.Fprintf(&b, "  Chunks produced: %d\n", s.Counters.ChunksProduced)
	fmt.Fprintf(&b, "  Insubstantial: %d\n\n", s.Counters.InsubstantialDocuments)

	fmt.Fprintf(&b, "PDFs\n")
	fmt.Fprintf(&b, "  Found: %d\n", s.Counters.PDFsFound)
	fmt.Fprintf(&b, "  Extracted: %d\n", s.Counters.PDFsExtracted)
	fmt.Fprintf(&b, "  Failed: %d\n", s.Counters.PDFsFailed)
	fmt.Fprintf(&b, "  Pages: %d (%s)\n\n", s.Counters.PDFPages, humanize.Bytes(nonNegative(s.Counters.PDFBytes)))

	fmt.Fprintf(&b, "Performance\n")
	fmt.Fprintf(&b, "  Avg response time: %.2fs\n", s.AvgResponseSeconds)
	fmt.Fprintf(&b, "  Avg content size: %s\n", humanize.Bytes(nonNegative(s.AvgContentSize)))
	fmt.Fprintf(&b, "  Total content: %s\n\n", humanize.Bytes(nonNegative(s.TotalContentSize)))

	fmt.Fprintf(&b, "Categories\n")
	if len(s.Categories) == 0 {
		b.WriteString("  none\n")
	}
	for _, e := range byCount(s.Categories) {
		fmt.Fprintf(&b, "  - %s: %d (%.1f%%)\n", e.key, e.count, ratio(e.count, s.Counters.URLsCrawled)*100)
	}

	fmt.Fprintf(&b, "\nTop errors\n")
	if len(s.Errors) == 0 {
		b.WriteString("  none\n")
	}
	errs := byCount(s.Errors)
	if len(errs) > topErrors {
		errs = errs[:topErrors]
	}
	for _, e := range errs {
		fmt.Fprintf(&b, "  - %s: %d\n", e.key, e.count)
	}

	fmt.Fprintf(&b, "\nHTTP status codes\n")
	codes := make([]string, 0, len(s.StatusCodes))
	for code := range s.StatusCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(&b, "  - %s: %d\n", code, s.StatusCodes[code])
	}

	if len(s.PDFExtractionMethods) > 0 {
		fmt.Fprintf(&b, "\nPDF extraction methods\n")
		for _, e := range byCount(s.PDFExtractionMethods) {
			fmt.Fprintf(&b, "  - %s: %d\n", e.key, e.count)
		}
	}
	fmt.Fprintf(&b, "\n%s\n", rule)
	return b.String()
}

type entry struct {
	key   string
	count int
}

// byCount orders a frequency table by descending count, then key.
func byCount(m map[string]int) []entry {
	out := make([]entry, 0, len(m))
	for k, v := range m {
		out = append(out, entry{key: k, count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

func nonNegative(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
