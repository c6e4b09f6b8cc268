package scrapemetrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-refinery/internal/clock/system"
)

var sessionStart = time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)

func TestCollectorSuccessAndCrawlRate(t *testing.T) {
	t.Parallel()

	clk := system.NewManual(sessionStart)
	c := New(DefaultConfig(), clk)

	for i := 0; i < 10; i++ {
		c.RecordURL(fmt.Sprintf("https://example.org/%d", i), i < 7)
	}
	clk.Advance(5 * time.Second)

	assert.InDelta(t, 0.7, c.SuccessRate(), 1e-9)
	assert.InDelta(t, 2.0, c.CrawlRate(), 1e-9)
	assert.Equal(t, 5*time.Second, c.Elapsed())

	counters := c.Counters()
	assert.Equal(t, 10, counters.URLsCrawled)
	assert.Equal(t, 7, counters.URLsSuccessful)
	assert.Equal(t, 3, counters.URLsFailed)
}

func TestCollectorEmptyDerivations(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), system.NewManual(sessionStart))
	assert.Zero(t, c.SuccessRate())
	assert.Zero(t, c.CrawlRate())
	assert.Zero(t, c.AvgResponseTime())
	assert.Zero(t, c.AvgContentSize())
	assert.Zero(t, c.TotalContentSize())
	assert.Zero(t, c.TotalResponseTime())
}

func TestCollectorOptionalFields(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), system.NewManual(sessionStart))
	c.RecordURL("a", true,
		WithStatusCode(200),
		WithResponseTime(200*time.Millisecond),
		WithContentSize(1000),
		WithCategory("news"),
	)
	c.RecordURL("b", false, WithStatusCode(404), WithError("http_404"), WithResponseTime(400*time.Millisecond))
	c.RecordURL("c", true, WithContentSize(3000))

	assert.Equal(t, 300*time.Millisecond, c.AvgResponseTime())
	assert.Equal(t, 600*time.Millisecond, c.TotalResponseTime())
	assert.Equal(t, int64(2000), c.AvgContentSize())
	assert.Equal(t, int64(4000), c.TotalContentSize())

	s := c.Snapshot(0)
	assert.Equal(t, map[string]int{"news": 1, Unknown: 2}, s.Categories)
	assert.Equal(t, map[string]int{"200": 1, "404": 1, Unknown: 1}, s.StatusCodes)
	assert.Equal(t, map[string]int{"http_404": 1}, s.Errors)
	assert.Equal(t, []float64{0.2, 0.4}, s.ResponseTimes)
	assert.Equal(t, []int64{1000, 3000}, s.ContentSizes)
}

func TestCollectorPDFAndDuplicateEvents(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), nil)
	c.RecordPDF("a.pdf", true, WithExtractionMethod("pdftotext"), WithPages(12), WithFileSize(2048))
	c.RecordPDF("b.pdf", true)
	c.RecordPDF("c.pdf", false, WithPDFError("encrypted"))
	c.RecordDuplicate("d", "exact_duplicate")
	c.RecordDuplicate("e", "near_duplicate_0.91")
	c.RecordInsubstantial("f")
	c.RecordChunks("g", 4)
	c.RecordChunks("h", 3)
	c.RecordError("sink_delivery")

	counters := c.Counters()
	assert.Equal(t, 3, counters.PDFsFound)
	assert.Equal(t, 2, counters.PDFsExtracted)
	assert.Equal(t, 1, counters.PDFsFailed)
	assert.Equal(t, 12, counters.PDFPages)
	assert.Equal(t, int64(2048), counters.PDFBytes)
	assert.Equal(t, 2, counters.DuplicatesRemoved)
	assert.Equal(t, 1, counters.InsubstantialDocuments)
	assert.Equal(t, 2, counters.DocumentsChunked)
	assert.Equal(t, 7, counters.ChunksProduced)

	s := c.Snapshot(0)
	assert.Equal(t, map[string]int{"pdftotext": 1, Unknown: 1}, s.PDFExtractionMethods)
	assert.Equal(t, map[string]int{
		"pdf_encrypted":                 1,
		"duplicate_exact_duplicate":     1,
		"duplicate_near_duplicate_0.91": 1,
		"sink_delivery":                 1,
	}, s.Errors)
}

func TestSnapshotKeepsNewestDetails(t *testing.T) {
	t.Parallel()

	clk := system.NewManual(sessionStart)
	c := New(Config{DetailCapacity: 5, SnapshotDetails: 3}, clk)
	for i := 0; i < 8; i++ {
		clk.Advance(time.Second)
		c.RecordURL(fmt.Sprintf("u%d", i), true)
	}

	s := c.Snapshot(0)
	require.Len(t, s.URLDetails, 3)
	assert.Equal(t, "u5", s.URLDetails[0].URL)
	assert.Equal(t, "u7", s.URLDetails[2].URL)
	assert.Equal(t, sessionStart.Add(8*time.Second), s.URLDetails[2].Timestamp)

	all := c.Snapshot(100)
	require.Len(t, all.URLDetails, 5)
	assert.Equal(t, "u3", all.URLDetails[0].URL)
	assert.Equal(t, 8, all.Counters.URLsCrawled)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), nil)
	c.RecordURL("a", true, WithCategory("news"))
	s := c.Snapshot(0)
	s.Categories["news"] = 99
	assert.Equal(t, 1, c.Snapshot(0).Categories["news"])
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	clk := system.NewManual(sessionStart)
	c := New(DefaultConfig(), clk)
	c.RecordURL("https://example.org", true, WithStatusCode(200), WithCategory("faculty"))
	clk.Advance(2 * time.Second)

	var buf bytes.Buffer
	require.NoError(t, c.WriteJSON(&buf, 10))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.InDelta(t, 2.0, decoded["elapsed_seconds"], 1e-9)
	assert.InDelta(t, 0.5, decoded["crawl_rate"], 1e-9)
	counters, ok := decoded["counters"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, counters["urls_successful"])
	details, ok := decoded["url_details"].([]any)
	require.True(t, ok)
	assert.Len(t, details, 1)
}

func TestReport(t *testing.T) {
	t.Parallel()

	clk := system.NewManual(sessionStart)
	c := New(DefaultConfig(), clk)
	for i := 0; i < 4; i++ {
		c.RecordURL(fmt.Sprintf("n%d", i), true, WithCategory("news"), WithStatusCode(200), WithContentSize(1500))
	}
	c.RecordURL("x", false, WithStatusCode(500), WithError("http_500"))
	for i := 0; i < 12; i++ {
		c.RecordError(fmt.Sprintf("error_%02d", i))
	}
	c.RecordPDF("a.pdf", true, WithExtractionMethod("pdftotext"))
	clk.Advance(10 * time.Second)

	report := c.Report()
	assert.Contains(t, report, "CRAWL METRICS REPORT")
	assert.Contains(t, report, "Start: 2024-10-01 09:00:00")
	assert.Contains(t, report, "Crawl rate: 0.50 URLs/s")
	assert.Contains(t, report, "Success rate: 80.0%")
	assert.Contains(t, report, "- news: 4 (80.0%)")
	assert.Contains(t, report, "- unknown: 1 (20.0%)")
	assert.Contains(t, report, "- 200: 4")
	assert.Contains(t, report, "- 500: 1")
	assert.Contains(t, report, "Total content: 6.0 kB")
	assert.Contains(t, report, "- pdftotext: 1")

	topSection := report[strings.Index(report, "Top errors"):strings.Index(report, "HTTP status codes")]
	assert.Equal(t, 10, strings.Count(topSection, "  - "))
	assert.Contains(t, topSection, "- error_00: 1")
	assert.NotContains(t, topSection, "error_11")
}

func TestCollectorConcurrentRecording(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.RecordURL(fmt.Sprintf("w%d-%d", w, i), i%2 == 0, WithResponseTime(time.Millisecond))
				c.RecordDuplicate("d", "exact_duplicate")
				_ = c.Snapshot(10)
			}
		}(w)
	}
	wg.Wait()

	counters := c.Counters()
	assert.Equal(t, 800, counters.URLsCrawled)
	assert.Equal(t, 400, counters.URLsSuccessful)
	assert.Equal(t, 800, counters.DuplicatesRemoved)
	assert.Equal(t, 800*time.Millisecond, c.TotalResponseTime())
}

func TestRingLast(t *testing.T) {
	t.Parallel()

	r := newRing[int](3)
	assert.Empty(t, r.last(0))
	r.push(1)
	r.push(2)
	assert.Equal(t, []int{1, 2}, r.last(0))
	r.push(3)
	r.push(4)
	assert.Equal(t, []int{2, 3, 4}, r.last(0))
	assert.Equal(t, []int{3, 4}, r.last(2))
	assert.Equal(t, 3, r.len())
}
