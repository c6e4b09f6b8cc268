package scrapemetrics

import "time"

// URLOption sets an optional field of a URL event.
type URLOption func(*URLRecord)

// WithStatusCode records the HTTP status.
func WithStatusCode(code int) URLOption {
	return func(r *URLRecord) { r.StatusCode = code }
}

// WithResponseTime records how long the fetch took.
func WithResponseTime(d time.Duration) URLOption {
	return func(r *URLRecord) {
		r.ResponseTime = d
		r.hasResponseTime = true
	}
}

// WithContentSize records the body size in bytes.
func WithContentSize(n int64) URLOption {
	return func(r *URLRecord) {
		r.ContentSize = n
		r.hasContentSize = true
	}
}

// WithCategory records the content category.
func WithCategory(category string) URLOption {
	return func(r *URLRecord) { r.Category = category }
}

// WithError records a failure description.
func WithError(msg string) URLOption {
	return func(r *URLRecord) { r.Error = msg }
}

// PDFOption sets an optional field of a PDF event.
type PDFOption func(*pdfEvent)

type pdfEvent struct {
	method   string
	pages    int
	fileSize int64
	err      string
}

// WithExtractionMethod names the extraction backend that succeeded.
func WithExtractionMethod(method string) PDFOption {
	return func(e *pdfEvent) { e.method = method }
}

// WithPages records the page count.
func WithPages(n int) PDFOption {
	return func(e *pdfEvent) { e.pages = n }
}

// WithFileSize records the PDF size in bytes.
func WithFileSize(n int64) PDFOption {
	return func(e *pdfEvent) { e.fileSize = n }
}

// WithPDFError records why extraction failed.
func WithPDFError(msg string) PDFOption {
	return func(e *pdfEvent) { e.err = msg }
}
