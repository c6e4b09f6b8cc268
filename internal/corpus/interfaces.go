package corpus

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a single resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Queue buffers work items between producers and workers. Dequeue returns
// ErrQueueClosed once the queue is closed and drained.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
}

// URLCacheReader is the read side of the URL cache used for skip decisions.
type URLCacheReader interface {
	Lookup(ctx context.Context, url string) (CachedURL, bool, error)
}

// URLCache persists per-URL scrape summaries.
type URLCache interface {
	URLCacheReader
	Upsert(ctx context.Context, row CachedURL) error
	Invalidate(ctx context.Context, url string) error
	Close() error
}

// PDFExtractor turns a PDF URL into text.
type PDFExtractor interface {
	Extract(ctx context.Context, url string) (PDFContent, error)
}

// ChunkSink receives the chunk sequence of every accepted document.
type ChunkSink interface {
	Deliver(ctx context.Context, delivery Delivery) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces delivery and session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
