package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

// ContentTypeJSONL is the content type of blob deliveries.
const ContentTypeJSONL = "application/x-ndjson"

// chunkLine is one JSONL record. Delivery-level fields are repeated so each
// line can be indexed on its own.
type chunkLine struct {
	DeliveryID  string `json:"delivery_id"`
	URL         string `json:"url"`
	Category    string `json:"category,omitempty"`
	ContentHash string `json:"content_hash"`
	corpus.Chunk
}

// Blob writes every delivery as a JSONL object, one chunk per line, under
// <prefix>/<yyyy>/<mm>/<dd>/<delivery id>.jsonl.
type Blob struct {
	store  corpus.BlobStore
	prefix string
	logger *zap.Logger
}

// NewBlob wraps store.
func NewBlob(store corpus.BlobStore, prefix string, logger *zap.Logger) (*Blob, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blob{store: store, prefix: prefix, logger: logger}, nil
}

// ObjectPath returns where d is written.
func (b *Blob) ObjectPath(d corpus.Delivery) string {
	return path.Join(b.prefix, d.CreatedAt.UTC().Format("2006/01/02"), d.ID+".jsonl")
}

// Deliver implements corpus.ChunkSink.
func (b *Blob) Deliver(ctx context.Context, d corpus.Delivery) error {
	if d.ID == "" {
		return fmt.Errorf("delivery id is required")
	}
	body, err := EncodeJSONL(d)
	if err != nil {
		return err
	}
	uri, err := b.store.PutObject(ctx, b.ObjectPath(d), ContentTypeJSONL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("write delivery %s: %w", d.ID, err)
	}
	b.logger.Debug("delivery written",
		zap.String("url", d.URL),
		zap.String("uri", uri),
		zap.Int("chunks", len(d.Chunks)),
	)
	return nil
}

// EncodeJSONL renders d as newline-delimited JSON.
func EncodeJSONL(d corpus.Delivery) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, c := range d.Chunks {
		line := chunkLine{
			DeliveryID:  d.ID,
			URL:         d.URL,
			Category:    d.Category,
			ContentHash: d.ContentHash,
			Chunk:       c,
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encode chunk %d of %s: %w", c.ChunkIndex, d.URL, err)
		}
	}
	return buf.Bytes(), nil
}
