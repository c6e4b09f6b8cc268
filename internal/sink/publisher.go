package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

// Publisher sends every delivery as one message on topic.
type Publisher struct {
	pub    corpus.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublisher wraps pub.
func NewPublisher(pub corpus.Publisher, topic string, logger *zap.Logger) (*Publisher, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{pub: pub, topic: topic, logger: logger}, nil
}

// Deliver implements corpus.ChunkSink.
func (p *Publisher) Deliver(ctx context.Context, d corpus.Delivery) error {
	id, err := p.pub.Publish(ctx, p.topic, d)
	if err != nil {
		return fmt.Errorf("publish delivery %s: %w", d.ID, err)
	}
	p.logger.Debug("delivery published",
		zap.String("url", d.URL),
		zap.String("message_id", id),
		zap.Int("chunks", len(d.Chunks)),
	)
	return nil
}
