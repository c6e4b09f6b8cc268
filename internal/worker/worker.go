// Package worker implements the ingest execution loop: dequeue, consult the
// URL cache, fetch with retries and hand the result to the pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	"github.com/JakeFAU/corpus-refinery/internal/pipeline"
)

// Processor is the part of pipeline.Pipeline a worker drives.
type Processor interface {
	ShouldFetch(ctx context.Context, url, category string) bool
	Process(ctx context.Context, res corpus.FetchResult) (pipeline.Outcome, error)
}

// Config controls Worker behavior.
type Config struct {
	// FetchTimeout bounds each fetch attempt; zero means no extra bound.
	FetchTimeout time.Duration
	// MaxRetries is the number of extra attempts after a transport error or
	// a 5xx response.
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Limiter, when set, is waited on before every fetch attempt.
	Limiter Limiter
}

// Limiter throttles fetches.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Worker consumes queue items and runs them through the pipeline.
type Worker struct {
	queue     corpus.Queue
	fetcher   corpus.Fetcher
	processor Processor
	onOutcome func(pipeline.Outcome)
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. onOutcome, when set, receives every outcome.
func New(
	queue corpus.Queue,
	fetcher corpus.Fetcher,
	processor Processor,
	onOutcome func(pipeline.Outcome),
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	return &Worker{
		queue:     queue,
		fetcher:   fetcher,
		processor: processor,
		onOutcome: onOutcome,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the queue is closed and drained or
// the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, corpus.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued item", zap.String("url", item.URL))
		w.report(w.handle(ctx, item))
	}
}

func (w *Worker) handle(ctx context.Context, item corpus.WorkItem) pipeline.Outcome {
	if w.processor == nil {
		w.logger.Error("no processor configured", zap.String("url", item.URL))
		return pipeline.Outcome{URL: item.URL, Status: pipeline.StatusFailed, Error: "no processor configured"}
	}
	if !w.processor.ShouldFetch(ctx, item.URL, item.Category) {
		return pipeline.Outcome{URL: item.URL, Status: pipeline.StatusSkipped}
	}

	var res corpus.FetchResult
	switch {
	case item.Prefetched != nil:
		res = *item.Prefetched
	case w.fetcher == nil:
		res = corpus.FetchResult{URL: item.URL, Err: errors.New("no fetcher configured")}
	default:
		res = w.fetch(ctx, item.URL)
	}
	if res.URL == "" {
		res.URL = item.URL
	}
	if res.Category == "" {
		res.Category = item.Category
	}
	if item.Kind != "" && res.Kind == "" {
		res.Kind = item.Kind
	}

	out, err := w.processor.Process(ctx, res)
	if err != nil {
		w.logger.Warn("document processing failed", zap.String("url", res.URL), zap.Error(err))
	}
	return out
}

// fetch retries transport errors and 5xx responses with capped exponential
// backoff. The last attempt's result is returned either way.
func (w *Worker) fetch(ctx context.Context, url string) corpus.FetchResult {
	backoff := w.cfg.BackoffInitial
	var res corpus.FetchResult
	for attempt := 0; ; attempt++ {
		var err error
		res, err = w.fetchOnce(ctx, url)
		if err != nil {
			res.Err = err
		}
		if !retryable(res) || attempt >= w.cfg.MaxRetries {
			return res
		}
		w.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Int("status", res.StatusCode),
			zap.Error(res.Err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Err = fmt.Errorf("fetch canceled: %w", ctx.Err())
			return res
		case <-timer.C:
		}
		backoff = min(backoff*2, w.cfg.BackoffMax)
	}
}

func (w *Worker) fetchOnce(ctx context.Context, url string) (corpus.FetchResult, error) {
	if w.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.FetchTimeout)
		defer cancel()
	}
	if w.cfg.Limiter != nil {
		if err := w.cfg.Limiter.Wait(ctx, url); err != nil {
			return corpus.FetchResult{URL: url}, err
		}
	}
	res, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	return res, nil
}

func retryable(res corpus.FetchResult) bool {
	return res.Err != nil || res.StatusCode >= 500
}

func (w *Worker) report(out pipeline.Outcome) {
	w.logger.Debug("item processed",
		zap.String("url", out.URL),
		zap.String("status", string(out.Status)),
		zap.Int("chunks", out.Chunks),
	)
	if w.onOutcome != nil {
		w.onOutcome(out)
	}
}
