// Package pipeline runs fetched documents through cleaning, deduplication,
// chunking and delivery, recording every outcome in the session metrics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/corpus-refinery/internal/chunker"
	"github.com/JakeFAU/corpus-refinery/internal/cleaner"
	"github.com/JakeFAU/corpus-refinery/internal/clock/system"
	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	"github.com/JakeFAU/corpus-refinery/internal/dedup"
	uuidgen "github.com/JakeFAU/corpus-refinery/internal/id/uuid"
	"github.com/JakeFAU/corpus-refinery/internal/pdf"
	"github.com/JakeFAU/corpus-refinery/internal/progress"
	"github.com/JakeFAU/corpus-refinery/internal/scrapemetrics"
	"github.com/JakeFAU/corpus-refinery/internal/urlcache"
)

// Status is the terminal state of one document.
type Status string

// Document outcomes.
const (
	StatusDelivered     Status = "delivered"
	StatusSkipped       Status = "skipped"
	StatusFailed        Status = "failed"
	StatusInsubstantial Status = "insubstantial"
	StatusDuplicate     Status = "duplicate"
	StatusEmpty         Status = "empty"
)

// Error kinds recorded in the metrics error table for outer-layer failures.
const (
	ErrorSinkDelivery = "sink_delivery"
	ErrorCacheLookup  = "cache_lookup"
	ErrorCacheUpsert  = "cache_upsert"
	ErrorDeliveryID   = "delivery_id"
	ErrorPDFSpool     = "pdf_spool"
)

// Outcome summarizes what happened to one document.
type Outcome struct {
	URL        string          `json:"url"`
	Status     Status          `json:"status"`
	Document   corpus.Document `json:"document"`
	Chunks     int             `json:"chunks"`
	DeliveryID string          `json:"delivery_id,omitempty"`
	Similarity float64         `json:"similarity,omitempty"`
	MatchedURL string          `json:"matched_url,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Deps are the collaborators a Pipeline drives. Cleaner, Dedup, Chunker,
// Metrics and Sink are required.
type Deps struct {
	Cleaner  *cleaner.Cleaner
	Dedup    *dedup.Deduplicator
	Chunker  *chunker.Chunker
	Metrics  *scrapemetrics.Collector
	Sink     corpus.ChunkSink
	Cache    corpus.URLCache
	Policy   *urlcache.Policy
	PDF      corpus.PDFExtractor
	Progress progress.Emitter
	IDs      corpus.IDGenerator
	Clock    corpus.Clock
	Logger   *zap.Logger
}

// Options tune a Pipeline.
type Options struct {
	PreserveHeaders bool
	// Force ignores URL cache freshness.
	Force bool
	// Workers bounds ProcessAll concurrency (4 when unset).
	Workers int
	// SessionID is generated when zero.
	SessionID uuid.UUID
}

// Pipeline is the per-session processing context.
type Pipeline struct {
	deps      Deps
	opts      Options
	sessionID uuid.UUID
	logger    *zap.Logger
}

// New validates deps and fills optional collaborators with their no-op or
// default variants.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Cleaner == nil:
		return nil, errors.New("pipeline: cleaner is required")
	case deps.Dedup == nil:
		return nil, errors.New("pipeline: deduplicator is required")
	case deps.Chunker == nil:
		return nil, errors.New("pipeline: chunker is required")
	case deps.Metrics == nil:
		return nil, errors.New("pipeline: metrics collector is required")
	case deps.Sink == nil:
		return nil, errors.New("pipeline: chunk sink is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuidgen.New()
	}
	if deps.PDF == nil {
		deps.PDF = pdf.Disabled{}
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard{}
	}
	if deps.Cache != nil && deps.Policy == nil {
		deps.Policy = urlcache.NewPolicy(nil, deps.Clock, deps.Logger)
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	sessionID := opts.SessionID
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}
	return &Pipeline{
		deps:      deps,
		opts:      opts,
		sessionID: sessionID,
		logger:    deps.Logger.With(zap.String("session_id", sessionID.String())),
	}, nil
}

// SessionID identifies the ingest session in progress events.
func (p *Pipeline) SessionID() string {
	return p.sessionID.String()
}

// Metrics exposes the session collector.
func (p *Pipeline) Metrics() *scrapemetrics.Collector {
	return p.deps.Metrics
}

// Dedup exposes the session deduplicator.
func (p *Pipeline) Dedup() *dedup.Deduplicator {
	return p.deps.Dedup
}

// Start announces the session.
func (p *Pipeline) Start() {
	p.emit(p.event(progress.StageSessionStart, "", ""))
	p.logger.Info("ingest session started")
}

// Finish announces the end of the session with its runtime.
func (p *Pipeline) Finish() {
	evt := p.event(progress.StageSessionDone, "", "")
	evt.Dur = p.deps.Metrics.Elapsed()
	p.emit(evt)
	c := p.deps.Metrics.Counters()
	p.logger.Info("ingest session finished",
		zap.Int("urls_crawled", c.URLsCrawled),
		zap.Int("documents_chunked", c.DocumentsChunked),
		zap.Int("chunks_produced", c.ChunksProduced),
		zap.Int("duplicates_removed", c.DuplicatesRemoved),
		zap.Duration("elapsed", evt.Dur),
	)
}

// ShouldFetch consults the URL cache. Fresh URLs are reported as skipped;
// lookup failures are recorded and the URL is fetched anyway.
func (p *Pipeline) ShouldFetch(ctx context.Context, url, category string) bool {
	if p.deps.Cache == nil {
		return true
	}
	ok, err := p.deps.Policy.ShouldScrape(ctx, p.deps.Cache, url, category, p.opts.Force)
	if err != nil {
		p.deps.Metrics.RecordError(ErrorCacheLookup)
		p.logger.Warn("url cache lookup failed", zap.String("url", url), zap.Error(err))
		return true
	}
	if !ok {
		p.emit(p.event(progress.StageSkipped, url, category))
	}
	return ok
}

// Ingest is ShouldFetch followed by Process. Fresh URLs return a skipped
// outcome and corpus.ErrSkipped.
func (p *Pipeline) Ingest(ctx context.Context, res corpus.FetchResult) (Outcome, error) {
	if !p.ShouldFetch(ctx, res.URL, res.Category) {
		return Outcome{URL: res.URL, Status: StatusSkipped}, corpus.ErrSkipped
	}
	return p.Process(ctx, res)
}

// Process refines one fetched resource. Fetch failures and sink errors are
// recorded and returned; rejected documents are outcomes, not errors.
func (p *Pipeline) Process(ctx context.Context, res corpus.FetchResult) (Outcome, error) {
	size := res.ContentSize
	if size == 0 {
		size = int64(len(res.Body))
	}
	opts := []scrapemetrics.URLOption{
		scrapemetrics.WithStatusCode(res.StatusCode),
		scrapemetrics.WithContentSize(size),
		scrapemetrics.WithCategory(res.Category),
	}
	if res.Duration > 0 {
		opts = append(opts, scrapemetrics.WithResponseTime(res.Duration))
	}

	if fetchErr := fetchError(res); fetchErr != nil {
		p.deps.Metrics.RecordURL(res.URL, false, append(opts, scrapemetrics.WithError(fetchErr.Error()))...)
		p.fail(res.URL, res.Category, fetchErr)
		p.remember(ctx, res, false)
		return Outcome{URL: res.URL, Status: StatusFailed, Error: fetchErr.Error()},
			fmt.Errorf("fetch %s: %w", res.URL, fetchErr)
	}
	p.deps.Metrics.RecordURL(res.URL, true, opts...)
	if res.Kind == corpus.SourcePDF {
		out, err := p.processPDFBody(ctx, res)
		p.remember(ctx, res, true)
		return out, err
	}

	fetched := p.event(progress.StageFetched, res.URL, res.Category)
	fetched.Bytes = size
	fetched.StatusClass = progress.ClassifyStatus(res.StatusCode)
	fetched.Dur = res.Duration
	p.emit(fetched)

	kind := res.Kind
	if kind == "" {
		kind = corpus.SourceHTML
	}
	out, err := p.refine(ctx, res.URL, res.Category, kind, string(res.Body), nil)
	p.remember(ctx, res, true)
	return out, err
}

// ProcessPDF extracts location with the configured backend and refines the
// text. The URL-derived metadata and document title travel with every chunk.
func (p *Pipeline) ProcessPDF(ctx context.Context, location, category string) (Outcome, error) {
	return p.processPDF(ctx, location, location, category)
}

func (p *Pipeline) processPDFBody(ctx context.Context, res corpus.FetchResult) (Outcome, error) {
	if len(res.Body) == 0 {
		return p.processPDF(ctx, res.URL, res.URL, res.Category)
	}
	path, cleanup, err := spool(res.Body)
	if err != nil {
		p.deps.Metrics.RecordError(ErrorPDFSpool)
		p.fail(res.URL, res.Category, err)
		return Outcome{URL: res.URL, Status: StatusFailed, Error: err.Error()}, err
	}
	defer cleanup()
	return p.processPDF(ctx, res.URL, path, res.Category)
}

func (p *Pipeline) processPDF(ctx context.Context, url, location, category string) (Outcome, error) {
	content, err := p.deps.PDF.Extract(ctx, location)
	if err == nil && !content.Success {
		err = errors.New(content.Error)
	}
	if err != nil {
		msg := content.Error
		if msg == "" {
			msg = err.Error()
		}
		p.deps.Metrics.RecordPDF(url, false,
			scrapemetrics.WithFileSize(content.FileSize),
			scrapemetrics.WithPDFError(msg),
		)
		p.fail(url, category, err)
		return Outcome{URL: url, Status: StatusFailed, Error: msg}, fmt.Errorf("extract pdf %s: %w", url, err)
	}

	p.deps.Metrics.RecordPDF(url, true,
		scrapemetrics.WithExtractionMethod(content.ExtractionMethod),
		scrapemetrics.WithPages(content.NumPages),
		scrapemetrics.WithFileSize(content.FileSize),
	)
	fetched := p.event(progress.StageFetched, url, category)
	fetched.Bytes = content.FileSize
	fetched.StatusClass = progress.Status2xx
	p.emit(fetched)

	content.URL = url
	md := pdf.MetadataFromURL(url)
	maps.Copy(md, content.Metadata)
	md["url"] = url
	md["title"] = pdf.Title(content)
	md["source_type"] = string(corpus.SourcePDF)
	md["num_pages"] = fmt.Sprint(content.NumPages)
	return p.refine(ctx, url, category, corpus.SourcePDF, content.Text, md)
}

// ProcessAll ingests results concurrently, bounded by Options.Workers.
// Outcomes keep input order. Per-document errors are joined; skipped
// documents are not errors.
func (p *Pipeline) ProcessAll(ctx context.Context, results []corpus.FetchResult) ([]Outcome, error) {
	outcomes := make([]Outcome, len(results))
	errs := make([]error, len(results))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, res := range results {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = Outcome{URL: res.URL, Status: StatusFailed, Error: err.Error()}
				return err
			}
			out, err := p.Ingest(gctx, res)
			outcomes[i] = out
			if err != nil && !errors.Is(err, corpus.ErrSkipped) {
				errs[i] = err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, fmt.Errorf("process batch: %w", err)
	}
	return outcomes, errors.Join(errs...)
}

func (p *Pipeline) refine(
	ctx context.Context,
	url, category string,
	kind corpus.SourceKind,
	raw string,
	extra map[string]string,
) (Outcome, error) {
	doc := p.deps.Cleaner.CleanDocument(corpus.Document{URL: url, Category: category, RawMarkup: raw}, kind)
	doc.RawMarkup = ""
	out := Outcome{URL: url, Document: doc}

	verdict := p.deps.Dedup.Classify(doc.CleanedText, url)
	if verdict.IsDuplicate() {
		out.Document.DuplicateReason = verdict.Reason()
		out.Status = StatusDuplicate
		out.Similarity = verdict.Similarity
		out.MatchedURL = verdict.MatchedURL
		p.deps.Metrics.RecordDuplicate(url, verdict.Reason())
		evt := p.event(progress.StageDuplicate, url, category)
		evt.Similarity = verdict.Similarity
		evt.Note = verdict.Reason()
		p.emit(evt)
		return out, nil
	}

	// Every document gets a verdict; substantiality only gates chunking.
	if !doc.IsSubstantial {
		p.deps.Metrics.RecordInsubstantial(url)
		p.emit(p.event(progress.StageInsubstantial, url, category))
		p.logger.Debug("document not substantial",
			zap.String("url", url),
			zap.Int("words", doc.WordCount),
			zap.Int("chars", doc.CharCount),
		)
		out.Status = StatusInsubstantial
		return out, nil
	}

	contentHash := dedup.ContentHash(doc.CleanedText)
	md := map[string]string{"url": url, "content_hash": contentHash}
	if category != "" {
		md["category"] = category
	}
	maps.Copy(md, extra)

	chunks := p.deps.Chunker.ChunkDocument(doc.CleanedText, md, p.opts.PreserveHeaders)
	if len(chunks) == 0 {
		out.Status = StatusEmpty
		p.logger.Debug("document produced no chunks", zap.String("url", url))
		return out, nil
	}
	out.Chunks = len(chunks)
	p.deps.Metrics.RecordChunks(url, len(chunks))
	chunked := p.event(progress.StageChunked, url, category)
	chunked.Chunks = len(chunks)
	p.emit(chunked)

	id, err := p.deps.IDs.NewID()
	if err != nil {
		p.deps.Metrics.RecordError(ErrorDeliveryID)
		p.fail(url, category, err)
		out.Status = StatusFailed
		out.Error = err.Error()
		return out, fmt.Errorf("delivery id for %s: %w", url, err)
	}
	delivery := corpus.Delivery{
		ID:          id,
		URL:         url,
		Category:    category,
		ContentHash: contentHash,
		Chunks:      chunks,
		CreatedAt:   p.deps.Clock.Now().UTC(),
	}
	if err := p.deps.Sink.Deliver(ctx, delivery); err != nil {
		p.deps.Metrics.RecordError(ErrorSinkDelivery)
		p.fail(url, category, err)
		p.logger.Error("chunk delivery failed", zap.String("url", url), zap.Error(err))
		out.Status = StatusFailed
		out.Error = err.Error()
		return out, fmt.Errorf("deliver %s: %w", url, err)
	}

	out.Status = StatusDelivered
	out.DeliveryID = id
	p.emit(p.event(progress.StageDelivered, url, category))
	p.logger.Debug("document delivered",
		zap.String("url", url),
		zap.String("delivery_id", id),
		zap.Int("chunks", len(chunks)),
	)
	return out, nil
}

// remember stores the scrape summary. Failures are recorded, never returned.
func (p *Pipeline) remember(ctx context.Context, res corpus.FetchResult, success bool) {
	if p.deps.Cache == nil {
		return
	}
	row := urlcache.NewRow(res.URL, res.Category, res.Body, success, res.StatusCode, p.deps.Clock.Now())
	if err := p.deps.Cache.Upsert(ctx, row); err != nil {
		p.deps.Metrics.RecordError(ErrorCacheUpsert)
		p.logger.Warn("url cache upsert failed", zap.String("url", res.URL), zap.Error(err))
	}
}

func (p *Pipeline) fail(url, category string, err error) {
	evt := p.event(progress.StageFailed, url, category)
	evt.Note = err.Error()
	p.emit(evt)
}

func (p *Pipeline) event(stage progress.Stage, url, category string) progress.Event {
	return progress.Event{
		SessionID: progress.UUIDToBytes(p.sessionID),
		TS:        p.deps.Clock.Now().UTC(),
		Stage:     stage,
		URL:       url,
		Category:  category,
	}
}

func (p *Pipeline) emit(evt progress.Event) {
	p.deps.Progress.Emit(evt)
}

func fetchError(res corpus.FetchResult) error {
	if res.Err != nil {
		return res.Err
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("http %d", res.StatusCode)
	}
	return nil
}

func spool(body []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "corpus-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("spool pdf: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("spool pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("spool pdf: %w", err)
	}
	return f.Name(), cleanup, nil
}
