// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/api"
	"github.com/JakeFAU/corpus-refinery/internal/chunker"
	"github.com/JakeFAU/corpus-refinery/internal/cleaner"
	"github.com/JakeFAU/corpus-refinery/internal/clock/system"
	"github.com/JakeFAU/corpus-refinery/internal/config"
	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	"github.com/JakeFAU/corpus-refinery/internal/dedup"
	"github.com/JakeFAU/corpus-refinery/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/corpus-refinery/internal/fetcher/colly"
	uuidgen "github.com/JakeFAU/corpus-refinery/internal/id/uuid"
	"github.com/JakeFAU/corpus-refinery/internal/metrics"
	"github.com/JakeFAU/corpus-refinery/internal/pdf"
	"github.com/JakeFAU/corpus-refinery/internal/pipeline"
	"github.com/JakeFAU/corpus-refinery/internal/progress"
	"github.com/JakeFAU/corpus-refinery/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/corpus-refinery/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/corpus-refinery/internal/queue/memory"
	"github.com/JakeFAU/corpus-refinery/internal/ratelimit"
	"github.com/JakeFAU/corpus-refinery/internal/scrapemetrics"
	"github.com/JakeFAU/corpus-refinery/internal/sink"
	gcsstore "github.com/JakeFAU/corpus-refinery/internal/storage/gcs"
	localstore "github.com/JakeFAU/corpus-refinery/internal/storage/local"
	memorystore "github.com/JakeFAU/corpus-refinery/internal/storage/memory"
	"github.com/JakeFAU/corpus-refinery/internal/urlcache"
	urlmemory "github.com/JakeFAU/corpus-refinery/internal/urlcache/memory"
	urlpostgres "github.com/JakeFAU/corpus-refinery/internal/urlcache/postgres"
	urlsqlite "github.com/JakeFAU/corpus-refinery/internal/urlcache/sqlite"
	"github.com/JakeFAU/corpus-refinery/internal/workflow"
	workerpool "github.com/JakeFAU/corpus-refinery/internal/worker"
)

// App holds the shared, long-lived services. It is built once per command
// and every ingest session draws its collaborators from it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	clock    corpus.Clock
	ids      corpus.IDGenerator

	cleaner  *cleaner.Cleaner
	chunker  *chunker.Chunker
	cache    corpus.URLCache
	policy   *urlcache.Policy
	sink     corpus.ChunkSink
	pdf      corpus.PDFExtractor
	hub      *progress.Hub
	fetcher  corpus.Fetcher
	limiter  *ratelimit.Limiter
	workflow workflow.Client
	temporal *workflow.Temporal

	closers []func() error
}

// Option overrides a collaborator, mostly for tests.
type Option func(*App)

// WithFetcher replaces the colly fetcher.
func WithFetcher(f corpus.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithSink replaces the configured chunk sink.
func WithSink(s corpus.ChunkSink) Option {
	return func(a *App) { a.sink = s }
}

// WithClock replaces the system clock.
func WithClock(c corpus.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithPDFExtractor replaces the configured PDF backend.
func WithPDFExtractor(e corpus.PDFExtractor) Option {
	return func(a *App) { a.pdf = e }
}

// New builds every service named by cfg. It fails fast: when one backend
// cannot be initialized the ones already opened are closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		clock:    system.New(),
		ids:      uuidgen.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"refiners", a.initRefiners},
		{"url cache", a.initCache},
		{"sink", a.initSink},
		{"pdf", a.initPDF},
		{"progress", a.initProgress},
		{"fetcher", a.initFetcher},
		{"workflow", a.initWorkflow},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("init %s: %w", step.name, err)
		}
	}
	logger.Info("application services initialized",
		zap.String("urlcache", cfg.URLCache.Backend),
		zap.String("sink", cfg.Sink.Kind),
		zap.String("workflow", cfg.Workflow.Backend),
	)
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry is the Prometheus registry served on /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Workflow returns the configured workflow client.
func (a *App) Workflow() workflow.Client {
	return a.workflow
}

// Cache returns the URL cache.
func (a *App) Cache() corpus.URLCache {
	return a.cache
}

func (a *App) initRefiners(context.Context) error {
	var err error
	if a.cleaner, err = cleaner.New(a.cfg.Cleaner, a.logger.Named("cleaner")); err != nil {
		return err
	}
	if a.chunker, err = chunker.New(a.cfg.Chunker, a.logger.Named("chunker")); err != nil {
		return err
	}
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	switch a.cfg.URLCache.Backend {
	case "memory", "":
		a.cache = urlmemory.New()
	case "sqlite":
		c, err := urlsqlite.Open(ctx, a.cfg.URLCache.Path)
		if err != nil {
			return err
		}
		a.cache = c
	case "postgres":
		c, err := urlpostgres.Open(ctx, urlpostgres.Config{DSN: a.cfg.URLCache.DSN})
		if err != nil {
			return err
		}
		a.cache = c
	default:
		return fmt.Errorf("unknown url cache backend: %s", a.cfg.URLCache.Backend)
	}
	a.closers = append(a.closers, a.cache.Close)
	a.policy = urlcache.NewPolicy(a.cfg.MaxAges(), a.clock, a.logger.Named("urlcache"))
	return nil
}

func (a *App) initSink(ctx context.Context) error {
	if a.sink != nil {
		return nil
	}
	logger := a.logger.Named("sink")
	switch a.cfg.Sink.Kind {
	case "memory", "":
		a.sink = sink.NewMemory()
	case "blob":
		store, err := a.blobStore(ctx)
		if err != nil {
			return err
		}
		blob, err := sink.NewBlob(store, a.cfg.Sink.Prefix, logger)
		if err != nil {
			return err
		}
		a.sink = blob
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Sink.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		pub, err := pubsubpublisher.New(client, map[string]string{"source": "corpus-refinery"})
		if err != nil {
			_ = client.Close()
			return err
		}
		a.closers = append(a.closers, func() error {
			pub.Close()
			return client.Close()
		})
		s, err := sink.NewPublisher(pub, a.cfg.Sink.Topic, logger)
		if err != nil {
			return err
		}
		a.sink = s
	default:
		return fmt.Errorf("unknown sink kind: %s", a.cfg.Sink.Kind)
	}
	return nil
}

func (a *App) blobStore(ctx context.Context) (corpus.BlobStore, error) {
	switch a.cfg.Sink.BlobBackend {
	case "local", "":
		return localstore.New(localstore.Config{BaseDir: a.cfg.Sink.BaseDir})
	case "memory":
		return memorystore.NewBlobStore(), nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Sink.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", a.cfg.Sink.BlobBackend)
	}
}

func (a *App) initPDF(context.Context) error {
	if a.pdf != nil {
		return nil
	}
	if !a.cfg.PDF.Enabled {
		a.pdf = pdf.Disabled{}
		return nil
	}
	cmd, err := pdf.NewCommand(a.cfg.PDF.Binary, a.logger.Named("pdf"))
	if errors.Is(err, pdf.ErrDisabled) {
		a.logger.Warn("pdf extraction disabled", zap.Error(err))
		a.pdf = pdf.Disabled{}
		return nil
	}
	if err != nil {
		return err
	}
	a.pdf = cmd
	return nil
}

func (a *App) initProgress(ctx context.Context) error {
	if !a.cfg.Progress.Enabled {
		return nil
	}
	sinkList := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress"))}
	if a.cfg.Progress.PrometheusExport {
		ps, err := sinks.NewPrometheusSink(a.registry)
		if err != nil {
			return err
		}
		sinkList = append(sinkList, ps)
	}
	if dsn := a.cfg.Progress.PostgresDSN; dsn != "" {
		pg, err := sinks.NewPostgresSink(ctx, dsn)
		if err != nil {
			return err
		}
		sinkList = append(sinkList, pg)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress"),
	}, sinkList...)
	return nil
}

func (a *App) initFetcher(context.Context) error {
	a.limiter = ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.Fetcher.PerHostRPS,
		Burst: a.cfg.Fetcher.PerHostBurst,
	}, a.registry)
	if a.fetcher != nil {
		return nil
	}
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.Fetcher.UserAgent,
		Timeout:      a.cfg.FetchTimeout(),
		MaxBodyBytes: a.cfg.Fetcher.MaxBodyBytes,
	})
	return nil
}

func (a *App) initWorkflow(context.Context) error {
	logger := a.logger.Named("workflow")
	switch a.cfg.Workflow.Backend {
	case "noop", "":
		a.workflow = workflow.NewNoop(a.Ingest, logger)
	case "temporal":
		t, err := workflow.DialTemporal(workflow.TemporalConfig{
			HostPort:  a.cfg.Workflow.HostPort,
			Namespace: a.cfg.Workflow.Namespace,
			TaskQueue: a.cfg.Workflow.TaskQueue,
		}, logger)
		if err != nil {
			return err
		}
		a.temporal = t
		a.workflow = t
	default:
		return fmt.Errorf("unknown workflow backend: %s", a.cfg.Workflow.Backend)
	}
	return nil
}

// NewSession builds a pipeline with its own deduplicator and metrics
// collector. Zero option fields take the configured defaults.
func (a *App) NewSession(opts pipeline.Options) (*pipeline.Pipeline, error) {
	if opts.Workers <= 0 {
		opts.Workers = a.cfg.Pipeline.Workers
	}
	deps := pipeline.Deps{
		Cleaner: a.cleaner,
		Dedup:   dedup.New(a.cfg.Dedup, a.logger.Named("dedup")),
		Chunker: a.chunker,
		Metrics: scrapemetrics.New(a.cfg.Metrics, a.clock),
		Sink:    a.sink,
		Cache:   a.cache,
		Policy:  a.policy,
		PDF:     a.pdf,
		IDs:     a.ids,
		Clock:   a.clock,
		Logger:  a.logger.Named("pipeline"),
	}
	if a.hub != nil {
		deps.Progress = a.hub
	}
	return pipeline.New(deps, opts)
}

// RunSession fetches and refines every URL in req through a bounded worker
// pool and returns the session with its tallied result.
func (a *App) RunSession(ctx context.Context, req workflow.IngestRequest) (*pipeline.Pipeline, workflow.IngestResult, error) {
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		sessionID = uuid.New()
	}
	p, err := a.NewSession(pipeline.Options{
		PreserveHeaders: req.PreserveHeaders,
		Force:           req.Force || a.cfg.Pipeline.Force,
		SessionID:       sessionID,
	})
	if err != nil {
		return nil, workflow.IngestResult{}, err
	}

	var (
		mu     sync.Mutex
		result workflow.IngestResult
	)
	tally := func(out pipeline.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		tallyOutcome(&result, out)
	}

	backoffInitial, backoffMax := a.cfg.FetchBackoff()
	wcfg := workerpool.Config{
		FetchTimeout:   a.cfg.FetchTimeout(),
		MaxRetries:     a.cfg.Fetcher.MaxRetries,
		BackoffInitial: backoffInitial,
		BackoffMax:     backoffMax,
		Limiter:        a.limiter,
	}
	q := queueMemory.NewQueue(a.cfg.Pipeline.QueueDepth)
	workers := make([]*workerpool.Worker, a.cfg.Pipeline.Workers)
	for i := range workers {
		workers[i] = workerpool.New(q, a.fetcher, p, tally, wcfg,
			a.logger.Named("worker").With(zap.Int("worker", i)))
	}

	items := make([]corpus.WorkItem, 0, len(req.URLs))
	for _, url := range req.URLs {
		items = append(items, corpus.WorkItem{
			URL:      url,
			Category: req.Category,
			Kind:     collyfetcher.DetectKind(url, ""),
		})
	}

	p.Start()
	err = dispatcher.New(q, workers).Drain(ctx, items)
	p.Finish()

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		return p, result, fmt.Errorf("ingest session %s: %w", p.SessionID(), err)
	}
	return p, result, nil
}

// Ingest is the workflow.Runner behind both workflow backends.
func (a *App) Ingest(ctx context.Context, req workflow.IngestRequest) (workflow.IngestResult, error) {
	_, result, err := a.RunSession(ctx, req)
	return result, err
}

func tallyOutcome(r *workflow.IngestResult, out pipeline.Outcome) {
	switch out.Status {
	case pipeline.StatusDelivered:
		r.Delivered++
		r.Chunks += out.Chunks
	case pipeline.StatusSkipped:
		r.Skipped++
	case pipeline.StatusDuplicate:
		r.Duplicates++
	case pipeline.StatusInsubstantial:
		r.Insubstantial++
	case pipeline.StatusEmpty:
		r.Empty++
	case pipeline.StatusFailed:
		r.Failed++
	}
}

// NewServer builds the HTTP API around a long-running service session.
func (a *App) NewServer(session *pipeline.Pipeline) (*api.Server, error) {
	return api.NewServer(api.Deps{
		Pipeline: session,
		Workflow: a.workflow,
		Cache:    a.cache,
		Policy:   a.policy,
		Gatherer: a.registry,
		HTTP:     metrics.NewHTTP(a.registry),
		Ready:    a.ready,
		Logger:   a.logger.Named("api"),
	}, a.cfg.Auth)
}

func (a *App) ready(ctx context.Context) error {
	if _, _, err := a.cache.Lookup(ctx, "readyz"); err != nil {
		return fmt.Errorf("url cache: %w", err)
	}
	return nil
}

// NewTemporalWorker returns a worker that executes ingest workflows in this
// process. It returns nil when the workflow backend is not temporal.
func (a *App) NewTemporalWorker() worker.Worker {
	if a.temporal == nil {
		return nil
	}
	return workflow.NewWorker(a.temporal.SDK(), a.temporal.TaskQueue(), &workflow.Activities{Run: a.Ingest})
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down application services")
	if a.workflow != nil {
		a.workflow.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("error closing progress hub", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("error syncing logger on shutdown", zap.Error(err))
	}
}
