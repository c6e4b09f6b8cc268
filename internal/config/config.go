// Package config loads and validates corpus-refinery configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/corpus-refinery/internal/chunker"
	"github.com/JakeFAU/corpus-refinery/internal/cleaner"
	"github.com/JakeFAU/corpus-refinery/internal/dedup"
	"github.com/JakeFAU/corpus-refinery/internal/scrapemetrics"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig        `mapstructure:"logging"`
	Server   ServerConfig         `mapstructure:"server"`
	Auth     AuthConfig           `mapstructure:"auth"`
	Pipeline PipelineConfig       `mapstructure:"pipeline"`
	Cleaner  cleaner.Config       `mapstructure:"cleaner"`
	Dedup    dedup.Config         `mapstructure:"dedup"`
	Chunker  chunker.Config       `mapstructure:"chunker"`
	Metrics  scrapemetrics.Config `mapstructure:"metrics"`
	Fetcher  FetcherConfig        `mapstructure:"fetcher"`
	URLCache URLCacheConfig       `mapstructure:"urlcache"`
	Sink     SinkConfig           `mapstructure:"sink"`
	Workflow WorkflowConfig       `mapstructure:"workflow"`
	Progress ProgressConfig       `mapstructure:"progress"`
	PDF      PDFConfig            `mapstructure:"pdf"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig sizes the ingest worker pool and sets chunking mode.
type PipelineConfig struct {
	Workers         int  `mapstructure:"workers"`
	QueueDepth      int  `mapstructure:"queue_depth"`
	PreserveHeaders bool `mapstructure:"preserve_headers"`
	// Force ignores URL cache freshness.
	Force bool `mapstructure:"force"`
}

// FetcherConfig configures the colly-based fetcher.
type FetcherConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int    `mapstructure:"max_body_bytes"`
	// PerHostRPS throttles fetches per host; zero disables throttling.
	PerHostRPS   float64 `mapstructure:"per_host_rps"`
	PerHostBurst int     `mapstructure:"per_host_burst"`
}

// URLCacheConfig selects the URL cache backend and freshness rules.
type URLCacheConfig struct {
	// Backend is one of memory, sqlite or postgres.
	Backend    string         `mapstructure:"backend"`
	Path       string         `mapstructure:"path"`
	DSN        string         `mapstructure:"dsn"`
	MaxAgeDays map[string]int `mapstructure:"max_age_days"`
}

// SinkConfig selects where accepted chunk sequences are delivered.
type SinkConfig struct {
	// Kind is one of memory, blob or pubsub.
	Kind string `mapstructure:"kind"`
	// BlobBackend is one of local, gcs or memory.
	BlobBackend string `mapstructure:"blob_backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ProjectID   string `mapstructure:"project_id"`
	Topic       string `mapstructure:"topic"`
}

// WorkflowConfig selects the workflow runtime client.
type WorkflowConfig struct {
	// Backend is noop or temporal.
	Backend   string `mapstructure:"backend"`
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	BufferSize       int  `mapstructure:"buffer_size"`
	MaxBatchEvents   int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs   int  `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs    int  `mapstructure:"sink_timeout_ms"`
	PrometheusExport bool `mapstructure:"prometheus"`
	// PostgresDSN enables the session_runs sink when set.
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// PDFConfig selects the PDF extraction backend.
type PDFConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Binary is the pdftotext executable looked up on PATH.
	Binary string `mapstructure:"binary"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CORPUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	cl := cleaner.DefaultConfig()
	dd := dedup.DefaultConfig()
	ch := chunker.DefaultConfig()
	mt := scrapemetrics.DefaultConfig()

	v.SetDefault("logging.development", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.preserve_headers", true)
	v.SetDefault("pipeline.force", false)
	v.SetDefault("cleaner.remove_selectors", cl.RemoveSelectors)
	v.SetDefault("cleaner.main_selectors", cl.MainSelectors)
	v.SetDefault("cleaner.boilerplate_patterns", cl.BoilerplatePatterns)
	v.SetDefault("cleaner.mark_headings", cl.MarkHeadings)
	v.SetDefault("cleaner.min_content_length", cl.MinContentLength)
	v.SetDefault("cleaner.min_words", cl.MinWords)
	v.SetDefault("cleaner.min_avg_word_length", cl.MinAvgWordLength)
	v.SetDefault("cleaner.min_line_occurrences", cl.MinLineOccurrences)
	v.SetDefault("dedup.similarity_threshold", dd.SimilarityThreshold)
	v.SetDefault("dedup.shingle_size", dd.ShingleSize)
	v.SetDefault("dedup.prefix_chars", dd.PrefixChars)
	v.SetDefault("chunker.max_chunk_size", ch.MaxChunkSize)
	v.SetDefault("chunker.min_chunk_size", ch.MinChunkSize)
	v.SetDefault("chunker.overlap", ch.Overlap)
	v.SetDefault("metrics.detail_capacity", mt.DetailCapacity)
	v.SetDefault("metrics.snapshot_details", mt.SnapshotDetails)
	v.SetDefault("fetcher.user_agent", "corpus-refinery/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.max_retries", 2)
	v.SetDefault("fetcher.backoff_initial_ms", 250)
	v.SetDefault("fetcher.backoff_max_ms", 2000)
	v.SetDefault("fetcher.max_body_bytes", 10<<20)
	v.SetDefault("fetcher.per_host_rps", 0)
	v.SetDefault("fetcher.per_host_burst", 1)
	v.SetDefault("urlcache.backend", "memory")
	v.SetDefault("urlcache.path", "url_cache.db")
	v.SetDefault("sink.kind", "memory")
	v.SetDefault("sink.blob_backend", "local")
	v.SetDefault("sink.base_dir", "chunks")
	v.SetDefault("sink.prefix", "deliveries")
	v.SetDefault("sink.topic", "corpus-chunks")
	v.SetDefault("workflow.backend", "noop")
	v.SetDefault("workflow.host_port", "localhost:7233")
	v.SetDefault("workflow.namespace", "default")
	v.SetDefault("workflow.task_queue", "corpus-refinery")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.prometheus", true)
	v.SetDefault("progress.postgres_dsn", "")
	v.SetDefault("pdf.enabled", true)
	v.SetDefault("pdf.binary", "pdftotext")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if err := c.Dedup.Validate(); err != nil {
		return err
	}
	if err := c.Chunker.Validate(); err != nil {
		return err
	}
	switch c.URLCache.Backend {
	case "memory":
	case "sqlite":
		if c.URLCache.Path == "" {
			return fmt.Errorf("urlcache.path must be set for the sqlite backend")
		}
	case "postgres":
		if c.URLCache.DSN == "" {
			return fmt.Errorf("urlcache.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("urlcache.backend %q is not supported", c.URLCache.Backend)
	}
	for category, days := range c.URLCache.MaxAgeDays {
		if days < 0 {
			return fmt.Errorf("urlcache.max_age_days.%s must be >= 0", category)
		}
	}
	switch c.Sink.Kind {
	case "memory":
	case "blob":
		switch c.Sink.BlobBackend {
		case "local", "memory":
		case "gcs":
			if c.Sink.GCSBucket == "" {
				return fmt.Errorf("sink.gcs_bucket must be set for the gcs blob backend")
			}
		default:
			return fmt.Errorf("sink.blob_backend %q is not supported", c.Sink.BlobBackend)
		}
	case "pubsub":
		if c.Sink.ProjectID == "" || c.Sink.Topic == "" {
			return fmt.Errorf("sink.project_id and sink.topic must be set for the pubsub sink")
		}
	default:
		return fmt.Errorf("sink.kind %q is not supported", c.Sink.Kind)
	}
	switch c.Workflow.Backend {
	case "noop":
	case "temporal":
		if c.Workflow.HostPort == "" || c.Workflow.TaskQueue == "" {
			return fmt.Errorf("workflow.host_port and workflow.task_queue must be set for temporal")
		}
	default:
		return fmt.Errorf("workflow.backend %q is not supported", c.Workflow.Backend)
	}
	return nil
}

// FetchTimeout converts the fetcher timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// FetchBackoff returns the initial and maximum retry backoff.
func (c Config) FetchBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Fetcher.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Fetcher.BackoffMaxMs) * time.Millisecond
}

// MaxAges converts the configured per-category day counts into durations.
func (c Config) MaxAges() map[string]time.Duration {
	if len(c.URLCache.MaxAgeDays) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(c.URLCache.MaxAgeDays))
	for category, days := range c.URLCache.MaxAgeDays {
		out[category] = time.Duration(days) * 24 * time.Hour
	}
	return out
}
