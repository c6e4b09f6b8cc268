// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/app"
	"github.com/JakeFAU/corpus-refinery/internal/clock/system"
	"github.com/JakeFAU/corpus-refinery/internal/config"
	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	"github.com/JakeFAU/corpus-refinery/internal/pdf"
	"github.com/JakeFAU/corpus-refinery/internal/pipeline"
	"github.com/JakeFAU/corpus-refinery/internal/sink"
	urlsqlite "github.com/JakeFAU/corpus-refinery/internal/urlcache/sqlite"
	"github.com/JakeFAU/corpus-refinery/internal/workflow"
)

// MockFetcher mocks the corpus.Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

// Fetch satisfies the corpus.Fetcher interface for the mock.
func (m *MockFetcher) Fetch(ctx context.Context, url string) (corpus.FetchResult, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(corpus.FetchResult), args.Error(1)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Pipeline.Workers = 2
	cfg.Progress.Enabled = false
	return cfg
}

func page(url string, seed int) corpus.FetchResult {
	words := make([]string, 180)
	for i := range words {
		words[i] = fmt.Sprintf("lehre%dw%d", seed, i%60)
	}
	body := "<html><body><main><h2>Studium</h2><p>" + strings.Join(words, " ") + ".</p></main></body></html>"
	return corpus.FetchResult{
		URL:         url,
		Kind:        corpus.SourceHTML,
		Body:        []byte(body),
		ContentType: "text/html",
		StatusCode:  http.StatusOK,
	}
}

func newFetcher() *MockFetcher {
	f := new(MockFetcher)
	f.On("Fetch", mock.Anything, "https://uni.example/a").Return(page("https://uni.example/a", 1), nil)
	f.On("Fetch", mock.Anything, "https://uni.example/b").Return(page("https://uni.example/b", 2), nil)
	f.On("Fetch", mock.Anything, "https://uni.example/c").Return(corpus.FetchResult{
		URL:        "https://uni.example/c",
		StatusCode: http.StatusNotFound,
	}, nil)
	return f
}

var sessionURLs = []string{"https://uni.example/a", "https://uni.example/b", "https://uni.example/c"}

func TestRunSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := newFetcher()
	mem := sink.NewMemory()
	a, err := app.New(ctx, testConfig(t), zap.NewNop(),
		app.WithFetcher(fetcher),
		app.WithSink(mem),
		app.WithPDFExtractor(pdf.Disabled{}),
	)
	require.NoError(t, err)
	defer a.Close(ctx)

	session, result, err := a.RunSession(ctx, workflow.IngestRequest{
		SessionID:       "7d0c8f0e-5d1e-4c55-9f0b-0d7d8c1b2a3e",
		URLs:            sessionURLs,
		Category:        "static",
		PreserveHeaders: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "7d0c8f0e-5d1e-4c55-9f0b-0d7d8c1b2a3e", session.SessionID())
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, mem.ChunkCount(), result.Chunks)
	assert.Len(t, mem.Deliveries(), 2)

	counters := session.Metrics().Counters()
	assert.Equal(t, 3, counters.URLsCrawled)
	assert.Equal(t, 1, counters.URLsFailed)

	// Every URL now has a fresh cache row, so a second session fetches nothing.
	_, result, err = a.RunSession(ctx, workflow.IngestRequest{SessionID: "second", URLs: sessionURLs, Category: "static"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Skipped)
	fetcher.AssertNumberOfCalls(t, "Fetch", 3)

	// Force bypasses the cache.
	_, result, err = a.RunSession(ctx, workflow.IngestRequest{URLs: sessionURLs[:1], Category: "static", Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
}

func TestNoopWorkflowRunsIngest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := sink.NewMemory()
	a, err := app.New(ctx, testConfig(t), zap.NewNop(),
		app.WithFetcher(newFetcher()),
		app.WithSink(mem),
		app.WithPDFExtractor(pdf.Disabled{}),
	)
	require.NoError(t, err)
	defer a.Close(ctx)

	run, err := a.Workflow().StartIngest(ctx, workflow.IngestRequest{SessionID: "s-1", URLs: sessionURLs[:2]})
	require.NoError(t, err)
	assert.True(t, run.Simulated)
	require.NotNil(t, run.Result)
	assert.Equal(t, 2, run.Result.Delivered)
	assert.Nil(t, a.NewTemporalWorker())
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, err := app.New(ctx, testConfig(t), zap.NewNop(), app.WithFetcher(newFetcher()))
	require.NoError(t, err)
	defer a.Close(ctx)

	session, err := a.NewSession(pipeline.Options{PreserveHeaders: true})
	require.NoError(t, err)
	srv, err := a.NewServer(session)
	require.NoError(t, err)

	for path, want := range map[string]string{
		"/healthz": `"ok"`,
		"/readyz":  `"ready"`,
		"/metrics": "go_goroutines",
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), want, path)
	}
}

func TestNewWithSQLiteCacheAndBlobSink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.URLCache.Backend = "sqlite"
	cfg.URLCache.Path = filepath.Join(dir, "cache.db")
	cfg.Sink.Kind = "blob"
	cfg.Sink.BlobBackend = "local"
	cfg.Sink.BaseDir = filepath.Join(dir, "chunks")

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a, err := app.New(ctx, cfg, zap.NewNop(),
		app.WithFetcher(newFetcher()),
		app.WithPDFExtractor(pdf.Disabled{}),
		app.WithClock(system.NewManual(now)),
	)
	require.NoError(t, err)
	defer a.Close(ctx)
	assert.IsType(t, &urlsqlite.Cache{}, a.Cache())

	_, result, err := a.RunSession(ctx, workflow.IngestRequest{URLs: sessionURLs[:2]})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Delivered)

	var files int
	require.NoError(t, filepath.WalkDir(cfg.Sink.BaseDir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			files++
		}
		return err
	}))
	assert.Equal(t, 2, files)

	row, ok, err := a.Cache().Lookup(ctx, "https://uni.example/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, row.Success)
	assert.True(t, now.Equal(row.LastScraped))
}

func TestNewConfigErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		mutate        func(*config.Config)
		expectedError string
	}{
		{
			name:          "unknown url cache backend",
			mutate:        func(c *config.Config) { c.URLCache.Backend = "redis" },
			expectedError: "unknown url cache backend: redis",
		},
		{
			name:          "unknown sink kind",
			mutate:        func(c *config.Config) { c.Sink.Kind = "kafka" },
			expectedError: "unknown sink kind: kafka",
		},
		{
			name: "unknown blob backend",
			mutate: func(c *config.Config) {
				c.Sink.Kind = "blob"
				c.Sink.BlobBackend = "s3"
			},
			expectedError: "unknown blob backend: s3",
		},
		{
			name:          "unknown workflow backend",
			mutate:        func(c *config.Config) { c.Workflow.Backend = "airflow" },
			expectedError: "unknown workflow backend: airflow",
		},
		{
			name: "invalid chunker config",
			mutate: func(c *config.Config) {
				c.Chunker.MinChunkSize = c.Chunker.MaxChunkSize + 1
			},
			expectedError: "init refiners",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tc.mutate(&cfg)
			_, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithPDFExtractor(pdf.Disabled{}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedError)
		})
	}
}
