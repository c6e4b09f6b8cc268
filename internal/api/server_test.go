package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/chunker"
	"github.com/JakeFAU/corpus-refinery/internal/cleaner"
	"github.com/JakeFAU/corpus-refinery/internal/clock/system"
	"github.com/JakeFAU/corpus-refinery/internal/config"
	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	"github.com/JakeFAU/corpus-refinery/internal/dedup"
	"github.com/JakeFAU/corpus-refinery/internal/metrics"
	"github.com/JakeFAU/corpus-refinery/internal/pipeline"
	"github.com/JakeFAU/corpus-refinery/internal/scrapemetrics"
	"github.com/JakeFAU/corpus-refinery/internal/sink"
	"github.com/JakeFAU/corpus-refinery/internal/urlcache"
	urlmemory "github.com/JakeFAU/corpus-refinery/internal/urlcache/memory"
	"github.com/JakeFAU/corpus-refinery/internal/workflow"
)

type testEnv struct {
	server *Server
	sink   *sink.Memory
	cache  *urlmemory.Cache
	clock  *system.Manual
}

func newTestEnv(t *testing.T, auth config.AuthConfig, wf workflow.Client) testEnv {
	t.Helper()
	cl, err := cleaner.New(cleaner.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	ch, err := chunker.New(chunker.Config{MaxChunkSize: 400, MinChunkSize: 50, Overlap: 40}, zap.NewNop())
	require.NoError(t, err)

	clock := system.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	env := testEnv{sink: sink.NewMemory(), cache: urlmemory.New(), clock: clock}
	policy := urlcache.NewPolicy(nil, clock, zap.NewNop())
	p, err := pipeline.New(pipeline.Deps{
		Cleaner: cl,
		Dedup:   dedup.New(dedup.DefaultConfig(), zap.NewNop()),
		Chunker: ch,
		Metrics: scrapemetrics.New(scrapemetrics.DefaultConfig(), clock),
		Sink:    env.sink,
		Cache:   env.cache,
		Policy:  policy,
		Clock:   clock,
	}, pipeline.Options{PreserveHeaders: true, Workers: 2})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	env.server, err = NewServer(Deps{
		Pipeline: p,
		Workflow: wf,
		Cache:    env.cache,
		Policy:   policy,
		Gatherer: reg,
		HTTP:     metrics.NewHTTP(reg),
	}, auth)
	require.NoError(t, err)
	return env
}

func (e testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func page(seed int) string {
	words := make([]string, 180)
	for i := range words {
		words[i] = fmt.Sprintf("wort%dx%d", seed, i%60)
	}
	return "<html><body><main><h2>Studium</h2><p>" + strings.Join(words, " ") + ".</p></main></body></html>"
}

func TestNewServerRequiresPipeline(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Deps{}, config.AuthConfig{})
	require.Error(t, err)
}

func TestServer_HealthAndReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ReadyzReportsDownstreamFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	env.server.deps.Ready = func(context.Context) error { return errors.New("cache unavailable") }

	rec := env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache unavailable")
}

func TestServer_SubmitDocument(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	rec := env.do(t, http.MethodPost, "/v1/documents", map[string]any{
		"url":      "https://uni.example/studium",
		"category": "static",
		"content":  page(1),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var out pipeline.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, pipeline.StatusDelivered, out.Status)
	assert.Positive(t, out.Chunks)
	require.Len(t, env.sink.Deliveries(), 1)

	// A second submission inside the freshness window is skipped.
	rec = env.do(t, http.MethodPost, "/v1/documents", map[string]any{
		"url":      "https://uni.example/studium",
		"category": "static",
		"content":  page(1),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, pipeline.StatusSkipped, out.Status)
}

func TestServer_SubmitDocument_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	tests := []struct {
		name string
		body any
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "missing url", body: map[string]any{"content": "x"}, want: "url required"},
		{name: "missing content", body: map[string]any{"url": "https://uni.example/a"}, want: "content required"},
		{name: "bad kind", body: map[string]any{"url": "https://uni.example/a", "kind": "docx", "content": "x"}, want: "unsupported kind"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/documents", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestServer_SubmitDocument_FetchFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	rec := env.do(t, http.MethodPost, "/v1/documents", map[string]any{
		"url":         "https://uni.example/gone",
		"content":     "not found",
		"status_code": 404,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "http 404")
}

func TestServer_SubmitBatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	docs := []map[string]any{
		{"url": "https://uni.example/a", "content": page(1)},
		{"url": "https://uni.example/b", "content": page(2)},
		{"url": "https://uni.example/c", "kind": "text", "content": "zu kurz"},
	}
	rec := env.do(t, http.MethodPost, "/v1/documents/batch", map[string]any{"documents": docs})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Outcomes, 3)
	assert.Equal(t, "https://uni.example/a", resp.Outcomes[0].URL)
	assert.Equal(t, pipeline.StatusDelivered, resp.Outcomes[1].Status)
	assert.Equal(t, pipeline.StatusInsubstantial, resp.Outcomes[2].Status)
	assert.Empty(t, resp.Error)

	rec = env.do(t, http.MethodPost, "/v1/documents/batch", map[string]any{"documents": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StartIngest(t *testing.T) {
	t.Parallel()

	var got workflow.IngestRequest
	wf := workflow.NewNoop(func(_ context.Context, req workflow.IngestRequest) (workflow.IngestResult, error) {
		got = req
		return workflow.IngestResult{Delivered: len(req.URLs)}, nil
	}, zap.NewNop())
	env := newTestEnv(t, config.AuthConfig{}, wf)

	rec := env.do(t, http.MethodPost, "/v1/ingest", map[string]any{
		"urls":     []string{"https://uni.example/a", "https://uni.example/b"},
		"category": "news",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Simulated)
	assert.Equal(t, "ingest-"+resp.SessionID, resp.WorkflowID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 2, resp.Result.Delivered)
	assert.Equal(t, "news", got.Category)
	assert.True(t, got.PreserveHeaders)

	rec = env.do(t, http.MethodPost, "/v1/ingest", map[string]any{"urls": []string{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StartIngest_WithoutWorkflow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	rec := env.do(t, http.MethodPost, "/v1/ingest", map[string]any{"urls": []string{"https://uni.example"}})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	for i, url := range []string{"https://uni.example/a", "https://uni.example/b"} {
		rec := env.do(t, http.MethodPost, "/v1/documents", map[string]any{"url": url, "content": page(i)})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/stats?details=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap scrapemetrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.Counters.URLsCrawled)
	assert.Len(t, snap.URLDetails, 1)

	rec = env.do(t, http.MethodGet, "/v1/stats?details=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/stats/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.NotEmpty(t, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/dedup/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats dedup.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.UniqueURLs)
}

func TestServer_Cache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	require.NoError(t, env.cache.Upsert(context.Background(), corpus.CachedURL{
		URL:         "https://uni.example/news/1",
		Category:    "news",
		LastScraped: env.clock.Now(),
		Success:     true,
		StatusCode:  200,
	}))

	rec := env.do(t, http.MethodGet, "/v1/cache?url=https://uni.example/news/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry cacheEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.True(t, entry.Fresh)
	assert.Equal(t, "24h0m0s", entry.MaxAge)

	rec = env.do(t, http.MethodGet, "/v1/cache/policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"modulhandbuch":"2160h0m0s"`)

	rec = env.do(t, http.MethodDelete, "/v1/cache?url=https://uni.example/news/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.cache.Len())

	rec = env.do(t, http.MethodGet, "/v1/cache?url=https://uni.example/news/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/cache", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{Enabled: true, APIKey: "secret"}, nil)

	rec := env.do(t, http.MethodGet, "/v1/dedup/stats", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/dedup/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/dedup/stats?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	env.do(t, http.MethodGet, "/healthz", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `corpus_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDMiddlewareKeepsIncomingID(t *testing.T) {
	t.Parallel()

	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(requestIDKey{}).(string)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
