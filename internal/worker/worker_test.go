package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	"github.com/JakeFAU/corpus-refinery/internal/pipeline"
	"github.com/JakeFAU/corpus-refinery/internal/queue/memory"
)

func TestWorkerProcessesUntilQueueClosed(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	fetcher := &fakeFetcher{responses: map[string]corpus.FetchResult{
		"https://uni.example/a": {URL: "https://uni.example/a", StatusCode: http.StatusOK, Body: []byte("<p>a</p>")},
	}}
	proc := &fakeProcessor{}
	var outcomes outcomeLog

	w := New(q, fetcher, proc, outcomes.add, Config{}, zap.NewNop())
	require.NoError(t, q.Enqueue(context.Background(), corpus.WorkItem{URL: "https://uni.example/a", Category: "news"}))
	require.NoError(t, q.Enqueue(context.Background(), corpus.WorkItem{
		URL:        "file:///tmp/b.txt",
		Kind:       corpus.SourceText,
		Prefetched: &corpus.FetchResult{Body: []byte("plain text")},
	}))
	q.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}

	got := proc.results()
	require.Len(t, got, 2)
	assert.Equal(t, "news", got[0].Category)
	assert.Equal(t, "file:///tmp/b.txt", got[1].URL)
	assert.Equal(t, corpus.SourceText, got[1].Kind)
	assert.Equal(t, 1, fetcher.calls("https://uni.example/a"))
	assert.Len(t, outcomes.all(), 2)
}

func TestWorkerSkipsFreshURLs(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	fetcher := &fakeFetcher{}
	proc := &fakeProcessor{skip: map[string]bool{"https://uni.example/fresh": true}}
	var outcomes outcomeLog

	w := New(q, fetcher, proc, outcomes.add, Config{}, nil)
	require.NoError(t, q.Enqueue(context.Background(), corpus.WorkItem{URL: "https://uni.example/fresh"}))
	q.Close()
	w.Run(context.Background())

	assert.Zero(t, fetcher.calls("https://uni.example/fresh"))
	assert.Empty(t, proc.results())
	require.Len(t, outcomes.all(), 1)
	assert.Equal(t, pipeline.StatusSkipped, outcomes.all()[0].Status)
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fails      int
		maxRetries int
		wantCalls  int
		wantErr    bool
	}{
		{name: "recovers", fails: 2, maxRetries: 3, wantCalls: 3},
		{name: "gives up", fails: 5, maxRetries: 2, wantCalls: 3, wantErr: true},
		{name: "no retries", fails: 1, maxRetries: 0, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fetcher := &flakyFetcher{fails: tt.fails}
			w := New(nil, fetcher, nil, nil, Config{
				MaxRetries:     tt.maxRetries,
				BackoffInitial: time.Millisecond,
				BackoffMax:     2 * time.Millisecond,
			}, zap.NewNop())

			res := w.fetch(context.Background(), "https://uni.example/x")
			assert.Equal(t, tt.wantCalls, fetcher.attempts)
			if tt.wantErr {
				require.Error(t, res.Err)
			} else {
				require.NoError(t, res.Err)
				assert.Equal(t, http.StatusOK, res.StatusCode)
			}
		})
	}
}

func TestWorkerRetriesServerErrors(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]corpus.FetchResult{
		"https://uni.example/500": {StatusCode: http.StatusBadGateway},
		"https://uni.example/404": {StatusCode: http.StatusNotFound},
	}}
	w := New(nil, fetcher, nil, nil, Config{MaxRetries: 2, BackoffInitial: time.Millisecond}, zap.NewNop())

	assert.Equal(t, http.StatusBadGateway, w.fetch(context.Background(), "https://uni.example/500").StatusCode)
	assert.Equal(t, 3, fetcher.calls("https://uni.example/500"))
	w.fetch(context.Background(), "https://uni.example/404")
	assert.Equal(t, 1, fetcher.calls("https://uni.example/404"))
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	w := New(memory.NewQueue(1), nil, &fakeProcessor{}, nil, Config{}, zap.NewNop())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerWithoutFetcherFails(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{}
	w := New(nil, nil, proc, nil, Config{}, zap.NewNop())
	out := w.handle(context.Background(), corpus.WorkItem{URL: "https://uni.example/y"})
	assert.Equal(t, pipeline.StatusFailed, out.Status)
	require.Len(t, proc.results(), 1)
	require.Error(t, proc.results()[0].Err)
}

func TestWorkerWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]corpus.FetchResult{
		"https://uni.example/a": {StatusCode: http.StatusOK},
	}}
	limiter := &fakeLimiter{}
	w := New(nil, fetcher, nil, nil, Config{Limiter: limiter}, zap.NewNop())

	res := w.fetch(context.Background(), "https://uni.example/a")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"https://uni.example/a"}, limiter.urls)

	limiter.err = errors.New("rate limit wait: context deadline exceeded")
	res = w.fetch(context.Background(), "https://uni.example/a")
	require.ErrorContains(t, res.Err, "rate limit wait")
	assert.Equal(t, 1, fetcher.calls("https://uni.example/a"))
}

type fakeLimiter struct {
	urls []string
	err  error
}

func (l *fakeLimiter) Wait(_ context.Context, url string) error {
	l.urls = append(l.urls, url)
	return l.err
}

type fakeProcessor struct {
	mu   sync.Mutex
	skip map[string]bool
	seen []corpus.FetchResult
}

func (p *fakeProcessor) ShouldFetch(_ context.Context, url, _ string) bool {
	return !p.skip[url]
}

func (p *fakeProcessor) Process(_ context.Context, res corpus.FetchResult) (pipeline.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, res)
	if res.Err != nil {
		return pipeline.Outcome{URL: res.URL, Status: pipeline.StatusFailed}, res.Err
	}
	return pipeline.Outcome{URL: res.URL, Status: pipeline.StatusDelivered, Chunks: 1}, nil
}

func (p *fakeProcessor) results() []corpus.FetchResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]corpus.FetchResult(nil), p.seen...)
}

type outcomeLog struct {
	mu  sync.Mutex
	out []pipeline.Outcome
}

func (l *outcomeLog) add(o pipeline.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out, o)
}

func (l *outcomeLog) all() []pipeline.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]pipeline.Outcome(nil), l.out...)
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]corpus.FetchResult
	counts    map[string]int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (corpus.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[url]++
	res, ok := f.responses[url]
	if !ok {
		return corpus.FetchResult{URL: url}, errors.New("not found")
	}
	return res, nil
}

func (f *fakeFetcher) calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

type flakyFetcher struct {
	attempts int
	fails    int
}

func (f *flakyFetcher) Fetch(_ context.Context, url string) (corpus.FetchResult, error) {
	f.attempts++
	if f.attempts <= f.fails {
		return corpus.FetchResult{URL: url}, errors.New("transient error")
	}
	return corpus.FetchResult{URL: url, StatusCode: http.StatusOK, Body: []byte("ok")}, nil
}
