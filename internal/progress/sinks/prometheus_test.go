package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/corpus-refinery/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{SessionID: id, TS: now, Stage: progress.StageSessionStart},
		{SessionID: id, TS: now, Stage: progress.StageFetched, URL: "a", Bytes: 2048, StatusClass: progress.Status2xx, Dur: 300 * time.Millisecond},
		{SessionID: id, TS: now, Stage: progress.StageChunked, URL: "a", Chunks: 3},
		{SessionID: id, TS: now, Stage: progress.StageDelivered, URL: "a"},
		{SessionID: id, TS: now, Stage: progress.StageDuplicate, URL: "b", Similarity: 0.9},
		{SessionID: id, TS: now, Stage: progress.StageFailed, URL: "c", Note: "sink"},
		{SessionID: id, TS: now, Stage: progress.StageSessionDone, Dur: 12 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sessionsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetched.WithLabelValues("2xx")))
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.fetchBytes), 1e-9)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.outcomes.WithLabelValues("chunked")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.outcomes.WithLabelValues("delivered")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.outcomes.WithLabelValues("duplicate")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.outcomes.WithLabelValues("failed")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "corpus_fetch_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.chunks, "corpus_chunks_per_document"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	id := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: id, TS: time.Now(), Stage: progress.StageChunked, URL: "a", Chunks: 2},
		{SessionID: id, TS: time.Now(), Stage: progress.StageFailed, URL: "b", Note: "fetch failed"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.DebugLevel, entries[0].Level)
	require.Equal(t, int64(2), entries[0].ContextMap()["chunks"])
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "fetch failed", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
