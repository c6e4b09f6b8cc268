package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/corpus-refinery/internal/progress"
)

// PrometheusSink exports pipeline progress as Prometheus collectors.
type PrometheusSink struct {
	sessionsStarted prometheus.Counter
	sessionsRunning prometheus.Gauge
	sessionRuntime  prometheus.Histogram

	fetched       *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration *prometheus.HistogramVec

	outcomes   *prometheus.CounterVec
	chunks     prometheus.Histogram
	similarity prometheus.Histogram
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corpus_sessions_started_total",
			Help: "Ingest sessions started.",
		}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corpus_sessions_running",
			Help: "Ingest sessions currently running.",
		}),
		sessionRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_session_runtime_seconds",
			Help:    "Wall time per completed ingest session.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_documents_fetched_total",
			Help: "Documents handed to the pipeline by status class.",
		}, []string{"status_class"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corpus_fetch_bytes_total",
			Help: "Raw bytes handed to the pipeline.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpus_fetch_duration_seconds",
			Help:    "Fetch latency reported with each document.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"status_class"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_document_outcomes_total",
			Help: "Documents by pipeline outcome.",
		}, []string{"outcome"}),
		chunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_chunks_per_document",
			Help:    "Chunks produced per accepted document.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		similarity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_duplicate_similarity",
			Help:    "Similarity of rejected documents to their match.",
			Buckets: []float64{0.85, 0.9, 0.95, 0.99, 1},
		}),
	}
	for _, c := range []prometheus.Collector{
		s.sessionsStarted, s.sessionsRunning, s.sessionRuntime,
		s.fetched, s.fetchBytes, s.fetchDuration,
		s.outcomes, s.chunks, s.similarity,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSessionStart:
			s.sessionsStarted.Inc()
			s.sessionsRunning.Inc()
		case progress.StageSessionDone:
			s.sessionsRunning.Dec()
			if evt.Dur > 0 {
				s.sessionRuntime.Observe(evt.Dur.Seconds())
			}
		case progress.StageFetched:
			class := string(evt.StatusClass)
			s.fetched.WithLabelValues(class).Inc()
			if evt.Bytes > 0 {
				s.fetchBytes.Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(class).Observe(evt.Dur.Seconds())
			}
		case progress.StageChunked:
			s.outcomes.WithLabelValues(outcomeLabel(evt.Stage)).Inc()
			s.chunks.Observe(float64(evt.Chunks))
		case progress.StageDuplicate:
			s.outcomes.WithLabelValues(outcomeLabel(evt.Stage)).Inc()
			s.similarity.Observe(evt.Similarity)
		case progress.StageSkipped, progress.StageInsubstantial, progress.StageDelivered, progress.StageFailed:
			s.outcomes.WithLabelValues(outcomeLabel(evt.Stage)).Inc()
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func outcomeLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageSkipped:
		return "skipped"
	case progress.StageDuplicate:
		return "duplicate"
	case progress.StageInsubstantial:
		return "insubstantial"
	case progress.StageChunked:
		return "chunked"
	case progress.StageDelivered:
		return "delivered"
	default:
		return "failed"
	}
}
