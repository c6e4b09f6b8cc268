package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event. Failures are logged at warn level, everything
// else at debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Category != "" {
			fields = append(fields, zap.String("category", evt.Category))
		}
		switch evt.Stage {
		case progress.StageFetched:
			fields = append(fields,
				zap.Int64("bytes", evt.Bytes),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageChunked:
			fields = append(fields, zap.Int("chunks", evt.Chunks))
		case progress.StageDuplicate:
			fields = append(fields, zap.Float64("similarity", evt.Similarity))
		case progress.StageSessionDone:
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageFailed {
			s.logger.Warn("pipeline event", fields...)
			continue
		}
		s.logger.Debug("pipeline event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
