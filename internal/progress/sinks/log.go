package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

// LogSink emits structured logs for each checkpoint. Useful in development or
// when no run store is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Provider != "" {
			fields = append(fields, zap.String("provider", evt.Provider))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.Bool("success", evt.Success))
		}
		if evt.Reason != "" {
			fields = append(fields, zap.String("reason", evt.Reason))
		}
		if evt.Count > 0 {
			fields = append(fields, zap.Int("count", evt.Count))
		}
		if evt.Attempted > 0 {
			fields = append(fields,
				zap.Int("attempted", evt.Attempted),
				zap.Int("successful", evt.Successful),
				zap.Int("failed", evt.Failed),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageRunError || evt.Stage == progress.StageSourceFailed {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
