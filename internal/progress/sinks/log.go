package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress"
)

// LogSink emits structured logs for session and run events. Status snapshots
// are logged at debug level since they repeat on every item.
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
		fields := []zap.Field{zap.String("kind", string(evt.Kind))}
		switch evt.Kind {
		case progress.KindArtifact:
			s.logger.Info("session login code refreshed", fields...)
		case progress.KindReady:
			s.logger.Info("session ready", fields...)
		case progress.KindUnready:
			s.logger.Warn("session not ready", append(fields, zap.String("reason", evt.Reason))...)
		case progress.KindStatus:
			snap := evt.Snapshot
			s.logger.Debug("run status",
				append(fields,
					zap.Bool("running", snap.Running),
					zap.Int("processed", snap.Processed),
					zap.Int("total", snap.Total),
				)...,
			)
		case progress.KindProgress:
			item := evt.Item
			s.logger.Info("number verified",
				append(fields,
					zap.String("digits", item.Identifier.String()),
					zap.String("result", string(item.Result)),
					zap.String("via", string(item.Via)),
					zap.String("reason", item.Reason),
				)...,
			)
		case progress.KindDone:
			s.logger.Info("run finished",
				append(fields,
					zap.String("report", evt.ReportID),
					zap.Duration("dur", evt.Dur),
				)...,
			)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
