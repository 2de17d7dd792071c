// Package events holds the observability sinks the dispatcher reports to.
package events

import (
	"context"
	"log/slog"

	"github.com/dontdude/feedrelay/internal/domain"
)

// LogSink writes events as structured log records.
type LogSink struct {
	log *slog.Logger
}

var _ domain.EventSink = (*LogSink)(nil)

// NewLogSink returns a sink writing to l, or slog.Default() when l is nil.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{log: l}
}

func (s *LogSink) Emit(ctx context.Context, ev domain.Event) {
	attrs := []any{"event", string(ev.Type), "attempts", ev.Attempts}
	if ev.JobID != "" {
		attrs = append(attrs, "jobID", ev.JobID, "chatID", ev.ChatID, "link", ev.Link)
	}
	if ev.Cooldown > 0 {
		attrs = append(attrs, "cooldown", ev.Cooldown)
	}
	if ev.Error != "" {
		attrs = append(attrs, "error", ev.Error)
	}
	s.log.Log(ctx, levelFor(ev.Type), "Job event", attrs...)
}

func levelFor(t domain.EventType) slog.Level {
	switch t {
	case domain.EventDispatch:
		return slog.LevelDebug
	case domain.EventRetry, domain.EventStalled:
		return slog.LevelWarn
	case domain.EventFailed:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Multi fans an event out to every sink in order.
type Multi []domain.EventSink

func (m Multi) Emit(ctx context.Context, ev domain.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}
