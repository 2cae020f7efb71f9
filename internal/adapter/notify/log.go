// Package notify delivers domain events to the notification dispatcher.
// Delivery is fire-and-forget: failures are logged, never returned.
package notify

import (
	"context"
	"log/slog"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// LogNotifier writes events to the structured log. It is the default when no
// broker is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("adapter", "notify_log")}
}

func (n *LogNotifier) Notify(ctx context.Context, ev domain.Event) {
	attrs := []any{
		slog.String("type", ev.Type.String()),
		slog.String("request_id", ev.RequestID.String()),
		slog.Time("occurred_at", ev.OccurredAt),
	}
	if ev.MatchID != nil {
		attrs = append(attrs, slog.String("match_id", ev.MatchID.String()))
	}
	if ev.UnitID != nil {
		attrs = append(attrs, slog.String("unit_id", ev.UnitID.String()))
	}
	for k, v := range ev.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	n.log.InfoContext(ctx, "event", attrs...)
}
