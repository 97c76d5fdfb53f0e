package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes events to the structured log
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID.String()),
		zap.String("event_type", e.Type),
		zap.String("subject_id", e.SubjectID.String()),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.AccountID != nil {
		fields = append(fields, zap.String("account_id", e.AccountID.String()))
	}
	if len(e.Data) > 0 {
		fields = append(fields, zap.Any("data", e.Data))
	}
	n.log.Info("event", fields...)
	return nil
}
