package lognotifier

import (
	"context"
	"log/slog"

	"github.com/BearBump/StubbleTrack/internal/integrations/notifier"
)

// Notifier только пишет уведомление в лог (локальный запуск, без webhook).
type Notifier struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{log: log}
}

func (n *Notifier) Notify(ctx context.Context, nt notifier.Notification) error {
	n.log.InfoContext(ctx, "notification",
		"event_id", nt.EventID,
		"user_id", nt.UserID,
		"load_id", nt.LoadID.String(),
		"trigger", nt.Trigger,
		"status", nt.Status,
		"text", nt.Text,
	)
	return nil
}
