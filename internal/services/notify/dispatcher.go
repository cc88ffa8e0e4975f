// Package notify consumes LoadTransitioned messages: it settles the carbon
// credit of recycled loads and forwards notices to the affected users.
package notify

import (
	"context"
	"log/slog"

	"github.com/BearBump/StubbleTrack/internal/broker/messages"
	"github.com/BearBump/StubbleTrack/internal/integrations/notifier"
	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type CreditSettler interface {
	SettleCredit(ctx context.Context, loadID uuid.UUID) (models.CarbonCredit, error)
}

type Dispatcher struct {
	settler  CreditSettler
	notifier notifier.Client
}

func New(settler CreditSettler, n notifier.Client) *Dispatcher {
	return &Dispatcher{settler: settler, notifier: n}
}

// Handle is safe to call again for the same message. A returned error leaves
// the message uncommitted so the broker redelivers it. Settlement errors that
// no retry can fix are logged and the message is acknowledged.
func (d *Dispatcher) Handle(ctx context.Context, key, value []byte) error {
	msg, err := messages.UnmarshalLoadTransitioned(value)
	if err != nil {
		// битое сообщение повторять бессмысленно
		slog.Error("drop malformed load event", "key", string(key), "error", err.Error())
		return nil
	}

	if msg.ToStatus == string(models.LoadStatusRecycled) && d.settler != nil {
		credit, err := d.settler.SettleCredit(ctx, msg.LoadID)
		if isPermanent(err) {
			slog.Error("drop load event, credit cannot be settled",
				"event_id", msg.EventID,
				"load_id", msg.LoadID.String(),
				"error", err.Error(),
			)
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "settle credit for load %s", msg.LoadID)
		}
		slog.Info("carbon credit settled", "load_id", msg.LoadID.String(), "user_id", credit.UserID, "offset_kg", credit.OffsetKg)
	}

	if d.notifier == nil {
		return nil
	}
	for _, n := range notifier.FromMessage(msg) {
		if err := d.notifier.Notify(ctx, n); err != nil {
			return errors.Wrapf(err, "notify user %s", n.UserID)
		}
	}
	return nil
}

func isPermanent(err error) bool {
	return errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidState) ||
		errors.Is(err, models.ErrValidation)
}
