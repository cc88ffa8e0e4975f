// Package notifier delivers per-user notices about custody transitions.
// Push delivery itself is an external collaborator; clients here only hand off.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/StubbleTrack/internal/broker/messages"
	"github.com/google/uuid"
)

type Notification struct {
	EventID    uint64    `json:"eventId"`
	UserID     string    `json:"userId"`
	LoadID     uuid.UUID `json:"loadId"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Client interface {
	Notify(ctx context.Context, n Notification) error
}

// FromMessage fans a transition out to every affected user.
func FromMessage(m messages.LoadTransitioned) []Notification {
	out := make([]Notification, 0, len(m.AffectedUserIDs))
	for _, uid := range m.AffectedUserIDs {
		out = append(out, Notification{
			EventID:    m.EventID,
			UserID:     uid,
			LoadID:     m.LoadID,
			Trigger:    m.Trigger,
			Status:     m.ToStatus,
			Text:       text(m),
			OccurredAt: m.OccurredAt,
		})
	}
	return out
}

func text(m messages.LoadTransitioned) string {
	short := m.LoadID.String()[:8]
	switch m.Trigger {
	case "claim":
		return fmt.Sprintf("Load %s was claimed by a collection agent", short)
	case "start":
		return fmt.Sprintf("Load %s is on its way", short)
	case "deliver":
		return fmt.Sprintf("Load %s was delivered to the recycling facility", short)
	case "recycle":
		return fmt.Sprintf("Load %s was recycled, carbon credit issued", short)
	case "cancel":
		return fmt.Sprintf("Load %s was cancelled", short)
	default:
		return fmt.Sprintf("Load %s is now %s", short, m.ToStatus)
	}
}
