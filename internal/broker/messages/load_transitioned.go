package messages

import (
	"encoding/json"
	"time"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LoadTransitioned is published once per committed custody transition.
// Kafka key is the load id.
type LoadTransitioned struct {
	EventID    uint64    `json:"event_id"`
	LoadID     uuid.UUID `json:"load_id"`
	Trigger    string    `json:"trigger"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	OwnerID    string    `json:"owner_id"`

	AssignedAgentID *string `json:"assigned_agent_id,omitempty"`

	// AffectedUserIDs: кому слать уведомление (владелец и агент, без инициатора).
	AffectedUserIDs []string  `json:"affected_user_ids"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func FromEvent(e *models.LoadEvent) LoadTransitioned {
	m := LoadTransitioned{
		EventID:         e.ID,
		LoadID:          e.LoadID,
		Trigger:         string(e.Trigger),
		FromStatus:      string(e.FromStatus),
		ToStatus:        string(e.ToStatus),
		ActorID:         e.ActorID,
		ActorRole:       string(e.ActorRole),
		OwnerID:         e.OwnerID,
		AssignedAgentID: e.AssignedAgentID,
		OccurredAt:      e.CreatedAt,
	}
	m.AffectedUserIDs = affected(e)
	return m
}

func affected(e *models.LoadEvent) []string {
	out := []string{}
	add := func(id string) {
		if id == "" || id == e.ActorID {
			return
		}
		for _, v := range out {
			if v == id {
				return
			}
		}
		out = append(out, id)
	}
	add(e.OwnerID)
	if e.AssignedAgentID != nil {
		add(*e.AssignedAgentID)
	}
	return out
}

func (m LoadTransitioned) Key() []byte {
	return []byte(m.LoadID.String())
}

func (m LoadTransitioned) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	return b, errors.Wrap(err, "marshal load transitioned")
}

func UnmarshalLoadTransitioned(b []byte) (LoadTransitioned, error) {
	var m LoadTransitioned
	if err := json.Unmarshal(b, &m); err != nil {
		return LoadTransitioned{}, errors.Wrap(err, "unmarshal load transitioned")
	}
	if m.LoadID == uuid.Nil {
		return LoadTransitioned{}, errors.New("load transitioned: empty load_id")
	}
	return m, nil
}
