// Package custody holds the single transition table for a load's custody chain.
package custody

import (
	"time"

	"github.com/BearBump/StubbleTrack/internal/models"
)

type transition struct {
	from []models.LoadStatus
	to   models.LoadStatus
	// authorize returns a non-empty reason when the actor may not fire the trigger.
	authorize func(l *models.Load, a models.Actor) string
}

// Machine validates triggers against the current status and the actor, and
// computes the next state of a load. It never touches storage.
type Machine struct {
	transitions map[models.Trigger]transition
	order       []models.Trigger
}

func New() *Machine {
	return &Machine{
		transitions: map[models.Trigger]transition{
			models.TriggerClaim: {
				from:      []models.LoadStatus{models.LoadStatusPending},
				to:        models.LoadStatusAssigned,
				authorize: requireRole(models.RoleAgent),
			},
			models.TriggerStart: {
				from:      []models.LoadStatus{models.LoadStatusAssigned},
				to:        models.LoadStatusInTransit,
				authorize: requireAssignedAgent,
			},
			models.TriggerDeliver: {
				from:      []models.LoadStatus{models.LoadStatusInTransit},
				to:        models.LoadStatusDelivered,
				authorize: requireAssignedAgent,
			},
			models.TriggerRecycle: {
				from:      []models.LoadStatus{models.LoadStatusDelivered},
				to:        models.LoadStatusRecycled,
				authorize: requireRole(models.RoleAdmin, models.RoleRecycler),
			},
			models.TriggerCancel: {
				from:      []models.LoadStatus{models.LoadStatusPending, models.LoadStatusAssigned},
				to:        models.LoadStatusCancelled,
				authorize: requireOwner,
			},
		},
		order: []models.Trigger{
			models.TriggerClaim,
			models.TriggerStart,
			models.TriggerDeliver,
			models.TriggerRecycle,
			models.TriggerCancel,
		},
	}
}

// Apply checks the trigger and returns the next state as a new Load.
// The status check runs before the actor check.
func (m *Machine) Apply(load *models.Load, trigger models.Trigger, actor models.Actor, now time.Time) (*models.Load, error) {
	if load == nil {
		return nil, &models.NotFoundError{Entity: "load"}
	}
	tr, ok := m.transitions[trigger]
	if !ok {
		return nil, &models.ValidationError{Field: "trigger", Reason: "unknown trigger " + string(trigger)}
	}
	if !contains(tr.from, load.Status) {
		return nil, &models.InvalidStateError{Trigger: trigger, Status: load.Status}
	}
	if trigger == models.TriggerClaim && load.AssignedAgentID != nil {
		return nil, &models.InvalidStateError{Trigger: trigger, Status: load.Status, Reason: "load already has an assigned agent"}
	}
	if actor.ID == "" {
		return nil, &models.ForbiddenError{Trigger: trigger, Reason: "actor id is required"}
	}
	if reason := tr.authorize(load, actor); reason != "" {
		return nil, &models.ForbiddenError{Trigger: trigger, ActorID: actor.ID, Reason: reason}
	}

	next := load.Clone()
	next.Status = tr.to
	if now.Before(load.UpdatedAt) {
		now = load.UpdatedAt
	}
	next.UpdatedAt = now

	switch trigger {
	case models.TriggerClaim:
		id := actor.ID
		next.AssignedAgentID = &id
	case models.TriggerCancel:
		next.AssignedAgentID = nil
	}

	if next.Status.IsTerminal() && next.TerminalAt == nil {
		at := now
		next.TerminalAt = &at
	}
	return next, nil
}

// AllowedTriggers lists the triggers legal from status, in lifecycle order.
func (m *Machine) AllowedTriggers(status models.LoadStatus) []models.Trigger {
	out := []models.Trigger{}
	for _, t := range m.order {
		if contains(m.transitions[t].from, status) {
			out = append(out, t)
		}
	}
	return out
}

// CanApply is Apply without the result, for rendering available actions.
func (m *Machine) CanApply(load *models.Load, trigger models.Trigger, actor models.Actor) bool {
	_, err := m.Apply(load, trigger, actor, time.Now())
	return err == nil
}

func requireRole(roles ...models.Role) func(*models.Load, models.Actor) string {
	return func(_ *models.Load, a models.Actor) string {
		for _, r := range roles {
			if a.Role == r {
				return ""
			}
		}
		return "role " + string(a.Role) + " is not allowed"
	}
}

func requireAssignedAgent(l *models.Load, a models.Actor) string {
	if l.AssignedAgentID == nil || *l.AssignedAgentID != a.ID {
		return "only the assigned agent may do this"
	}
	return ""
}

func requireOwner(l *models.Load, a models.Actor) string {
	if l.OwnerID != a.ID {
		return "only the owner may do this"
	}
	return ""
}

func contains(list []models.LoadStatus, s models.LoadStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
