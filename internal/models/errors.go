package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinels for errors.Is; the typed errors below match them.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("concurrency conflict")
	ErrValidation   = errors.New("validation failed")
	ErrRateLimited  = errors.New("rate limited")
)

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidStateError means the trigger is not legal from the current status.
type InvalidStateError struct {
	Trigger Trigger
	Status  LoadStatus
	Reason  string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s load in status %s", e.Trigger, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

type ForbiddenError struct {
	Trigger Trigger
	ActorID string
	Reason  string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %q may not %s this load: %s", e.ActorID, e.Trigger, e.Reason)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// ConflictError is returned when a conditional write lost the race. Callers may
// re-read the load and try again.
type ConflictError struct {
	LoadID         string
	ExpectedStatus LoadStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("load %s was modified concurrently (expected status %s)", e.LoadID, e.ExpectedStatus)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
