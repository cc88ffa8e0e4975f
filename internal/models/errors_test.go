package models

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestErrors_MatchSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&NotFoundError{Entity: "load", ID: "1"}, ErrNotFound},
		{&InvalidStateError{Trigger: TriggerCancel, Status: LoadStatusInTransit}, ErrInvalidState},
		{&ForbiddenError{Trigger: TriggerDeliver, ActorID: "b", Reason: "not assigned"}, ErrForbidden},
		{&ConflictError{LoadID: "1", ExpectedStatus: LoadStatusPending}, ErrConflict},
		{&ValidationError{Field: "quantity", Reason: "must be positive"}, ErrValidation},
	}
	for _, c := range cases {
		wrapped := errors.Wrap(c.err, "outer")
		require.ErrorIs(t, wrapped, c.want)
	}
	require.NotErrorIs(t, &ConflictError{}, ErrInvalidState)
}

func TestInvalidStateError_NamesTriggerAndStatus(t *testing.T) {
	err := &InvalidStateError{Trigger: TriggerCancel, Status: LoadStatusInTransit}
	require.Contains(t, err.Error(), "cancel")
	require.Contains(t, err.Error(), "IN_TRANSIT")

	err.Reason = "already handed off"
	require.Contains(t, err.Error(), "already handed off")
}

func TestLoadStatus_Predicates(t *testing.T) {
	require.True(t, LoadStatusRecycled.IsTerminal())
	require.True(t, LoadStatusCancelled.IsTerminal())
	require.False(t, LoadStatusDelivered.IsTerminal())

	require.False(t, LoadStatusPending.HasAgent())
	require.True(t, LoadStatusRecycled.HasAgent())
	require.False(t, LoadStatusCancelled.HasAgent())
}

func TestLoad_CloneIsDeep(t *testing.T) {
	agent := "a1"
	l := &Load{AssignedAgentID: &agent, Coordinates: &Coordinate{Lat: 1, Lon: 2}}
	c := l.Clone()
	*c.AssignedAgentID = "other"
	c.Coordinates.Lat = 9
	require.Equal(t, "a1", *l.AssignedAgentID)
	require.Equal(t, 1.0, l.Coordinates.Lat)

	var nilLoad *Load
	require.Nil(t, nilLoad.Clone())
}

func TestBound_Contains(t *testing.T) {
	b := Bound{MinLat: 10, MinLon: 20, MaxLat: 11, MaxLon: 21}
	require.True(t, b.Contains(Coordinate{Lat: 10.5, Lon: 20.5}))
	require.False(t, b.Contains(Coordinate{Lat: 12, Lon: 20.5}))

	wrap := Bound{MinLat: -1, MinLon: 179, MaxLat: 1, MaxLon: -179}
	require.True(t, wrap.WrapsAntimeridian())
	require.True(t, wrap.Contains(Coordinate{Lat: 0, Lon: 179.5}))
	require.True(t, wrap.Contains(Coordinate{Lat: 0, Lon: -179.5}))
	require.False(t, wrap.Contains(Coordinate{Lat: 0, Lon: 0}))
}

func TestBound_CenterAndSquaredDegrees(t *testing.T) {
	b := Bound{MinLat: 10, MinLon: 20, MaxLat: 12, MaxLon: 22}
	require.Equal(t, Coordinate{Lat: 11, Lon: 21}, b.Center())

	origin := Coordinate{Lat: 10.5, Lon: 20.5}
	b.Origin = &origin
	require.Equal(t, origin, b.Center())
	require.Zero(t, b.SquaredDegrees(origin))
	require.Less(t, b.SquaredDegrees(Coordinate{Lat: 10.6, Lon: 20.5}), b.SquaredDegrees(Coordinate{Lat: 11.5, Lon: 20.5}))

	// через антимеридиан расстояние считается по короткой дуге
	wrap := Bound{MinLat: -1, MinLon: 179, MaxLat: 1, MaxLon: -179}
	require.InDelta(t, 180, math.Abs(wrap.Center().Lon), 1e-9)
	near := wrap.SquaredDegrees(Coordinate{Lat: 0, Lon: -179.9})
	far := wrap.SquaredDegrees(Coordinate{Lat: 0, Lon: 179.2})
	require.InDelta(t, 0.01, near, 1e-6)
	require.Less(t, near, far)
}
