package memload

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/StubbleTrack/internal/geo"
	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func pendingAt(c models.Coordinate, at time.Time) *models.Load {
	return &models.Load{
		ID: uuid.New(), OwnerID: "f", WasteType: "Rice Husk", Quantity: 1,
		Coordinates: &c, Status: models.LoadStatusPending, CreatedAt: at, UpdatedAt: at,
	}
}

func TestStore_OpenLoadsInBound_LimitKeepsNearest(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Now().UTC()
	origin := models.Coordinate{Lat: 28.65, Lon: 77.25}

	edge := pendingAt(models.Coordinate{Lat: 28.70, Lon: 77.25}, t0.Add(-time.Hour))
	near := pendingAt(models.Coordinate{Lat: 28.651, Lon: 77.251}, t0)
	outside := pendingAt(models.Coordinate{Lat: 19.07, Lon: 72.88}, t0.Add(-2*time.Hour))
	for _, l := range []*models.Load{edge, near, outside} {
		require.NoError(t, s.CreateLoad(ctx, l))
	}

	got, err := s.ListOpenLoadsInBound(ctx, geo.BoundAround(origin, 10), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, near.ID, got[0].ID)

	got, err = s.ListOpenLoadsInBound(ctx, geo.BoundAround(origin, 10), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []uuid.UUID{near.ID, edge.ID}, []uuid.UUID{got[0].ID, got[1].ID})
}

func TestStore_ClaimUnpublishedEvents_LimitCountsLoads(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Now().UTC().Add(-time.Minute)
	agent := "agent-1"

	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		l := pendingAt(models.Coordinate{Lat: 1, Lon: 1}, t0)
		require.NoError(t, s.CreateLoad(ctx, l))
		a := l.Clone()
		a.Status = models.LoadStatusAssigned
		a.AssignedAgentID = &agent
		require.NoError(t, s.UpdateLoadIfStatus(ctx, a, l.Status, l.UpdatedAt, &models.LoadEvent{
			LoadID: l.ID, FromStatus: l.Status, ToStatus: a.Status, Trigger: models.TriggerClaim, ActorID: agent, CreatedAt: t0,
		}))
		b := a.Clone()
		b.Status = models.LoadStatusInTransit
		require.NoError(t, s.UpdateLoadIfStatus(ctx, b, a.Status, a.UpdatedAt, &models.LoadEvent{
			LoadID: l.ID, FromStatus: a.Status, ToStatus: b.Status, Trigger: models.TriggerStart, ActorID: agent, CreatedAt: t0,
		}))
		ids = append(ids, l.ID)
	}

	// limit 1: оба события первого груза, второй груз ждёт
	got, err := s.ClaimUnpublishedEvents(ctx, time.Now(), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, ids[0], got[0].LoadID)
	require.Equal(t, models.TriggerClaim, got[0].Trigger)
	require.Equal(t, models.TriggerStart, got[1].Trigger)

	got, err = s.ClaimUnpublishedEvents(ctx, time.Now(), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, ids[1], got[0].LoadID)
}
