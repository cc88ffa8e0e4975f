package carbon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/BearBump/StubbleTrack/internal/storage/memload"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func recycledLoad(owner, wasteType string, qty float64) *models.Load {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	agent := "agent-1"
	return &models.Load{
		ID:              uuid.New(),
		OwnerID:         owner,
		AssignedAgentID: &agent,
		WasteType:       wasteType,
		Quantity:        qty,
		Status:          models.LoadStatusRecycled,
		CreatedAt:       now,
		UpdatedAt:       now,
		TerminalAt:      &now,
	}
}

func TestOnRecycled_RiceHusk(t *testing.T) {
	l := NewLedger(memload.New(), nil, 0)

	c, err := l.OnRecycled(context.Background(), recycledLoad("farmer-1", "Rice Husk", 5.0))
	require.NoError(t, err)
	require.Equal(t, 7.00, c.OffsetKg)
	require.Equal(t, int64(7), c.RewardPoints)
	require.Equal(t, "farmer-1", c.UserID)
	require.Equal(t, "Rice Husk", c.WasteType)
}

func TestOnRecycled_Idempotent(t *testing.T) {
	store := memload.New()
	l := NewLedger(store, nil, 0)
	load := recycledLoad("farmer-1", "Rice Straw", 2.5)

	first, err := l.OnRecycled(context.Background(), load)
	require.NoError(t, err)

	l.now = func() time.Time { return first.CreatedAt.Add(time.Hour) }
	second, err := l.OnRecycled(context.Background(), load)
	require.NoError(t, err)
	require.Equal(t, first, second)

	credits, err := l.ListCredits(context.Background(), "farmer-1")
	require.NoError(t, err)
	require.Len(t, credits, 1)
	require.Equal(t, 3.75, credits[0].OffsetKg)
}

func TestOnRecycled_ConcurrentCallsStoreOneCredit(t *testing.T) {
	store := memload.New()
	l := NewLedger(store, nil, 0)
	load := recycledLoad("farmer-1", "Rice Husk", 5.0)

	var wg sync.WaitGroup
	results := make([]models.CarbonCredit, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := l.OnRecycled(context.Background(), load)
			require.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range results {
		require.Equal(t, results[0], c)
	}
	credits, err := store.ListCreditsByUser(context.Background(), "farmer-1")
	require.NoError(t, err)
	require.Len(t, credits, 1)
}

func TestOnRecycled_UnknownWasteTypeUsesDefault(t *testing.T) {
	l := NewLedger(memload.New(), nil, 0)

	c, err := l.OnRecycled(context.Background(), recycledLoad("farmer-1", "Coconut Shell", 3.333))
	require.NoError(t, err)
	require.Equal(t, 3.33, c.OffsetKg)
	require.Equal(t, int64(3), c.RewardPoints)
}

func TestOnRecycled_NotRecycled(t *testing.T) {
	l := NewLedger(memload.New(), nil, 0)
	load := recycledLoad("farmer-1", "Rice Husk", 5)
	load.Status = models.LoadStatusDelivered

	_, err := l.OnRecycled(context.Background(), load)
	require.ErrorIs(t, err, models.ErrInvalidState)

	_, err = l.OnRecycled(context.Background(), nil)
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = l.GetCredit(context.Background(), load.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestLedger_CustomFactorsAndPoints(t *testing.T) {
	f := NewEmissionFactors(map[string]float64{"  rice   HUSK ": 2.0, "bad": -1}, 0.5)
	l := NewLedger(memload.New(), f, 10)

	c := l.Compute(recycledLoad("u", "Rice Husk", 1.25))
	require.Equal(t, 2.5, c.OffsetKg)
	require.Equal(t, int64(25), c.RewardPoints)

	c = l.Compute(recycledLoad("u", "bad", 4))
	require.Equal(t, 2.0, c.OffsetKg)
}

func TestUserRewards(t *testing.T) {
	l := NewLedger(memload.New(), nil, 0)
	ctx := context.Background()

	for _, in := range []struct {
		waste string
		qty   float64
	}{
		{"Rice Husk", 5},
		{"Wheat Straw", 1.1},
		{"Corn Stover", 0.3},
	} {
		_, err := l.OnRecycled(ctx, recycledLoad("farmer-1", in.waste, in.qty))
		require.NoError(t, err)
	}
	_, err := l.OnRecycled(ctx, recycledLoad("farmer-2", "Rice Husk", 100))
	require.NoError(t, err)

	sum, err := l.UserRewards(ctx, "farmer-1")
	require.NoError(t, err)
	require.Equal(t, 3, sum.Credits)
	require.Equal(t, 8.79, sum.TotalOffsetKg)
	require.Equal(t, int64(7+1+0), sum.TotalPoints)

	empty, err := l.UserRewards(ctx, "nobody")
	require.NoError(t, err)
	require.Zero(t, empty.Credits)
	require.Zero(t, empty.TotalPoints)
}
