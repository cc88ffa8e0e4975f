package geo

import (
	"math"
	"testing"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDistanceKm_KnownPairs(t *testing.T) {
	d, err := DistanceKm(models.Coordinate{Lat: 28.6, Lon: 77.2}, models.Coordinate{Lat: 28.65, Lon: 77.25})
	require.NoError(t, err)
	require.InDelta(t, 7.40, d, 0.01)

	// London -> Paris
	d, err = DistanceKm(models.Coordinate{Lat: 51.5074, Lon: -0.1278}, models.Coordinate{Lat: 48.8566, Lon: 2.3522})
	require.NoError(t, err)
	require.InDelta(t, 343.56, d, 0.1)

	// через антимеридиан
	d, err = DistanceKm(models.Coordinate{Lat: 0, Lon: 179.9}, models.Coordinate{Lat: 0, Lon: -179.9})
	require.NoError(t, err)
	require.InDelta(t, 22.24, d, 0.01)
}

func TestDistanceKm_SymmetricAndZero(t *testing.T) {
	pts := []models.Coordinate{
		{Lat: 28.6, Lon: 77.2},
		{Lat: -33.86, Lon: 151.21},
		{Lat: 90, Lon: 0},
		{Lat: -90, Lon: 180},
		{Lat: 0, Lon: -180},
	}
	for _, a := range pts {
		self, err := DistanceKm(a, a)
		require.NoError(t, err)
		require.Equal(t, 0.0, self)
		for _, b := range pts {
			ab, err := DistanceKm(a, b)
			require.NoError(t, err)
			ba, err := DistanceKm(b, a)
			require.NoError(t, err)
			require.InDelta(t, ab, ba, 1e-9)
		}
	}
}

func TestDistanceKm_RejectsOutOfRange(t *testing.T) {
	ok := models.Coordinate{Lat: 0, Lon: 0}
	bad := []models.Coordinate{
		{Lat: 90.0001, Lon: 0},
		{Lat: -91, Lon: 0},
		{Lat: 0, Lon: 180.5},
		{Lat: 0, Lon: -181},
		{Lat: math.NaN(), Lon: 0},
		{Lat: 0, Lon: math.Inf(1)},
	}
	for _, b := range bad {
		_, err := DistanceKm(ok, b)
		require.ErrorIs(t, err, models.ErrValidation)
		_, err = DistanceKm(b, ok)
		require.ErrorIs(t, err, models.ErrValidation)
	}
}

func TestBoundAround_ContainsRadius(t *testing.T) {
	origin := models.Coordinate{Lat: 28.6, Lon: 77.2}
	b := BoundAround(origin, 10)
	require.True(t, b.Contains(origin))
	require.False(t, b.WrapsAntimeridian())

	// точки ровно на радиусе по осям должны попадать в рамку
	north := models.Coordinate{Lat: origin.Lat + 10/111.195, Lon: origin.Lon}
	d, err := DistanceKm(origin, north)
	require.NoError(t, err)
	require.InDelta(t, 10, d, 0.01)
	require.True(t, b.Contains(north))

	far := models.Coordinate{Lat: 29.0, Lon: 77.2}
	require.False(t, b.Contains(far))
}

func TestPoint_LonLatOrder(t *testing.T) {
	p := Point(models.Coordinate{Lat: 1, Lon: 2})
	require.Equal(t, 2.0, p.Lon())
	require.Equal(t, 1.0, p.Lat())
}

func TestBoundAround_Antimeridian(t *testing.T) {
	b := BoundAround(models.Coordinate{Lat: 0, Lon: 180}, 20)
	require.True(t, b.WrapsAntimeridian())
	require.True(t, b.Contains(models.Coordinate{Lat: 0, Lon: 179.95}))
	require.True(t, b.Contains(models.Coordinate{Lat: 0, Lon: -179.95}))
	require.False(t, b.Contains(models.Coordinate{Lat: 0, Lon: 0}))
}
