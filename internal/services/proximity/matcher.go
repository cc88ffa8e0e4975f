package proximity

import (
	"log/slog"
	"sort"

	"github.com/BearBump/StubbleTrack/internal/geo"
	"github.com/BearBump/StubbleTrack/internal/models"
)

// FindNearby returns the PENDING candidates with coordinates within radiusKm of
// origin, nearest first. Ties go to the older load, then to the lower ID.
// Candidates are never mutated; the result points at the same loads.
func FindNearby(origin models.Coordinate, radiusKm float64, candidates []*models.Load) ([]models.LoadWithDistance, error) {
	if err := geo.ValidateCoordinate(origin); err != nil {
		return nil, err
	}
	out := []models.LoadWithDistance{}
	if !(radiusKm > 0) {
		return out, nil
	}

	for _, l := range candidates {
		if !eligible(l) {
			continue
		}
		d, err := geo.DistanceKm(origin, *l.Coordinates)
		if err != nil {
			// битые координаты у кандидата не должны ронять весь поиск
			slog.Warn("skip load with invalid coordinates", "load_id", l.ID.String(), "error", err.Error())
			continue
		}
		if d <= radiusKm {
			out = append(out, models.LoadWithDistance{Load: l, DistanceKm: d})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if !a.Load.CreatedAt.Equal(b.Load.CreatedAt) {
			return a.Load.CreatedAt.Before(b.Load.CreatedAt)
		}
		return a.Load.ID.String() < b.Load.ID.String()
	})
	return out, nil
}

func eligible(l *models.Load) bool {
	return l != nil && l.Coordinates != nil && l.Status == models.LoadStatusPending
}
