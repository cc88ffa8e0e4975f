// Package geo holds the great-circle math used by proximity search.
package geo

import (
	"math"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadiusKm is the mean radius of the spherical Earth approximation.
const EarthRadiusKm = 6371.0

// boundPadding widens bounding boxes slightly: orb uses the equatorial radius,
// which yields a marginally smaller angular box than EarthRadiusKm.
const boundPadding = 1.01

// ValidateCoordinate rejects out-of-range (and NaN) coordinates. Values are never clamped.
func ValidateCoordinate(c models.Coordinate) error {
	if !(c.Lat >= -90 && c.Lat <= 90) {
		return &models.ValidationError{Field: "latitude", Reason: "must be within [-90, 90]"}
	}
	if !(c.Lon >= -180 && c.Lon <= 180) {
		return &models.ValidationError{Field: "longitude", Reason: "must be within [-180, 180]"}
	}
	return nil
}

// DistanceKm returns the haversine distance between a and b.
func DistanceKm(a, b models.Coordinate) (float64, error) {
	if err := ValidateCoordinate(a); err != nil {
		return 0, err
	}
	if err := ValidateCoordinate(b); err != nil {
		return 0, err
	}
	return haversine(a, b), nil
}

func haversine(a, b models.Coordinate) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Point converts to orb's (lon, lat) order.
func Point(c models.Coordinate) orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// BoundAround returns a box that contains every point within radiusKm of origin.
// Storage adapters use it to pre-filter candidates; it is never exact.
func BoundAround(origin models.Coordinate, radiusKm float64) models.Bound {
	b := orbgeo.NewBoundAroundPoint(Point(origin), radiusKm*1000*boundPadding)
	out := models.Bound{
		MinLat: math.Max(b.Min.Lat(), -90),
		MinLon: b.Min.Lon(),
		MaxLat: math.Min(b.Max.Lat(), 90),
		MaxLon: b.Max.Lon(),
		Origin: &origin,
	}
	// через антимеридиан: MinLon > MaxLon
	if out.MinLon < -180 {
		out.MinLon += 360
	}
	if out.MaxLon > 180 {
		out.MaxLon -= 360
	}
	return out
}
