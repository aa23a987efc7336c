// Package geo computes great-circle distances between coordinates.
package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used to turn central angles into
// kilometres.
const EarthRadiusKm = 6371.0088

// Unreachable is returned for any pair that cannot be measured. It compares
// greater than every finite threshold.
var Unreachable = math.Inf(1)

// DistanceKm returns the great-circle distance between two points in
// kilometres, or Unreachable when either point is missing or invalid.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	a, ok := point(lat1, lon1)
	if !ok {
		return Unreachable
	}
	b, ok := point(lat2, lon2)
	if !ok {
		return Unreachable
	}
	return a.Distance(b).Radians() * EarthRadiusKm
}

// ValidCoordinates reports whether lat/lon describe a point on the globe.
func ValidCoordinates(lat, lon float64) bool {
	_, ok := point(lat, lon)
	return ok
}

func point(lat, lon float64) (s2.LatLng, bool) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return s2.LatLng{}, false
	}
	ll := s2.LatLngFromDegrees(lat, lon)
	if !ll.IsValid() {
		return s2.LatLng{}, false
	}
	return ll, true
}
