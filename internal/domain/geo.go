package domain

import "github.com/golang/geo/s2"

// earthRadiusKm is the IUGG mean Earth radius.
const earthRadiusKm = 6371.0088

// DistanceKm returns the great-circle distance between two coordinates.
func DistanceKm(a, b Coordinate) float64 {
	angle := s2.LatLngFromDegrees(a.Lat, a.Lon).Distance(s2.LatLngFromDegrees(b.Lat, b.Lon))
	return angle.Radians() * earthRadiusKm
}
