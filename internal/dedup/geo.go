package dedup

import (
	"math"

	"github.com/twpayne/go-geom"
)

const earthRadiusKm = 6371.0088

// haversineKm returns the great-circle distance between two XY (lon, lat)
// points.
func haversineKm(a, b *geom.Point) float64 {
	lat1, lat2 := a.Y()*math.Pi/180, b.Y()*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.X() - a.X()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// farApart reports whether both points are known and more than maxKm apart.
// A non-positive maxKm disables the check.
func farApart(a, b *geom.Point, maxKm float64) bool {
	if maxKm <= 0 || a == nil || b == nil || a.Empty() || b.Empty() {
		return false
	}
	return haversineKm(a, b) > maxKm
}
