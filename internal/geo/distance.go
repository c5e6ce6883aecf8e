// Package geo computes great-circle distances between coordinates.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Distance returns the great-circle distance between a and b in whole meters,
// rounded up, using the spherical law of cosines. Inputs are not range checked.
func Distance(a, b Point) int {
	// acos loses precision near 1; without this coincident points can ceil to 1m.
	if a == b {
		return 0
	}
	φ1 := radians(a.Lat)
	φ2 := radians(b.Lat)
	Δλ := radians(b.Lon - a.Lon)

	// Rounding can push the cosine slightly past 1 for coincident points.
	cosC := math.Sin(φ1)*math.Sin(φ2) + math.Cos(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	cosC = math.Max(-1, math.Min(1, cosC))

	return int(math.Ceil(math.Acos(cosC) * EarthRadiusMeters))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
