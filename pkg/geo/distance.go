package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for haversine distances.
const EarthRadiusMeters = 6371008.8

// MetersPerDegreeLat is the length of one degree of latitude.
const MetersPerDegreeLat = math.Pi * EarthRadiusMeters / 180

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// HaversineMeters returns the great-circle distance between a and b in meters.
func HaversineMeters(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

// DistanceToPath returns the distance in meters from p to the closest point of the polyline.
// The closest point is located in a local equirectangular projection around p and
// measured with HaversineMeters, so vertex hits are exact.
func DistanceToPath(p Point, path []Point) float64 {
	switch len(path) {
	case 0:
		return math.Inf(1)
	case 1:
		return HaversineMeters(p, path[0])
	}

	kx := math.Cos(toRad(p.Lat))
	best := math.Inf(1)
	for i := 0; i+1 < len(path); i++ {
		a, b := path[i], path[i+1]
		ax, ay := (a.Lon-p.Lon)*kx, a.Lat-p.Lat
		bx, by := (b.Lon-p.Lon)*kx, b.Lat-p.Lat
		dx, dy := bx-ax, by-ay

		t := 0.0
		if l2 := dx*dx + dy*dy; l2 > 0 {
			t = math.Max(0, math.Min(1, -(ax*dx+ay*dy)/l2))
		}
		closest := Point{Lat: a.Lat + t*(b.Lat-a.Lat), Lon: a.Lon + t*(b.Lon-a.Lon)}
		if d := HaversineMeters(p, closest); d < best {
			best = d
		}
	}
	return best
}

// MetersToDegrees converts a distance to a conservative degree span at latitude lat.
// The longitude span grows toward the poles and is capped at 360.
func MetersToDegrees(meters, lat float64) (dLat, dLon float64) {
	dLat = meters / MetersPerDegreeLat
	c := math.Cos(toRad(math.Min(89.9, math.Abs(lat)+dLat)))
	dLon = math.Min(360, dLat/c)
	return dLat, dLon
}
