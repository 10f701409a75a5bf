package geo

import "math"

// InitialBearing returns the initial compass bearing in degrees (0-360,
// 0 = north) along the great-circle path from (lat1,lon1) to (lat2,lon2).
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)
	theta := math.Atan2(y, x)

	deg := theta * 180.0 / math.Pi
	return math.Mod(deg+360, 360)
}

// Destination returns the point reached by travelling distanceKm along the
// great circle from (lat,lon) on the given bearing (degrees).
func Destination(lat, lon, bearingDeg, distanceKm float64) (float64, float64) {
	angularDist := distanceKm / earthRadiusKm
	bearing := bearingDeg * math.Pi / 180.0
	phi1 := lat * math.Pi / 180.0
	lambda1 := lon * math.Pi / 180.0

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(angularDist) +
		math.Cos(phi1)*math.Sin(angularDist)*math.Cos(bearing))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(bearing)*math.Sin(angularDist)*math.Cos(phi1),
		math.Cos(angularDist)-math.Sin(phi1)*math.Sin(phi2))

	lat2 := phi2 * 180.0 / math.Pi
	lon2 := math.Mod(lambda2*180.0/math.Pi+540, 360) - 180
	return lat2, lon2
}
