package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine_SamePointIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(12.9, 77.6, 12.9, 77.6))
}

func TestHaversine_KnownDistance(t *testing.T) {
	// Bangalore city centre to Kempegowda Intl Airport, roughly 35-36 km.
	dist := Haversine(12.9716, 77.5946, 13.1986, 77.7066)
	assert.InDelta(t, 35.8, dist, 2.0)
}

func TestEstimateDuration_ScalesWithDistance(t *testing.T) {
	assert.Equal(t, 0, EstimateDuration(0))
	assert.Greater(t, EstimateDuration(40), EstimateDuration(10))
}

func TestInitialBearing_DueNorthIsZero(t *testing.T) {
	bearing := InitialBearing(12.0, 77.0, 13.0, 77.0)
	assert.InDelta(t, 0, bearing, 1.0)
}

func TestInitialBearing_DueEastIsNinety(t *testing.T) {
	bearing := InitialBearing(12.0, 77.0, 12.0, 78.0)
	assert.InDelta(t, 90, bearing, 1.0)
}

func TestDestination_RoundTripRecoversDistance(t *testing.T) {
	lat, lng := 12.9716, 77.5946
	bearing := 45.0
	distKm := 2.0

	destLat, destLng := Destination(lat, lng, bearing, distKm)
	got := Haversine(lat, lng, destLat, destLng)
	assert.InDelta(t, distKm, got, 0.05)
}

func TestDestination_ZeroDistanceIsNoop(t *testing.T) {
	lat, lng := Destination(12.9716, 77.5946, 123.0, 0)
	assert.InDelta(t, 12.9716, lat, 1e-6)
	assert.InDelta(t, 77.5946, lng, 1e-6)
}
