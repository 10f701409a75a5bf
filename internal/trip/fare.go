// Package trip implements C8: starting and ending a trip, and the per-tier
// fare computation that closes it out. Grounded on the teacher's
// internal/rides/service.go fare-constant pattern (baseFarePerKm/baseFarePerMinute/minimumFare),
// generalized from one flat rate to the spec's three-tier table.
package trip

import (
	"math"

	"github.com/fleetcore/dispatch/pkg/models"
)

// tierRates holds one tier's row of the fare table.
type tierRates struct {
	Base   float64
	PerKm  float64
	PerMin float64
}

var fareTable = map[models.VehicleClass]tierRates{
	models.VehicleClassEconomy: {Base: 50, PerKm: 12, PerMin: 1.5},
	models.VehicleClassPremium: {Base: 100, PerKm: 18, PerMin: 2.5},
	models.VehicleClassXL:      {Base: 150, PerKm: 22, PerMin: 3.0},
}

const taxRate = 0.05

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeFare implements §4.5's closed-form fare formula for one tier.
func ComputeFare(tier models.VehicleClass, distanceKm float64, durationMins int, surgeMultiplier float64) models.FareBreakdown {
	rates, ok := fareTable[tier]
	if !ok {
		rates = fareTable[models.VehicleClassEconomy]
	}

	distanceFare := round2(distanceKm * rates.PerKm)
	timeFare := round2(float64(durationMins) * rates.PerMin)
	subtotal := rates.Base + distanceFare + timeFare

	var surgeFare float64
	if surgeMultiplier > 1 {
		surgeFare = round2(subtotal * (surgeMultiplier - 1))
	}

	taxes := round2((subtotal + surgeFare) * taxRate)
	total := round2(subtotal + surgeFare + taxes)

	return models.FareBreakdown{
		Base:     rates.Base,
		Distance: distanceFare,
		Time:     timeFare,
		Surge:    surgeFare,
		Taxes:    taxes,
		Total:    total,
		Currency: "INR",
	}
}

// EstimateFare is the lighter estimate used at ride creation time: base plus
// distance only, no time component, matching the happy-path example in
// spec.md §8 (50 + round(4.9*12) = 109 for an economy ride).
func EstimateFare(tier models.VehicleClass, distanceKm float64) float64 {
	rates, ok := fareTable[tier]
	if !ok {
		rates = fareTable[models.VehicleClassEconomy]
	}
	return rates.Base + math.Round(distanceKm*rates.PerKm)
}

// DriverEarnings is the driver's 80% cut of a completed trip's total.
func DriverEarnings(total float64) float64 {
	return round2(total * 0.8)
}
