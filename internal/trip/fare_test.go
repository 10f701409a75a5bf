package trip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/fleetcore/dispatch/pkg/models"
)

func TestEstimateFare_EconomyHappyPath(t *testing.T) {
	// 50 + round(4.9*12) = 50 + 59 = 109
	assert.Equal(t, 109.0, EstimateFare(models.VehicleClassEconomy, 4.9))
}

func TestComputeFare_EndTripWorkedExample(t *testing.T) {
	// economy, 5.0km, 20min, no surge:
	// distanceFare=60, timeFare=30, subtotal=140, taxes=round(140*0.05)=7, total=147
	fare := ComputeFare(models.VehicleClassEconomy, 5.0, 20, 1.0)
	assert.Equal(t, 60.0, fare.Distance)
	assert.Equal(t, 30.0, fare.Time)
	assert.Equal(t, 0.0, fare.Surge)
	assert.Equal(t, 7.0, fare.Taxes)
	assert.Equal(t, 147.0, fare.Total)
	assert.Equal(t, "INR", fare.Currency)
}

func TestComputeFare_DriverEarningsIsEightyPercentOfTotal(t *testing.T) {
	fare := ComputeFare(models.VehicleClassEconomy, 5.0, 20, 1.0)
	assert.Equal(t, 117.6, DriverEarnings(fare.Total))
}

func TestComputeFare_SurgeAppliesToSubtotalBeforeTax(t *testing.T) {
	noSurge := ComputeFare(models.VehicleClassEconomy, 5.0, 20, 1.0)
	surged := ComputeFare(models.VehicleClassEconomy, 5.0, 20, 1.5)

	assert.Equal(t, 0.0, noSurge.Surge)
	assert.Equal(t, 70.0, surged.Surge) // subtotal 140 * 0.5
	assert.Greater(t, surged.Total, noSurge.Total)
}

func TestComputeFare_UnknownTierFallsBackToEconomy(t *testing.T) {
	fare := ComputeFare(models.VehicleClass("unknown"), 5.0, 20, 1.0)
	economy := ComputeFare(models.VehicleClassEconomy, 5.0, 20, 1.0)
	assert.Equal(t, economy, fare)
}

func TestComputeFare_HigherTiersCostMore(t *testing.T) {
	economy := ComputeFare(models.VehicleClassEconomy, 5.0, 20, 1.0)
	premium := ComputeFare(models.VehicleClassPremium, 5.0, 20, 1.0)
	xl := ComputeFare(models.VehicleClassXL, 5.0, 20, 1.0)

	assert.Less(t, economy.Total, premium.Total)
	assert.Less(t, premium.Total, xl.Total)
}
