package rides

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/fleetcore/dispatch/pkg/models"
)

func TestProgressTransitions_OnlyAssignedAndEnRouteAdvance(t *testing.T) {
	next, ok := progressTransitions[models.RideStatusDriverAssigned]
	assert.True(t, ok)
	assert.Equal(t, models.RideStatusDriverEnRoute, next)

	next, ok = progressTransitions[models.RideStatusDriverArrived]
	assert.False(t, ok)
	assert.Empty(t, next)
}

func TestProgressTransitions_TerminalAndRequestedAreNotAdvanceable(t *testing.T) {
	for _, s := range []models.RideStatus{
		models.RideStatusRequested,
		models.RideStatusMatching,
		models.RideStatusInProgress,
		models.RideStatusCompleted,
		models.RideStatusCancelled,
	} {
		_, ok := progressTransitions[s]
		assert.False(t, ok, "status %s should not be in the PATCH allow-list", s)
	}
}

func TestProgressEvent_MapsToTheRightWireEvent(t *testing.T) {
	assert.Equal(t, "RIDE_DRIVER_EN_ROUTE", string(progressEvent[models.RideStatusDriverEnRoute]))
	assert.Equal(t, "RIDE_DRIVER_ARRIVED", string(progressEvent[models.RideStatusDriverArrived]))
}
