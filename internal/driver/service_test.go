package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/fleetcore/dispatch/pkg/models"
)

func TestValidateStatusRequest_RejectsBusyTarget(t *testing.T) {
	outcome := validateStatusRequest(models.DriverStatusOnline, models.DriverStatusBusy)
	assert.Equal(t, statusRequestRejected, outcome)
}

func TestValidateStatusRequest_RejectsTogglingAnAlreadyBusyDriver(t *testing.T) {
	outcome := validateStatusRequest(models.DriverStatusBusy, models.DriverStatusOffline)
	assert.Equal(t, statusRequestRejected, outcome)
}

func TestValidateStatusRequest_NoopWhenUnchanged(t *testing.T) {
	outcome := validateStatusRequest(models.DriverStatusOnline, models.DriverStatusOnline)
	assert.Equal(t, statusRequestNoop, outcome)
}

func TestValidateStatusRequest_AllowsOnlineOfflineToggle(t *testing.T) {
	assert.Equal(t, statusRequestAllowed, validateStatusRequest(models.DriverStatusOffline, models.DriverStatusOnline))
	assert.Equal(t, statusRequestAllowed, validateStatusRequest(models.DriverStatusOnline, models.DriverStatusOffline))
}
