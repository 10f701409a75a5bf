package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/fleetcore/dispatch/pkg/eventbus"
)

func TestDecodeRideNotificationPayload_ExtractsRideID(t *testing.T) {
	var dst eventbus.RideNotificationPayload
	ok := decodeRideNotificationPayload(map[string]interface{}{"rideId": "ride-123"}, &dst)
	assert.True(t, ok)
	assert.Equal(t, "ride-123", dst.RideID)
}

func TestDecodeRideNotificationPayload_FalseWhenNoRideID(t *testing.T) {
	var dst eventbus.RideNotificationPayload
	ok := decodeRideNotificationPayload(map[string]interface{}{"foo": "bar"}, &dst)
	assert.False(t, ok)
}

func TestParseLocationSample_ValidPayload(t *testing.T) {
	driverID := uuid.New()
	heading := 90.0
	sample, ok := parseLocationSample(driverID.String(), map[string]interface{}{
		"latitude": 12.9, "longitude": 77.6, "heading": heading,
	})
	assert.True(t, ok)
	assert.Equal(t, driverID, sample.DriverID)
	assert.Equal(t, 12.9, sample.Lat)
	assert.Equal(t, 77.6, sample.Lng)
	assert.Equal(t, heading, *sample.Heading)
}

func TestParseLocationSample_RejectsMissingCoordinates(t *testing.T) {
	_, ok := parseLocationSample(uuid.New().String(), map[string]interface{}{"latitude": 12.9})
	assert.False(t, ok)
}

func TestParseLocationSample_RejectsInvalidDriverID(t *testing.T) {
	_, ok := parseLocationSample("not-a-uuid", map[string]interface{}{"latitude": 1.0, "longitude": 2.0})
	assert.False(t, ok)
}
