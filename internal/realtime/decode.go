package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/internal/ingest"
	"github.com/fleetcore/dispatch/pkg/eventbus"
)

// decodeEventData unmarshals an event's raw data into dst, whatever
// envelope shape the caller expects.
func decodeEventData(event *eventbus.Event, dst interface{}) error {
	return json.Unmarshal(event.Data, dst)
}

// decodeRideNotificationPayload re-marshals a NotificationEnvelope's
// Payload (already decoded once into interface{} by the bus, typically a
// map[string]interface{}) into the concrete RideNotificationPayload shape.
// Reports false if the payload carries no rideId at all.
func decodeRideNotificationPayload(payload interface{}, dst *eventbus.RideNotificationPayload) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return dst.RideID != ""
}

// parseLocationSample extracts an ingest.Sample from an inbound
// "driver:location:update" message's untyped data map.
func parseLocationSample(driverIDStr string, data map[string]interface{}) (ingest.Sample, bool) {
	driverID, err := uuid.Parse(driverIDStr)
	if err != nil {
		return ingest.Sample{}, false
	}
	lat, latOk := data["latitude"].(float64)
	lng, lngOk := data["longitude"].(float64)
	if !latOk || !lngOk {
		return ingest.Sample{}, false
	}

	sample := ingest.Sample{DriverID: driverID, Lat: lat, Lng: lng}
	if h, ok := data["heading"].(float64); ok {
		sample.Heading = &h
	}
	if sp, ok := data["speed"].(float64); ok {
		sample.Speed = &sp
	}
	if acc, ok := data["accuracy"].(float64); ok {
		sample.Accuracy = &acc
	}
	sample.Timestamp = time.Now().UTC()
	return sample, true
}
