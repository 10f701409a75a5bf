package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// NewEvent
// ---------------------------------------------------------------------------

func TestNewEvent_Success(t *testing.T) {
	data := map[string]string{"ride_id": "abc"}

	event, err := NewEvent(string(RideEventCreated), "ride-state-machine", data)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, string(RideEventCreated), event.Type)
	assert.Equal(t, "ride-state-machine", event.Source)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err)

	var decoded map[string]string
	err = json.Unmarshal(event.Data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "abc", decoded["ride_id"])
}

func TestNewEvent_NilData(t *testing.T) {
	event, err := NewEvent("test.event", "test-source", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), event.Data)
}

func TestNewEvent_ComplexData(t *testing.T) {
	rideID := uuid.New()
	envelope := RideEventEnvelope{
		RideID:    rideID.String(),
		Tenant:    "tenant-1",
		EventType: RideEventStatusChanged,
		Data:      map[string]string{"old": "REQUESTED", "new": "MATCHING"},
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	event, err := NewEvent(string(RideEventStatusChanged), "ride-state-machine", envelope)
	require.NoError(t, err)

	var decoded RideEventEnvelope
	err = json.Unmarshal(event.Data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, envelope.RideID, decoded.RideID)
	assert.Equal(t, envelope.Tenant, decoded.Tenant)
	assert.Equal(t, envelope.EventType, decoded.EventType)
}

func TestNewEvent_UnmarshalableData(t *testing.T) {
	event, err := NewEvent("test", "src", make(chan int))
	assert.Error(t, err)
	assert.Nil(t, event)
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		event, err := NewEvent("test", "src", nil)
		require.NoError(t, err)
		assert.False(t, ids[event.ID], "duplicate event ID generated")
		ids[event.ID] = true
	}
}

func TestNewEvent_TimestampIsUTC(t *testing.T) {
	event, err := NewEvent("test", "src", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, event.Timestamp.Location())
}

// ---------------------------------------------------------------------------
// Event JSON serialization round-trip
// ---------------------------------------------------------------------------

func TestEvent_JSONRoundTrip(t *testing.T) {
	original, err := NewEvent(string(RideEventTripCompleted), "trip-service", map[string]int{"fare": 25})
	require.NoError(t, err)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var restored Event
	err = json.Unmarshal(data, &restored)
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Source, restored.Source)
	assert.JSONEq(t, string(original.Data), string(restored.Data))
}

// ---------------------------------------------------------------------------
// Topic subject helpers
// ---------------------------------------------------------------------------

func TestTopicSubjects(t *testing.T) {
	assert.Equal(t, "rides.tenant-1.events", RideEventsSubject("tenant-1"))
	assert.Equal(t, "rides.*.events", RideEventsWildcard())
	assert.Equal(t, "locations.tenant-1", LocationUpdatesSubject("tenant-1"))
	assert.Equal(t, "locations.*", LocationUpdatesWildcard())
	assert.Equal(t, "notifications.user-1", NotificationsSubject("user-1"))
	assert.Equal(t, "notifications.*", NotificationsWildcard())
}

// ---------------------------------------------------------------------------
// DefaultConfig
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, "ride-hailing", cfg.Name)
	assert.Equal(t, "RIDEHAILING", cfg.StreamName)
}

// ---------------------------------------------------------------------------
// Config struct
// ---------------------------------------------------------------------------

func TestConfig_Fields(t *testing.T) {
	cfg := Config{
		URL:        "nats://custom:4222",
		Name:       "my-service",
		StreamName: "MYSTREAM",
	}

	assert.Equal(t, "nats://custom:4222", cfg.URL)
	assert.Equal(t, "my-service", cfg.Name)
	assert.Equal(t, "MYSTREAM", cfg.StreamName)
}

// ---------------------------------------------------------------------------
// HandlerFunc type
// ---------------------------------------------------------------------------

func TestHandlerFunc_Invocation(t *testing.T) {
	var called bool
	var receivedEvent *Event

	handler := HandlerFunc(func(ctx context.Context, event *Event) error {
		called = true
		receivedEvent = event
		return nil
	})

	event, _ := NewEvent("test.event", "test", map[string]string{"key": "value"})
	err := handler(context.Background(), event)

	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, event.ID, receivedEvent.ID)
}

func TestHandlerFunc_ReturnsError(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, event *Event) error {
		return assert.AnError
	})

	event, _ := NewEvent("test", "src", nil)
	err := handler(context.Background(), event)

	assert.ErrorIs(t, err, assert.AnError)
}

// ---------------------------------------------------------------------------
// Envelope serialization
// ---------------------------------------------------------------------------

func TestRideEventEnvelope_Serialization(t *testing.T) {
	envelope := RideEventEnvelope{
		RideID:    uuid.New().String(),
		Tenant:    "tenant-1",
		EventType: RideEventDriverAssigned,
		Data:      map[string]string{"driverId": uuid.New().String()},
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(envelope)
	require.NoError(t, err)

	var decoded RideEventEnvelope
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, envelope.RideID, decoded.RideID)
	assert.Equal(t, envelope.EventType, decoded.EventType)
}

func TestLocationUpdateEnvelope_OptionalFieldsOmitted(t *testing.T) {
	envelope := LocationUpdateEnvelope{
		DriverID:     uuid.New().String(),
		Tenant:       "tenant-1",
		Lat:          37.7749,
		Lng:          -122.4194,
		VehicleClass: "economy",
		Status:       "online",
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(envelope)
	require.NoError(t, err)

	var decoded LocationUpdateEnvelope
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Nil(t, decoded.Heading)
	assert.Nil(t, decoded.Speed)
	assert.Equal(t, envelope.VehicleClass, decoded.VehicleClass)
}

func TestNotificationEnvelope_Serialization(t *testing.T) {
	envelope := NotificationEnvelope{
		UserID:    uuid.New().String(),
		Type:      RideEventPaymentDone,
		Payload:   map[string]float64{"amount": 12.5},
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(envelope)
	require.NoError(t, err)

	var decoded NotificationEnvelope
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, envelope.Type, decoded.Type)
}

// ---------------------------------------------------------------------------
// Bus struct – nil-safety of Connected()
// ---------------------------------------------------------------------------

func TestBus_Connected_NilConn(t *testing.T) {
	bus := &Bus{}
	assert.False(t, bus.Connected())
}

// ---------------------------------------------------------------------------
// Bus struct – Close with empty subs
// ---------------------------------------------------------------------------

func TestBus_Close_NoSubs(t *testing.T) {
	bus := &Bus{}
	// Should not panic
	bus.Close()
}

// ---------------------------------------------------------------------------
// Event struct – zero value
// ---------------------------------------------------------------------------

func TestEvent_ZeroValue(t *testing.T) {
	var event Event
	assert.Empty(t, event.ID)
	assert.Empty(t, event.Type)
	assert.Empty(t, event.Source)
	assert.True(t, event.Timestamp.IsZero())
	assert.Nil(t, event.Data)
}
