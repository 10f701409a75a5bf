package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestConn upgrades a throwaway httptest server connection so Client
// tests exercise a real *websocket.Conn without a running Hub.
func dialTestConn(t *testing.T) *gorilla.Conn {
	t.Helper()
	upgrader := gorilla.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		select {}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewClient(t *testing.T) {
	hub := NewHub()
	client := NewClient("user-123", dialTestConn(t), hub, "rider")

	assert.NotNil(t, client)
	assert.Equal(t, "user-123", client.ID)
	assert.Equal(t, "rider", client.Role)
	assert.Equal(t, hub, client.Hub)
	assert.NotNil(t, client.Send)
	assert.Empty(t, client.Rooms())
	assert.Equal(t, "", client.CurrentRide())
}

func TestClientJoinAndLeaveRoom(t *testing.T) {
	hub := NewHub()
	client := NewClient("user-123", dialTestConn(t), hub, "rider")

	client.joinRoom(RideRoom("ride-789"))
	assert.Equal(t, "ride-789", client.CurrentRide())
	assert.Contains(t, client.Rooms(), RideRoom("ride-789"))

	client.leaveRoom(RideRoom("ride-789"))
	assert.Equal(t, "", client.CurrentRide())
	assert.NotContains(t, client.Rooms(), RideRoom("ride-789"))
}

func TestClientSendMessage(t *testing.T) {
	hub := NewHub()
	client := NewClient("user-123", dialTestConn(t), hub, "rider")

	msg := &Message{
		Type:      "test",
		Data:      map[string]interface{}{"key": "value"},
		Timestamp: time.Now(),
	}

	client.SendMessage(msg)

	select {
	case receivedMsg := <-client.Send:
		assert.Equal(t, msg.Type, receivedMsg.Type)
		assert.Equal(t, "value", receivedMsg.Data["key"])
	case <-time.After(100 * time.Millisecond):
		t.Fatal("message not received in channel")
	}
}

func TestClientSendMessageChannelFullClosesConnection(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient("user-123", dialTestConn(t), hub, "rider")
	client.Send = make(chan *Message, 2)

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 2; i++ {
		client.SendMessage(&Message{Type: "test", Data: map[string]interface{}{"count": i}})
	}

	// Overflow should close the channel rather than block.
	client.SendMessage(&Message{Type: "overflow", Data: map[string]interface{}{}})
	time.Sleep(10 * time.Millisecond)
}

func TestClientConcurrentRoomAccess(t *testing.T) {
	hub := NewHub()
	client := NewClient("user-123", dialTestConn(t), hub, "rider")

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			client.joinRoom(RideRoom(string(rune('a' + id))))
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		go func() {
			_ = client.Rooms()
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
}

func TestMessageMarshalJSON(t *testing.T) {
	msg := &Message{
		Type:      "test_type",
		RideID:    "ride-123",
		UserID:    "user-456",
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Data:      map[string]interface{}{"key": "value"},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "test_type", result["type"])
	assert.Equal(t, "ride-123", result["ride_id"])
	assert.Equal(t, "user-456", result["user_id"])
	assert.Equal(t, "2024-01-01T12:00:00Z", result["timestamp"])
	assert.Equal(t, "value", result["data"].(map[string]interface{})["key"])
}

func TestMessageUnmarshalJSON(t *testing.T) {
	jsonData := `{
		"type": "test_type",
		"ride_id": "ride-123",
		"user_id": "user-456",
		"timestamp": "2024-01-01T12:00:00Z",
		"data": {"key": "value"}
	}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(jsonData), &msg))

	assert.Equal(t, "test_type", msg.Type)
	assert.Equal(t, "ride-123", msg.RideID)
	assert.Equal(t, "user-456", msg.UserID)
	assert.Equal(t, "value", msg.Data["key"])
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), msg.Timestamp)
}

func TestMessageUnmarshalJSONInvalidTimestamp(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"type":"test","timestamp":"not-a-time","data":{}}`), &msg)
	assert.Error(t, err)
}

func TestMessageUnmarshalJSONEmptyTimestamp(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"test","data":{}}`), &msg))
	assert.Equal(t, "test", msg.Type)
}

func TestMessageMarshalUnmarshalRoundTrip(t *testing.T) {
	original := &Message{
		Type:      "location_update",
		RideID:    "ride-123",
		UserID:    "driver-456",
		Timestamp: time.Now().Round(time.Second),
		Data: map[string]interface{}{
			"latitude":  37.7749,
			"longitude": -122.4194,
			"speed":     50.5,
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.RideID, decoded.RideID)
	assert.Equal(t, original.UserID, decoded.UserID)
	assert.Equal(t, original.Timestamp.Unix(), decoded.Timestamp.Unix())
	assert.Equal(t, original.Data["latitude"], decoded.Data["latitude"])
}
