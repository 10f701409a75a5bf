// Package realtime implements C10: the WebSocket session registry and the
// bridge from the durable event bus (C3) to per-connection push. Grounded
// on the teacher's pkg/websocket Hub/Client pair, restructured around
// §4.7's three room kinds and its authoritative topic-event-to-socket-event
// table instead of the teacher's chat/typing feature set.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/internal/ingest"
	"github.com/fleetcore/dispatch/internal/rides"
	"github.com/fleetcore/dispatch/pkg/eventbus"
	"github.com/fleetcore/dispatch/pkg/logger"
	ws "github.com/fleetcore/dispatch/pkg/websocket"
	"go.uber.org/zap"
)

// Service bridges C3's notifications/location-updates topics into Hub room
// broadcasts, and handles the inbound WebSocket commands of §4.7.
type Service struct {
	hub    *ws.Hub
	bus    *eventbus.Bus
	ingest *ingest.Pipeline
	rides  *rides.Service
}

// NewService builds a realtime service and registers its inbound command
// handlers on the hub. "register{userId,userType}" has no handler of its
// own: identity and role are established at connection time (see Handler),
// which already joins the user: and type: rooms per §4.7.
func NewService(hub *ws.Hub, bus *eventbus.Bus, ingestPipeline *ingest.Pipeline, ridesSvc *rides.Service) *Service {
	s := &Service{hub: hub, bus: bus, ingest: ingestPipeline, rides: ridesSvc}
	hub.RegisterHandler("subscribe:ride", s.handleSubscribeRide)
	hub.RegisterHandler("unsubscribe:ride", s.handleUnsubscribeRide)
	hub.RegisterHandler("driver:location:update", s.handleDriverLocationUpdate)
	return s
}

// Start runs the two consumer groups this fabric needs: one on the
// notifications topic for ride-lifecycle/payment events, one on the
// location-updates topic for driver position fan-out. Blocks until ctx is
// cancelled only in the sense that subscriptions are cancelled with it;
// the bus itself delivers asynchronously.
func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.SubscribeAll(ctx, eventbus.NotificationsWildcard(), "realtime-notifications", s.handleNotification); err != nil {
		return err
	}
	if err := s.bus.SubscribeAll(ctx, eventbus.LocationUpdatesWildcard(), "realtime-locations", s.handleLocationEvent); err != nil {
		return err
	}
	return nil
}

// socketTarget names the §4.7 mapping table's target room kind for a given
// notification type; room is relative to the envelope's own fields.
type socketTarget int

const (
	targetUserOnly socketTarget = iota
	targetUserAndRide
	targetRideOnly
)

var notificationTable = map[eventbus.RideEventType]struct {
	socketEvent string
	target      socketTarget
}{
	eventbus.RideEventOffer:          {"ride:offer", targetUserOnly},
	eventbus.RideEventDriverAssigned: {"ride:driver_assigned", targetUserAndRide},
	eventbus.RideEventDriverEnRoute:  {"ride:driver_en_route", targetRideOnly},
	eventbus.RideEventDriverArrived:  {"ride:driver_arrived", targetRideOnly},
	eventbus.RideEventTripStarted:    {"trip:started", targetRideOnly},
	eventbus.RideEventTripCompleted:  {"trip:completed", targetRideOnly},
	eventbus.RideEventPaymentDone:    {"payment:completed", targetUserOnly},
	eventbus.RideEventPaymentRecvd:   {"payment:received", targetUserOnly},
}

// handleNotification implements §4.7's authoritative table for every event
// type carried on the notifications topic.
func (s *Service) handleNotification(ctx context.Context, event *eventbus.Event) error {
	var envelope eventbus.NotificationEnvelope
	if err := decodeEventData(event, &envelope); err != nil {
		logger.WarnContext(ctx, "failed to decode notification envelope", zap.Error(err))
		return nil
	}

	row, ok := notificationTable[envelope.Type]
	if !ok {
		return nil
	}

	msg := &ws.Message{Type: row.socketEvent, UserID: envelope.UserID, Timestamp: time.Now().UTC(), Data: map[string]interface{}{"payload": envelope.Payload}}

	var payload eventbus.RideNotificationPayload
	hasRideID := decodeRideNotificationPayload(envelope.Payload, &payload)
	if hasRideID {
		msg.RideID = payload.RideID
	}

	switch row.target {
	case targetUserOnly:
		s.hub.SendToUser(envelope.UserID, msg)
	case targetUserAndRide:
		s.hub.SendToUser(envelope.UserID, msg)
		if hasRideID {
			s.hub.SendToRide(payload.RideID, msg)
		}
	case targetRideOnly:
		if hasRideID {
			s.hub.SendToRide(payload.RideID, msg)
		}
	}
	return nil
}

// handleLocationEvent fans a DRIVER_LOCATION event into the driver's
// current ride room, found via the hub's own room membership rather than
// a field the location-updates envelope doesn't carry (it's tenant-keyed
// telemetry, not ride-scoped).
func (s *Service) handleLocationEvent(ctx context.Context, event *eventbus.Event) error {
	var envelope eventbus.LocationUpdateEnvelope
	if err := decodeEventData(event, &envelope); err != nil {
		logger.WarnContext(ctx, "failed to decode location envelope", zap.Error(err))
		return nil
	}

	client, ok := s.hub.GetClient(envelope.DriverID)
	if !ok {
		return nil
	}
	rideID := client.CurrentRide()
	if rideID == "" {
		return nil
	}

	s.hub.SendToRide(rideID, &ws.Message{
		Type:      "driver:location:update",
		RideID:    rideID,
		UserID:    envelope.DriverID,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"lat":     envelope.Lat,
			"lng":     envelope.Lng,
			"heading": envelope.Heading,
			"speed":   envelope.Speed,
			"arrived": envelope.Arrived,
		},
	})
	return nil
}

// handleSubscribeRide implements "subscribe:ride{rideId}": joins the
// sender's room after confirming they're a party to the ride.
func (s *Service) handleSubscribeRide(client *ws.Client, msg *ws.Message) {
	rideIDStr, _ := msg.Data["ride_id"].(string)
	rideID, err := uuid.Parse(rideIDStr)
	if err != nil {
		client.SendMessage(errorMessage("invalid ride_id"))
		return
	}

	ctx := context.Background()
	ride, err := s.rides.Get(ctx, rideID)
	if err != nil {
		client.SendMessage(errorMessage("ride not found"))
		return
	}
	actorID, parseErr := uuid.Parse(client.ID)
	if parseErr != nil || (ride.RiderID != actorID && (ride.DriverID == nil || *ride.DriverID != actorID)) {
		client.SendMessage(errorMessage("not authorized for this ride"))
		return
	}

	s.hub.AddClientToRide(client.ID, rideIDStr)
	client.SendMessage(&ws.Message{Type: "subscribed:ride", RideID: rideIDStr, Timestamp: time.Now().UTC(), Data: map[string]interface{}{}})
}

// handleUnsubscribeRide implements "unsubscribe:ride".
func (s *Service) handleUnsubscribeRide(client *ws.Client, msg *ws.Message) {
	rideID := client.CurrentRide()
	if rideID == "" {
		return
	}
	s.hub.RemoveClientFromRide(client.ID, rideID)
	client.SendMessage(&ws.Message{Type: "unsubscribed:ride", RideID: rideID, Timestamp: time.Now().UTC(), Data: map[string]interface{}{}})
}

// handleDriverLocationUpdate implements "driver:location:update{...}":
// delegates to C5, then broadcasts into the ride room and acks.
func (s *Service) handleDriverLocationUpdate(client *ws.Client, msg *ws.Message) {
	if client.Role != "driver" {
		client.SendMessage(errorMessage("only drivers may update location"))
		return
	}

	sample, ok := parseLocationSample(client.ID, msg.Data)
	if !ok {
		client.SendMessage(errorMessage("invalid location payload"))
		return
	}

	ctx := context.Background()
	tenant, _ := msg.Data["tenant"].(string)
	if err := s.ingest.Ingest(ctx, tenant, sample); err != nil {
		logger.WarnContext(ctx, "failed to ingest location sample from socket", zap.Error(err))
	}

	if rideID, ok := msg.Data["ride_id"].(string); ok && rideID != "" {
		s.hub.SendToRide(rideID, &ws.Message{
			Type:      "driver:location:update",
			RideID:    rideID,
			UserID:    client.ID,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"lat": sample.Lat, "lng": sample.Lng,
				"heading": sample.Heading, "speed": sample.Speed,
			},
		})
	}

	client.SendMessage(&ws.Message{Type: "ack", Timestamp: time.Now().UTC(), Data: map[string]interface{}{"timestamp": sample.Timestamp}})
}

func errorMessage(msg string) *ws.Message {
	return &ws.Message{Type: "error", Timestamp: time.Now().UTC(), Data: map[string]interface{}{"message": msg}}
}

// GetHub returns the WebSocket hub.
func (s *Service) GetHub() *ws.Hub {
	return s.hub
}

// GetStats returns connection statistics.
func (s *Service) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"connected_clients": s.hub.GetClientCount(),
		"active_rooms":      s.hub.GetRoomCount(),
	}
}
