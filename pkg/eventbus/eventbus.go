package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/fleetcore/dispatch/pkg/logger"
	"go.uber.org/zap"
)

// Topic subject roots. Three logical topics, each keyed as described in the
// wire schema: rides.<tenant>.events (ride-events, key=tenant), locations.<tenant>
// (location-updates, key=tenant), notifications.<userId> (notifications,
// key=userId).
const (
	topicRideEvents    = "rides"
	topicLocationUpdates = "locations"
	topicNotifications = "notifications"
)

// RideEventsSubject returns the ride-events subject for a tenant.
func RideEventsSubject(tenant string) string {
	return topicRideEvents + "." + tenant + ".events"
}

// RideEventsWildcard subscribes across all tenants' ride-events.
func RideEventsWildcard() string {
	return topicRideEvents + ".*.events"
}

// LocationUpdatesSubject returns the location-updates subject for a tenant.
func LocationUpdatesSubject(tenant string) string {
	return topicLocationUpdates + "." + tenant
}

// LocationUpdatesWildcard subscribes across all tenants' location updates.
func LocationUpdatesWildcard() string {
	return topicLocationUpdates + ".*"
}

// NotificationsSubject returns the notifications subject for a user.
func NotificationsSubject(userID string) string {
	return topicNotifications + "." + userID
}

// NotificationsWildcard subscribes across all users' notifications; this is
// what the realtime fabric's consumer group uses.
func NotificationsWildcard() string {
	return topicNotifications + ".*"
}

// Event is the envelope for all events published through the bus.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent creates a new event with a unique ID and current timestamp.
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// HandlerFunc processes a received event. Return nil to ack, error to nack.
type HandlerFunc func(ctx context.Context, event *Event) error

// Config holds NATS connection settings.
type Config struct {
	URL       string
	Name      string // client connection name
	StreamName string // JetStream stream name (default: "RIDEHAILING")
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		URL:        nats.DefaultURL,
		Name:       "ride-hailing",
		StreamName: "RIDEHAILING",
	}
}

// Bus wraps a NATS JetStream connection for publishing and subscribing.
type Bus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	subs   []jetstream.ConsumeContext
}

// New connects to NATS and ensures the JetStream stream exists.
func New(cfg Config) (*Bus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Create or update the stream
	streamName := cfg.StreamName
	if streamName == "" {
		streamName = "RIDEHAILING"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"rides.>", "locations.>", "notifications.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.InterestPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}

	logger.Info("NATS event bus connected",
		zap.String("url", cfg.URL),
		zap.String("stream", streamName),
	)

	return &Bus{conn: nc, js: js, cfg: cfg}, nil
}

// Publish sends an event to the given subject with JetStream guarantees.
func (b *Bus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = b.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(event.ID),
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
	)
	return nil
}

// PublishRideEvent publishes a domain state change to the ride-events topic,
// keyed by tenant.
func (b *Bus) PublishRideEvent(ctx context.Context, tenant, rideID string, eventType RideEventType, data interface{}) error {
	envelope := RideEventEnvelope{RideID: rideID, Tenant: tenant, EventType: eventType, Data: data, Timestamp: time.Now().UTC()}
	event, err := NewEvent(string(eventType), "ride-state-machine", envelope)
	if err != nil {
		return err
	}
	return b.Publish(ctx, RideEventsSubject(tenant), event)
}

// PublishLocationUpdate publishes driver telemetry to the location-updates
// topic, keyed by tenant.
func (b *Bus) PublishLocationUpdate(ctx context.Context, tenant string, envelope LocationUpdateEnvelope) error {
	event, err := NewEvent("DRIVER_LOCATION", "location-ingest", envelope)
	if err != nil {
		return err
	}
	return b.Publish(ctx, LocationUpdatesSubject(tenant), event)
}

// PublishNotification publishes a realtime-fabric delivery to the
// notifications topic, keyed by the target user.
func (b *Bus) PublishNotification(ctx context.Context, userID string, notifType RideEventType, payload interface{}) error {
	envelope := NotificationEnvelope{UserID: userID, Type: notifType, Payload: payload, Timestamp: time.Now().UTC()}
	event, err := NewEvent(string(notifType), "notifier", envelope)
	if err != nil {
		return err
	}
	return b.Publish(ctx, NotificationsSubject(userID), event)
}

// Subscribe creates a durable consumer and processes messages with the handler.
// The consumerName should be unique per subscribing service (e.g., "notifications-rides").
func (b *Bus) Subscribe(ctx context.Context, subject, consumerName string, handler HandlerFunc) error {
	streamName := b.cfg.StreamName
	if streamName == "" {
		streamName = "RIDEHAILING"
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			logger.Warn("failed to unmarshal event", zap.Error(err))
			msg.Term() // don't redeliver malformed messages
			return
		}

		if err := handler(ctx, &event); err != nil {
			logger.Warn("event handler error, will retry",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.Error(err),
			)
			msg.Nak() // redeliver
			return
		}

		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}

	b.subs = append(b.subs, cc)
	logger.Info("subscribed to events",
		zap.String("subject", subject),
		zap.String("consumer", consumerName),
	)
	return nil
}

// SubscribeAll subscribes to a wildcard subject (e.g., "rides.>").
func (b *Bus) SubscribeAll(ctx context.Context, subjectPattern, consumerName string, handler HandlerFunc) error {
	return b.Subscribe(ctx, subjectPattern, consumerName, handler)
}

// Close drains subscriptions and closes the NATS connection.
func (b *Bus) Close() {
	for _, sub := range b.subs {
		sub.Stop()
	}
	if b.conn != nil {
		b.conn.Drain()
	}
	logger.Info("NATS event bus closed")
}

// Connected returns true if the NATS connection is active.
func (b *Bus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}
