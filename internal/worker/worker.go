package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ChannelPublisher pushes a message to a realtime pub/sub channel
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// NotificationWorker relays marketplace events from Kafka to per-user
// realtime channels.
type NotificationWorker struct {
	consumer  *broker.Consumer
	publisher ChannelPublisher
	logger    *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, publisher ChannelPublisher) *NotificationWorker {
	return &NotificationWorker{
		consumer:  consumer,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.Relay)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

// notification is what realtime subscribers receive
type notification struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Relay forwards one consumed message. Malformed messages are dropped so
// they do not block the partition.
func (w *NotificationWorker) Relay(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		w.logger.Warn("Dropping undecodable notification", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	if base.UserID == 0 {
		w.logger.Warn("Dropping notification without recipient",
			zap.String("event_id", base.EventID), zap.String("event_type", base.EventType))
		return nil
	}

	topic := broker.MessageTopic(msg)
	if topic == "" {
		topic = base.EventType
	}

	out, err := json.Marshal(notification{Topic: topic, Payload: msg.Value})
	if err != nil {
		return err
	}

	if err := w.publisher.Publish(ctx, UserChannel(base.UserID), out); err != nil {
		return fmt.Errorf("failed to relay %s to user %d: %w", topic, base.UserID, err)
	}

	util.NotificationsRelayedTotal.WithLabelValues(topic).Inc()
	return nil
}

// UserChannel is the realtime channel a user's clients subscribe to
func UserChannel(userID int64) string {
	return fmt.Sprintf("notifications:user:%d", userID)
}
