package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TopicHeader carries the notification topic on every Kafka message.
const TopicHeader = "notification-topic"

// MessageWriter is the subset of Producer the publisher needs
type MessageWriter interface {
	Write(ctx context.Context, msg kafka.Message) error
}

// partitionKeyer is implemented by events that must stay ordered per key
type partitionKeyer interface {
	PartitionKey() string
}

// EventPublisher publishes domain notifications onto one Kafka topic
type EventPublisher struct {
	writer     MessageWriter
	kafkaTopic string
	logger     *zap.Logger
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer MessageWriter, kafkaTopic string) *EventPublisher {
	return &EventPublisher{
		writer:     writer,
		kafkaTopic: kafkaTopic,
		logger:     util.GetLogger(),
	}
}

// Publish sends payload as JSON under the given notification topic
func (ep *EventPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}

	key := topic
	if k, ok := payload.(partitionKeyer); ok {
		key = k.PartitionKey()
	}

	msg := kafka.Message{
		Topic:   ep.kafkaTopic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: TopicHeader, Value: []byte(topic)}},
	}

	if err := ep.writer.Write(ctx, msg); err != nil {
		return err
	}

	ep.logger.Debug("Published event", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// MessageTopic returns the notification topic of a consumed message
func MessageTopic(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == TopicHeader {
			return string(h.Value)
		}
	}
	return ""
}
