package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/vinuvisthara/api/internal/services"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotificationPublisher queues order notifications on a Kafka topic,
// keyed by order id so one order's notifications stay in sequence.
type KafkaNotificationPublisher struct {
	writer messageWriter
}

// NewKafkaNotificationPublisher builds a publisher writing to topic on brokers.
func NewKafkaNotificationPublisher(brokers []string, topic string) (*KafkaNotificationPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka notification publisher: brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka notification publisher: topic is required")
	}
	return newKafkaNotificationPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        strings.TrimSpace(topic),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}), nil
}

func newKafkaNotificationPublisher(writer messageWriter) *KafkaNotificationPublisher {
	return &KafkaNotificationPublisher{writer: writer}
}

// PublishNotification writes one message and waits for broker acknowledgement.
func (p *KafkaNotificationPublisher) PublishNotification(ctx context.Context, notification services.Notification) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka notification publisher: not initialised")
	}
	data, err := json.Marshal(newNotificationMessage(notification))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	attrs := notificationAttributes(notification)
	headers := make([]kafka.Header, 0, len(attrs))
	for key, value := range attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	key := notification.OrderID
	if key == "" {
		key = notification.ID
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
		Time:    notification.CreatedAt,
	}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaNotificationPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
