package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/vinuvisthara/api/internal/services"
)

// PubSubNotificationPublisher queues order notifications on a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification blocks until Pub/Sub acknowledges the message. Messages
// for one order share an ordering key when the topic has ordering enabled.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, notification services.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}
	data, err := p.marshal(newNotificationMessage(notification))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: notificationAttributes(notification),
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = notification.OrderID
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubNotificationPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
