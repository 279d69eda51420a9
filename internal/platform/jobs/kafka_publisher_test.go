package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotificationPublisherWritesKeyedMessage(t *testing.T) {
	writer := &recordingWriter{}
	publisher := newKafkaNotificationPublisher(writer)

	if err := publisher.PublishNotification(context.Background(), testNotification()); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "ord_01" {
		t.Fatalf("expected order id key, got %q", msg.Key)
	}
	var payload NotificationMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Template != "order_confirmation" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["notificationId"] != "ntf_01" || headers["template"] != "order_confirmation" {
		t.Fatalf("unexpected headers %#v", headers)
	}

	if err := publisher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !writer.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestKafkaNotificationPublisherFallsBackToNotificationKey(t *testing.T) {
	writer := &recordingWriter{}
	publisher := newKafkaNotificationPublisher(writer)

	n := testNotification()
	n.OrderID = ""
	if err := publisher.PublishNotification(context.Background(), n); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}
	if string(writer.messages[0].Key) != "ntf_01" {
		t.Fatalf("expected notification id key, got %q", writer.messages[0].Key)
	}
}

func TestKafkaNotificationPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	publisher := newKafkaNotificationPublisher(&recordingWriter{err: boom})

	err := publisher.PublishNotification(context.Background(), testNotification())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestNewKafkaNotificationPublisherValidatesInput(t *testing.T) {
	if _, err := NewKafkaNotificationPublisher(nil, "topic"); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaNotificationPublisher([]string{"localhost:9092"}, " "); err == nil {
		t.Fatalf("expected error without topic")
	}
	publisher, err := NewKafkaNotificationPublisher([]string{"localhost:9092"}, "order-notifications")
	if err != nil {
		t.Fatalf("NewKafkaNotificationPublisher: %v", err)
	}
	_ = publisher.Close()
}
