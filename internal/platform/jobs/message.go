package jobs

import (
	"strings"
	"time"

	"github.com/vinuvisthara/api/internal/services"
)

// NotificationMessage is the wire form consumed by the mail worker.
type NotificationMessage struct {
	ID        string         `json:"id"`
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	OrderID   string         `json:"orderId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func newNotificationMessage(n services.Notification) NotificationMessage {
	return NotificationMessage{
		ID:        n.ID,
		Template:  n.Template,
		Recipient: n.Recipient,
		OrderID:   n.OrderID,
		Data:      n.Data,
		CreatedAt: n.CreatedAt.UTC(),
	}
}

func notificationAttributes(n services.Notification) map[string]string {
	attrs := make(map[string]string, 3)
	setAttr(attrs, "notificationId", n.ID)
	setAttr(attrs, "template", n.Template)
	setAttr(attrs, "orderId", n.OrderID)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
