package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/vinuvisthara/api/internal/services"
)

// LogNotificationPublisher writes notifications to the structured log. Used
// when no queue is configured.
type LogNotificationPublisher struct {
	logger *zap.Logger
}

// NewLogNotificationPublisher returns a publisher bound to logger.
func NewLogNotificationPublisher(logger *zap.Logger) *LogNotificationPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationPublisher{logger: logger.Named("notifications")}
}

func (p *LogNotificationPublisher) PublishNotification(_ context.Context, notification services.Notification) error {
	p.logger.Info("notification",
		zap.String("notificationId", notification.ID),
		zap.String("template", notification.Template),
		zap.String("recipient", notification.Recipient),
		zap.String("orderId", notification.OrderID),
		zap.Any("data", notification.Data),
	)
	return nil
}
