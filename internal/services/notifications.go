package services

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Notification templates understood by the mail worker.
const (
	TemplateOrderConfirmation   = "order_confirmation"
	TemplatePaymentConfirmation = "payment_confirmation"
	TemplateOrderShipped        = "order_shipped"
	TemplateOrderDelivered      = "order_delivered"
	TemplateOrderCancelled      = "order_cancelled"
	TemplateOrderRefunded       = "order_refunded"

	notificationIDPrefix = "ntf_"
)

// NotificationDispatcherDeps wires the dispatcher.
type NotificationDispatcherDeps struct {
	Publisher   NotificationPublisher
	StoreName   string
	Locale      string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// NotificationDispatcher builds order notifications and hands them to the
// publisher. Delivery failures are logged and never returned.
type NotificationDispatcher struct {
	publisher NotificationPublisher
	storeName string
	printer   *message.Printer
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewNotificationDispatcher constructs a dispatcher. A nil publisher yields a
// dispatcher that only logs.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) *NotificationDispatcher {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tag := language.English
	if locale := strings.TrimSpace(deps.Locale); locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			tag = parsed
		}
	}
	return &NotificationDispatcher{
		publisher: deps.Publisher,
		storeName: strings.TrimSpace(deps.StoreName),
		printer:   message.NewPrinter(tag),
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}
}

// OrderNotification emits template for order, addressed to the shipping contact.
func (d *NotificationDispatcher) OrderNotification(ctx context.Context, template string, order Order, extra map[string]any) {
	if d == nil {
		return
	}
	recipient := strings.TrimSpace(order.ShippingAddress.Email)
	if recipient == "" && order.BillingAddress != nil {
		recipient = strings.TrimSpace(order.BillingAddress.Email)
	}
	if recipient == "" {
		d.logger(ctx, "notification.skipped", map[string]any{
			"template": template,
			"orderId":  order.ID,
			"reason":   "no recipient",
		})
		return
	}

	data := map[string]any{
		"orderNumber":   order.Number,
		"customerName":  order.ShippingAddress.Name,
		"status":        string(order.Status),
		"paymentMethod": string(order.PaymentMethod),
		"subtotal":      d.FormatMoney(order.Totals.Subtotal, order.Currency),
		"discount":      d.FormatMoney(order.Totals.Discount, order.Currency),
		"shipping":      d.FormatMoney(order.Totals.Shipping, order.Currency),
		"tax":           d.FormatMoney(order.Totals.Tax, order.Currency),
		"total":         d.FormatMoney(order.Totals.Total, order.Currency),
		"itemCount":     len(order.Items),
	}
	if d.storeName != "" {
		data["storeName"] = d.storeName
	}
	if order.TrackingNumber != "" {
		data["trackingNumber"] = order.TrackingNumber
		data["carrierName"] = order.CarrierName
	}
	maps.Copy(data, extra)

	d.Enqueue(ctx, Notification{
		Template:  template,
		Recipient: recipient,
		OrderID:   order.ID,
		Data:      data,
	})
}

// Enqueue publishes a notification. Errors are swallowed after logging.
func (d *NotificationDispatcher) Enqueue(ctx context.Context, notification Notification) {
	if d == nil {
		return
	}
	if notification.ID == "" {
		notification.ID = notificationIDPrefix + d.newID()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = d.clock()
	}
	if d.publisher == nil {
		d.logger(ctx, "notification.dropped", map[string]any{
			"template": notification.Template,
			"orderId":  notification.OrderID,
		})
		return
	}
	if err := d.publisher.PublishNotification(ctx, notification); err != nil {
		d.logger(ctx, "notification.publish.failed", map[string]any{
			"template": notification.Template,
			"orderId":  notification.OrderID,
			"error":    err.Error(),
		})
		return
	}
	d.logger(ctx, "notification.queued", map[string]any{
		"template": notification.Template,
		"orderId":  notification.OrderID,
		"id":       notification.ID,
	})
}

// FormatMoney renders a minor-unit amount as "INR 1,234.00".
func (d *NotificationDispatcher) FormatMoney(minor int64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		unit = currency.INR
	}
	scale, _ := currency.Standard.Rounding(unit)
	divisor := 1.0
	for range scale {
		divisor *= 10
	}
	value := float64(minor) / divisor
	return unit.String() + " " + d.printer.Sprint(number.Decimal(value, number.Scale(scale)))
}

var errNilNotificationPublisher = errors.New("notification publisher is nil")

// PublisherFunc adapts a function to NotificationPublisher.
type PublisherFunc func(ctx context.Context, notification Notification) error

// PublishNotification calls f.
func (f PublisherFunc) PublishNotification(ctx context.Context, notification Notification) error {
	if f == nil {
		return errNilNotificationPublisher
	}
	return f(ctx, notification)
}
