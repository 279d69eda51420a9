package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vinuvisthara/api/internal/domain"
)

const meterName = "github.com/vinuvisthara/api/internal/platform/observability"

// CommerceMetrics records order, payment and carrier counters through OpenTelemetry.
type CommerceMetrics struct {
	ordersCreated   metric.Int64Counter
	orderValue      metric.Int64Histogram
	paymentVerified metric.Int64Counter
	carrierFailures metric.Int64Counter
}

// NewCommerceMetrics registers instruments on meter, or on the global
// provider when meter is nil.
func NewCommerceMetrics(meter metric.Meter) (*CommerceMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	ordersCreated, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed, by payment method"))
	if err != nil {
		return nil, fmt.Errorf("observability: orders.created: %w", err)
	}
	orderValue, err := meter.Int64Histogram("orders.value",
		metric.WithDescription("Order grand total in minor currency units"),
		metric.WithUnit("{paise}"))
	if err != nil {
		return nil, fmt.Errorf("observability: orders.value: %w", err)
	}
	paymentVerified, err := meter.Int64Counter("payments.verified",
		metric.WithDescription("Payment verification outcomes, by provider"))
	if err != nil {
		return nil, fmt.Errorf("observability: payments.verified: %w", err)
	}
	carrierFailures, err := meter.Int64Counter("carrier.failures",
		metric.WithDescription("Failed carrier API operations"))
	if err != nil {
		return nil, fmt.Errorf("observability: carrier.failures: %w", err)
	}
	return &CommerceMetrics{
		ordersCreated:   ordersCreated,
		orderValue:      orderValue,
		paymentVerified: paymentVerified,
		carrierFailures: carrierFailures,
	}, nil
}

func (m *CommerceMetrics) OrderCreated(ctx context.Context, method domain.PaymentMethod, total int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("payment_method", string(method)))
	m.ordersCreated.Add(ctx, 1, attrs)
	m.orderValue.Record(ctx, total, attrs)
}

func (m *CommerceMetrics) PaymentVerified(ctx context.Context, provider string, ok bool) {
	if m == nil {
		return
	}
	m.paymentVerified.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("ok", ok),
	))
}

func (m *CommerceMetrics) CarrierCallFailed(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.carrierFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
