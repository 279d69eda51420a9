package observability

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/vinuvisthara/api/internal/domain"
)

type recordedPoint struct {
	name  string
	value int64
	attrs attribute.Set
}

type recordingMeter struct {
	noop.Meter
	mu     sync.Mutex
	points []recordedPoint
}

func (m *recordingMeter) record(name string, value int64, opts []metric.AddOption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := metric.NewAddConfig(opts)
	m.points = append(m.points, recordedPoint{name: name, value: value, attrs: cfg.Attributes()})
}

type recordingCounter struct {
	noop.Int64Counter
	name  string
	meter *recordingMeter
}

func (c recordingCounter) Add(_ context.Context, v int64, opts ...metric.AddOption) {
	c.meter.record(c.name, v, opts)
}

type recordingHistogram struct {
	noop.Int64Histogram
	name  string
	meter *recordingMeter
}

func (h recordingHistogram) Record(_ context.Context, v int64, opts ...metric.RecordOption) {
	cfg := metric.NewRecordConfig(opts)
	h.meter.record(h.name, v, []metric.AddOption{metric.WithAttributeSet(cfg.Attributes())})
}

func (m *recordingMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return recordingCounter{name: name, meter: m}, nil
}

func (m *recordingMeter) Int64Histogram(name string, _ ...metric.Int64HistogramOption) (metric.Int64Histogram, error) {
	return recordingHistogram{name: name, meter: m}, nil
}

func TestCommerceMetricsRecordsBusinessCounters(t *testing.T) {
	meter := &recordingMeter{}
	m, err := NewCommerceMetrics(meter)
	if err != nil {
		t.Fatalf("NewCommerceMetrics: %v", err)
	}
	ctx := context.Background()
	m.OrderCreated(ctx, domain.PaymentMethodCOD, 59000)
	m.PaymentVerified(ctx, "gateway", false)
	m.CarrierCallFailed(ctx, "push")

	if len(meter.points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(meter.points))
	}
	byName := map[string]recordedPoint{}
	for _, p := range meter.points {
		byName[p.name] = p
	}
	createdAttrs := byName["orders.created"].attrs
	if v, _ := createdAttrs.Value("payment_method"); v.AsString() != string(domain.PaymentMethodCOD) {
		t.Fatalf("unexpected payment method attribute %v", v)
	}
	if byName["orders.value"].value != 59000 {
		t.Fatalf("expected order value 59000, got %d", byName["orders.value"].value)
	}
	verifiedAttrs := byName["payments.verified"].attrs
	if v, _ := verifiedAttrs.Value("ok"); v.AsBool() {
		t.Fatalf("expected ok=false")
	}
	failuresAttrs := byName["carrier.failures"].attrs
	if v, _ := failuresAttrs.Value("op"); v.AsString() != "push" {
		t.Fatalf("unexpected op attribute %v", v)
	}
}

func TestCommerceMetricsNilSafe(t *testing.T) {
	var m *CommerceMetrics
	m.OrderCreated(context.Background(), domain.PaymentMethodGateway, 1)
	m.PaymentVerified(context.Background(), "stripe", true)
	m.CarrierCallFailed(context.Background(), "label")

	if _, err := NewCommerceMetrics(noop.NewMeterProvider().Meter("test")); err != nil {
		t.Fatalf("noop meter: %v", err)
	}
}
