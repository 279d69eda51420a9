package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinuvisthara/api/internal/carrier"
	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/payments"
	"github.com/vinuvisthara/api/internal/repositories"
	"github.com/vinuvisthara/api/internal/repositories/memory"
)

var harnessNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }

// harness wires every service over the in-memory store.
type harness struct {
	store       *memory.Store
	resolver    DiscountResolver
	carts       CartService
	orders      OrderService
	fulfillment FulfillmentService
	payments    PaymentService
	gateway     *payments.HMACGateway
	carrier     *fakeShipmentGateway
	outbox      *recordingPublisher
	events      *eventLog
	seq         atomic.Int64
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	autoPush    bool
	labels      LabelArchive
	paymentRepo func(repositories.PaymentRepository) repositories.PaymentRepository
}

func withPaymentRepository(wrap func(repositories.PaymentRepository) repositories.PaymentRepository) harnessOption {
	return func(c *harnessConfig) { c.paymentRepo = wrap }
}

func withAutoPush() harnessOption {
	return func(c *harnessConfig) { c.autoPush = true }
}

func withLabels(archive LabelArchive) harnessOption {
	return func(c *harnessConfig) { c.labels = archive }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	var cfg harnessConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		store:   memory.NewStore(),
		carrier: &fakeShipmentGateway{configured: true},
		outbox:  &recordingPublisher{},
		events:  &eventLog{},
	}
	clock := func() time.Time { return harnessNow }
	idGen := func() string { return fmt.Sprintf("%06d", h.seq.Add(1)) }
	logger := h.events.log

	gatewaySrv := httptest.NewServer(http.HandlerFunc(fakeGatewayAPI))
	t.Cleanup(gatewaySrv.Close)
	gateway, err := payments.NewHMACGateway(payments.HMACGatewayConfig{
		BaseURL:   gatewaySrv.URL,
		KeyID:     "key_test",
		KeySecret: "secret_test",
	})
	if err != nil {
		t.Fatalf("NewHMACGateway: %v", err)
	}
	h.gateway = gateway
	manager, err := payments.NewManager(map[string]payments.Provider{payments.ProviderHMACGateway: gateway})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	notifications := NewNotificationDispatcher(NotificationDispatcherDeps{
		Publisher:   h.outbox,
		StoreName:   "Vinuvisthara",
		Clock:       clock,
		IDGenerator: idGen,
		Logger:      logger,
	})

	h.resolver, err = NewDiscountResolver(DiscountResolverDeps{
		Discounts: h.store.Discounts(),
		Coupons:   h.store.Coupons(),
		Products:  h.store.Products(),
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewDiscountResolver: %v", err)
	}
	h.carts, err = NewCartService(CartServiceDeps{
		Carts:       h.store.Carts(),
		Products:    h.store.Products(),
		Settings:    h.store.Settings(),
		Discounts:   h.resolver,
		UnitOfWork:  h.store,
		Clock:       clock,
		IDGenerator: idGen,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	h.orders, err = NewOrderService(OrderServiceDeps{
		Orders:        h.store.Orders(),
		Products:      h.store.Products(),
		Carts:         h.store.Carts(),
		Coupons:       h.store.Coupons(),
		Settings:      h.store.Settings(),
		Counters:      h.store.Counters(),
		Discounts:     h.resolver,
		Carrier:       h.carrier,
		Notifications: notifications,
		UnitOfWork:    h.store,
		Clock:         clock,
		IDGenerator:   idGen,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	h.fulfillment, err = NewFulfillmentService(FulfillmentServiceDeps{
		Orders:        h.store.Orders(),
		Carrier:       h.carrier,
		Labels:        cfg.labels,
		Notifications: notifications,
		UnitOfWork:    h.store,
		Clock:         clock,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("NewFulfillmentService: %v", err)
	}
	paymentRepo := h.store.Payments()
	if cfg.paymentRepo != nil {
		paymentRepo = cfg.paymentRepo(paymentRepo)
	}
	h.payments, err = NewPaymentService(PaymentServiceDeps{
		Orders:            h.store.Orders(),
		Payments:          paymentRepo,
		Carts:             h.store.Carts(),
		Gateway:           manager,
		Fulfillment:       h.fulfillment,
		AutoPushToCarrier: cfg.autoPush,
		Notifications:     notifications,
		UnitOfWork:        h.store,
		Clock:             clock,
		IDGenerator:       idGen,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return h
}

// product seeds an active product priced in paise.
func (h *harness) product(id string, price int64, stock int, taxBps *int64) domain.Product {
	p := domain.Product{
		ID:          id,
		SKU:         strings.ToUpper(id),
		Name:        "Product " + id,
		Price:       price,
		Stock:       stock,
		TaxRateBps:  taxBps,
		WeightGrams: 500,
		Active:      true,
	}
	h.store.PutProduct(p)
	return p
}

func (h *harness) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := h.store.Products().Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product %s: %v", productID, err)
	}
	return p.Stock
}

func (h *harness) addToCart(t *testing.T, customerID, productID string, qty int) Cart {
	t.Helper()
	cart, err := h.carts.AddItem(context.Background(), AddCartItemCommand{
		Owner:     CartOwner{CustomerID: customerID},
		ProductID: productID,
		Quantity:  qty,
	})
	if err != nil {
		t.Fatalf("AddItem(%s, %s): %v", customerID, productID, err)
	}
	return cart
}

func (h *harness) placeOrder(t *testing.T, customerID string, method domain.PaymentMethod) Order {
	t.Helper()
	order, err := h.orders.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID:      customerID,
		ShippingAddress: testAddress(),
		PaymentMethod:   method,
	})
	if err != nil {
		t.Fatalf("CreateOrder(%s): %v", customerID, err)
	}
	return order
}

func testAddress() Address {
	return Address{
		Name:       "Asha Rao",
		Line1:      "12 MG Road",
		City:       "Bengaluru",
		State:      "Karnataka",
		PostalCode: "560001",
		Country:    "IN",
		Phone:      "+919800000000",
		Email:      "asha@example.com",
	}
}

func assertCartInvariant(t *testing.T, cart Cart) {
	t.Helper()
	if cart.Total != cart.Subtotal+cart.Shipping+cart.Tax-cart.Discount {
		t.Fatalf("cart total %d != %d + %d + %d - %d", cart.Total, cart.Subtotal, cart.Shipping, cart.Tax, cart.Discount)
	}
	if cart.Total < 0 {
		t.Fatalf("cart total negative: %d", cart.Total)
	}
	if cart.Discount > cart.Subtotal {
		t.Fatalf("discount %d exceeds subtotal %d", cart.Discount, cart.Subtotal)
	}
	var subtotal int64
	for _, item := range cart.Items {
		if item.Total != item.UnitPrice*int64(item.Quantity) {
			t.Fatalf("line %s total %d != %d x %d", item.ID, item.Total, item.UnitPrice, item.Quantity)
		}
		subtotal += item.Total
	}
	if subtotal != cart.Subtotal {
		t.Fatalf("subtotal %d != sum of lines %d", cart.Subtotal, subtotal)
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (p *recordingPublisher) PublishNotification(_ context.Context, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPublisher) templates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, n := range p.sent {
		out = append(out, n.Template)
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeShipmentGateway struct {
	mu          sync.Mutex
	configured  bool
	pushErr     error
	awbErr      error
	pushed      []string
	assigned    []string
	pickups     [][]string
	cancelled   []string
	labelURL    string
	pickupToken string
}

func (f *fakeShipmentGateway) Configured() bool { return f.configured }

func (f *fakeShipmentGateway) CreateOrderAndAssignAWB(_ context.Context, order Order) (carrier.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return carrier.Shipment{}, f.pushErr
	}
	f.pushed = append(f.pushed, order.ID)
	n := len(f.pushed)
	if f.awbErr != nil {
		return carrier.Shipment{CarrierOrderID: fmt.Sprintf("co_%d", n), ShipmentID: fmt.Sprintf("sh_%d", n)}, f.awbErr
	}
	return carrier.Shipment{
		CarrierOrderID: fmt.Sprintf("co_%d", n),
		ShipmentID:     fmt.Sprintf("sh_%d", n),
		AWB:            fmt.Sprintf("AWB%06d", n),
		CourierName:    "Delhivery",
	}, nil
}

func (f *fakeShipmentGateway) AssignAWB(_ context.Context, shipmentID string) (carrier.AWBResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.awbErr != nil {
		return carrier.AWBResult{}, f.awbErr
	}
	f.assigned = append(f.assigned, shipmentID)
	return carrier.AWBResult{ShipmentID: shipmentID, AWB: fmt.Sprintf("AWB-R%06d", len(f.assigned)), CourierName: "Delhivery"}, nil
}

func (f *fakeShipmentGateway) GeneratePickup(_ context.Context, shipmentIDs []string) (carrier.PickupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pickups = append(f.pickups, shipmentIDs)
	at := harnessNow.Add(24 * time.Hour)
	return carrier.PickupResult{ScheduledAt: &at, TokenNumber: f.pickupToken}, nil
}

func (f *fakeShipmentGateway) GenerateLabel(_ context.Context, shipmentID string) (carrier.LabelResult, error) {
	url := f.labelURL
	if url == "" {
		url = "https://carrier.example/labels/" + shipmentID + ".pdf"
	}
	return carrier.LabelResult{LabelURL: url}, nil
}

func (f *fakeShipmentGateway) CancelOrder(_ context.Context, carrierOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, carrierOrderID)
	return nil
}

var gatewayOrderSeq atomic.Int64

// fakeGatewayAPI serves the hosted gateway's order and refund endpoints.
func fakeGatewayAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/orders":
		var body struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       fmt.Sprintf("order_gw_%d", gatewayOrderSeq.Add(1)),
			"amount":   body.Amount,
			"currency": body.Currency,
			"status":   "created",
		})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/refund"):
		paymentID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/payments/"), "/refund")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "rfnd_" + paymentID,
			"payment_id": paymentID,
			"amount":     0,
			"currency":   "INR",
			"status":     "processed",
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
