package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	order   RemoteOrder
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) CreateOrder(ctx context.Context, req RemoteOrderRequest) (RemoteOrder, error) {
	f.lastOp = "create"
	return f.order, f.err
}

func (f *fakeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	f.lastOp = "verify"
	return f.payment, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func TestManagerCreateOrderUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeProvider{order: RemoteOrder{ID: "order_gw"}}
	stripe := &fakeProvider{order: RemoteOrder{ID: "pi_stripe"}}

	mgr, err := NewManager(map[string]Provider{
		ProviderHMACGateway: gateway,
		ProviderStripe:      stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	order, err := mgr.CreateOrder(ctx, PaymentContext{PreferredProvider: "stripe"}, RemoteOrderRequest{Amount: 100, Currency: "INR"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Provider != ProviderStripe || order.ID != "pi_stripe" {
		t.Fatalf("expected stripe order, got %+v", order)
	}
	if gateway.lastOp != "" {
		t.Fatalf("expected gateway provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeProvider{order: RemoteOrder{ID: "order_gw"}}
	stripe := &fakeProvider{order: RemoteOrder{ID: "pi_stripe"}}

	mgr, err := NewManager(
		map[string]Provider{
			ProviderHMACGateway: gateway,
			ProviderStripe:      stripe,
		},
		WithCurrencyRoutes(map[string]string{"usd": "stripe"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	order, err := mgr.CreateOrder(ctx, PaymentContext{Currency: "USD"}, RemoteOrderRequest{Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Provider != ProviderStripe {
		t.Fatalf("expected stripe, got %q", order.Provider)
	}

	order, err = mgr.CreateOrder(ctx, PaymentContext{Currency: "INR"}, RemoteOrderRequest{Amount: 100, Currency: "INR"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Provider != ProviderHMACGateway {
		t.Fatalf("expected default gateway for INR, got %q", order.Provider)
	}
}

func TestManagerVerifyStampsProvider(t *testing.T) {
	gateway := &fakeProvider{payment: PaymentDetails{Status: StatusSucceeded}}
	mgr, err := NewManager(map[string]Provider{ProviderHMACGateway: gateway})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	details, err := mgr.VerifyPayment(context.Background(), PaymentContext{}, VerifyRequest{GatewayOrderID: "o", GatewayPaymentID: "p", Signature: "s"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if gateway.lastOp != "verify" || details.Provider != ProviderHMACGateway {
		t.Fatalf("unexpected verify routing: op=%q provider=%q", gateway.lastOp, details.Provider)
	}
}

func TestManagerPropagatesProviderErrors(t *testing.T) {
	gateway := &fakeProvider{err: ErrSignatureMismatch}
	mgr, err := NewManager(map[string]Provider{ProviderHMACGateway: gateway})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.VerifyPayment(context.Background(), PaymentContext{}, VerifyRequest{}); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "other": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreateOrder(ctx, PaymentContext{PreferredProvider: "unknown"}, RemoteOrderRequest{Currency: "INR"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	_, err = mgr.Refund(ctx, PaymentContext{}, RefundRequest{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider without default, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
