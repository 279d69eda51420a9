package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrSignatureMismatch is returned when a callback signature does not verify.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrNotCaptured is returned when the PSP does not report the payment as captured.
	ErrNotCaptured = errors.New("payments: payment not captured")
)

// RemoteOrderRequest asks the PSP to open a payable order.
type RemoteOrderRequest struct {
	Receipt        string
	Amount         int64
	Currency       string
	Notes          map[string]string
	IdempotencyKey string
}

// RemoteOrder is the PSP order handed back to the client to complete payment.
type RemoteOrder struct {
	ID           string
	Provider     string
	Amount       int64
	Currency     string
	ClientSecret string
	Status       string
}

// VerifyRequest carries the identifiers returned by the client-side checkout.
type VerifyRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	ExpectedAmount   int64
}

// RefundRequest defines a PSP refund attempt.
type RefundRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           *int64
	Reason           string
	IdempotencyKey   string
	Metadata         map[string]string
}

// PaymentDetails normalises PSP specific fields for storage.
type PaymentDetails struct {
	Provider         string
	GatewayOrderID   string
	GatewayPaymentID string
	RefundID         string
	Status           Status
	Amount           int64
	Currency         string
	CapturedAt       *time.Time
	RefundedAt       *time.Time
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateOrder(ctx context.Context, req RemoteOrderRequest) (RemoteOrder, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap[ProviderHMACGateway]; ok {
		m.defaultProvider = ProviderHMACGateway
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Resolve returns the provider key that would serve the context.
func (m *Manager) Resolve(ctx PaymentContext) (string, error) {
	key, _, err := m.resolveProvider(ctx)
	return key, err
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateOrder delegates to the resolved provider.
func (m *Manager) CreateOrder(ctx context.Context, paymentCtx PaymentContext, req RemoteOrderRequest) (RemoteOrder, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return RemoteOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return RemoteOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// VerifyPayment delegates to the resolved provider.
func (m *Manager) VerifyPayment(ctx context.Context, paymentCtx PaymentContext, req VerifyRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.VerifyPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.Refund(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}
