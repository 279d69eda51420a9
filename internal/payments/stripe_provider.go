package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// ProviderStripe is the manager key for Stripe.
const ProviderStripe = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements Provider on top of Payment Intents. Verification
// is server side: the intent is fetched and must report succeeded.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}

	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateOrder creates a Payment Intent; its id acts as the gateway order id.
func (p *StripeProvider) CreateOrder(ctx context.Context, req RemoteOrderRequest) (RemoteOrder, error) {
	if p == nil {
		return RemoteOrder{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return RemoteOrder{}, errors.New("stripe: amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		params.Description = stripe.String(receipt)
		params.AddMetadata("receipt", receipt)
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return RemoteOrder{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
	})
	return RemoteOrder{
		ID:           intent.ID,
		Provider:     ProviderStripe,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}

// VerifyPayment fetches the intent and requires it to have succeeded for the expected amount.
func (p *StripeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.GatewayOrderID)
	if intentID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: payment intent id is required", ErrSignatureMismatch)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(intentID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	details := stripePaymentDetails(intent)
	if details.Status != StatusSucceeded {
		return PaymentDetails{}, fmt.Errorf("%w: intent status %s", ErrNotCaptured, intent.Status)
	}
	if req.ExpectedAmount > 0 && intent.Amount != req.ExpectedAmount {
		return PaymentDetails{}, fmt.Errorf("%w: amount %d does not match %d", ErrNotCaptured, intent.Amount, req.ExpectedAmount)
	}
	if paymentID := strings.TrimSpace(req.GatewayPaymentID); paymentID != "" && paymentID != details.GatewayPaymentID && paymentID != intent.ID {
		return PaymentDetails{}, fmt.Errorf("%w: charge %s does not belong to intent", ErrSignatureMismatch, paymentID)
	}
	p.logger(ctx, "payments.stripe.intent.verified", map[string]any{
		"paymentIntent": intent.ID,
		"charge":        details.GatewayPaymentID,
	})
	return details, nil
}

// Refund creates a refund for the provided Payment Intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.GatewayOrderID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	refund, err := p.api.refunds.New(params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.GatewayOrderID,
		"refund":        refund.ID,
	})
	now := p.clock()
	return PaymentDetails{
		Provider:         ProviderStripe,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		RefundID:         refund.ID,
		Status:           StatusRefunded,
		Amount:           refund.Amount,
		Currency:         strings.ToUpper(string(refund.Currency)),
		RefundedAt:       &now,
	}, nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	var capturedAt *time.Time
	var refundedAt *time.Time
	paymentID := ""
	if charge := intent.LatestCharge; charge != nil {
		paymentID = charge.ID
		if charge.Paid || charge.Captured {
			t := time.Unix(charge.Created, 0).UTC()
			capturedAt = &t
		}
		if charge.Refunded || charge.AmountRefunded > 0 {
			t := time.Unix(charge.Created, 0).UTC()
			refundedAt = &t
			if charge.AmountRefunded >= charge.Amount && charge.Amount > 0 {
				status = StatusRefunded
			}
		}
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	return PaymentDetails{
		Provider:         ProviderStripe,
		GatewayOrderID:   intent.ID,
		GatewayPaymentID: paymentID,
		Status:           status,
		Amount:           intent.Amount,
		Currency:         currency,
		CapturedAt:       capturedAt,
		RefundedAt:       refundedAt,
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
