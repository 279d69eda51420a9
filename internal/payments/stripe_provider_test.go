package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe/stripe-go/v78"
)

type fakeIntents struct {
	created *stripe.PaymentIntentParams
	intent  *stripe.PaymentIntent
	err     error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	return f.intent, f.err
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

type fakeRefunds struct {
	params *stripe.RefundParams
	refund *stripe.Refund
}

func (f *fakeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	return f.refund, nil
}

func newStripeForTest(t *testing.T, intents *fakeIntents, refunds *fakeRefunds) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{Clients: &stripeClients{intents: intents, refunds: refunds}})
	require.NoError(t, err)
	return provider
}

func TestStripeCreateOrder(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_1", Amount: 69000, Currency: "inr", ClientSecret: "pi_1_secret", Status: stripe.PaymentIntentStatusRequiresPaymentMethod}}
	provider := newStripeForTest(t, intents, &fakeRefunds{})

	order, err := provider.CreateOrder(context.Background(), RemoteOrderRequest{Receipt: "VV-2024-000001", Amount: 69000, Currency: "INR", Notes: map[string]string{"orderId": "ord_1"}})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", order.ID)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, "pi_1_secret", order.ClientSecret)
	require.NotNil(t, intents.created)
	assert.Equal(t, "inr", *intents.created.Currency)
	assert.Equal(t, "ord_1", intents.created.Metadata["orderId"])
}

func TestStripeVerifyPaymentRequiresSucceededIntent(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_1", Amount: 69000, Currency: "inr", Status: stripe.PaymentIntentStatusProcessing}}
	provider := newStripeForTest(t, intents, &fakeRefunds{})

	_, err := provider.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "pi_1"})
	assert.ErrorIs(t, err, ErrNotCaptured)

	intents.intent = &stripe.PaymentIntent{
		ID:           "pi_1",
		Amount:       69000,
		Currency:     "inr",
		Status:       stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{ID: "ch_1", Paid: true, Created: 1717200000},
	}
	details, err := provider.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "pi_1", GatewayPaymentID: "ch_1", ExpectedAmount: 69000})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, details.Status)
	assert.Equal(t, "ch_1", details.GatewayPaymentID)

	_, err = provider.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "pi_1", ExpectedAmount: 100})
	assert.ErrorIs(t, err, ErrNotCaptured)

	_, err = provider.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "pi_1", GatewayPaymentID: "ch_other"})
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestStripeVerifyPaymentLookupError(t *testing.T) {
	provider := newStripeForTest(t, &fakeIntents{err: errors.New("boom")}, &fakeRefunds{})
	_, err := provider.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "pi_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestStripeRefund(t *testing.T) {
	refunds := &fakeRefunds{refund: &stripe.Refund{ID: "re_1", Amount: 69000, Currency: "inr"}}
	provider := newStripeForTest(t, &fakeIntents{}, refunds)

	details, err := provider.Refund(context.Background(), RefundRequest{GatewayOrderID: "pi_1", Reason: "requested_by_customer"})
	require.NoError(t, err)
	assert.Equal(t, "re_1", details.RefundID)
	assert.Equal(t, StatusRefunded, details.Status)
	require.NotNil(t, refunds.params)
	assert.Equal(t, "pi_1", *refunds.params.PaymentIntent)
	assert.Equal(t, "requested_by_customer", *refunds.params.Reason)
}
