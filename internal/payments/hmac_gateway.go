package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// ProviderHMACGateway is the manager key for the hosted checkout gateway.
	ProviderHMACGateway = "gateway"

	defaultHMACGatewayTimeout = 15 * time.Second
)

// HMACGatewayLogger defines the logging contract for gateway operations.
type HMACGatewayLogger func(ctx context.Context, event string, fields map[string]any)

// HMACGatewayConfig configures the hosted checkout gateway.
type HMACGatewayConfig struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     HMACGatewayLogger
	Clock      func() time.Time
}

// HMACGateway implements Provider for hosted checkouts that sign the
// (order id, payment id) pair with the merchant key secret.
type HMACGateway struct {
	baseURL string
	keyID   string
	secret  []byte
	http    *http.Client
	logger  HMACGatewayLogger
	clock   func() time.Time
}

// NewHMACGateway constructs the gateway.
func NewHMACGateway(cfg HMACGatewayConfig) (*HMACGateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || secret == "" {
		return nil, errors.New("gateway: key id and key secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("gateway: invalid base url: %w", err)
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHMACGatewayTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &HMACGateway{
		baseURL: base,
		keyID:   keyID,
		secret:  []byte(secret),
		http:    client,
		logger:  logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

type gatewayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type gatewayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type gatewayRefundRequest struct {
	Amount *int64            `json:"amount,omitempty"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type gatewayRefundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

type gatewayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens a gateway order for the amount in minor units.
func (g *HMACGateway) CreateOrder(ctx context.Context, req RemoteOrderRequest) (RemoteOrder, error) {
	if g == nil {
		return RemoteOrder{}, errors.New("gateway: provider is nil")
	}
	if req.Amount <= 0 {
		return RemoteOrder{}, errors.New("gateway: amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return RemoteOrder{}, errors.New("gateway: currency is required")
	}

	var resp gatewayOrderResponse
	err := g.do(ctx, http.MethodPost, "/v1/orders", req.IdempotencyKey, gatewayOrderRequest{
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}, &resp)
	if err != nil {
		return RemoteOrder{}, fmt.Errorf("gateway: create order: %w", err)
	}
	if strings.TrimSpace(resp.ID) == "" {
		return RemoteOrder{}, errors.New("gateway: create order: response missing id")
	}
	g.logger(ctx, "payments.gateway.order.created", map[string]any{
		"gatewayOrderId": resp.ID,
		"receipt":        req.Receipt,
		"amount":         resp.Amount,
	})
	return RemoteOrder{
		ID:       resp.ID,
		Provider: ProviderHMACGateway,
		Amount:   resp.Amount,
		Currency: strings.ToUpper(resp.Currency),
		Status:   resp.Status,
	}, nil
}

// VerifyPayment checks the callback signature locally; no network call is made.
func (g *HMACGateway) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	if g == nil {
		return PaymentDetails{}, errors.New("gateway: provider is nil")
	}
	orderID := strings.TrimSpace(req.GatewayOrderID)
	paymentID := strings.TrimSpace(req.GatewayPaymentID)
	if orderID == "" || paymentID == "" || strings.TrimSpace(req.Signature) == "" {
		return PaymentDetails{}, fmt.Errorf("%w: order id, payment id and signature are required", ErrSignatureMismatch)
	}
	if !g.VerifySignature(orderID, paymentID, req.Signature) {
		g.logger(ctx, "payments.gateway.signature.mismatch", map[string]any{
			"gatewayOrderId":   orderID,
			"gatewayPaymentId": paymentID,
		})
		return PaymentDetails{}, ErrSignatureMismatch
	}
	now := g.clock()
	return PaymentDetails{
		Provider:         ProviderHMACGateway,
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		Status:           StatusSucceeded,
		Amount:           req.ExpectedAmount,
		CapturedAt:       &now,
	}, nil
}

// Refund refunds a captured payment, fully when Amount is nil.
func (g *HMACGateway) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if g == nil {
		return PaymentDetails{}, errors.New("gateway: provider is nil")
	}
	paymentID := strings.TrimSpace(req.GatewayPaymentID)
	if paymentID == "" {
		return PaymentDetails{}, errors.New("gateway: payment id is required for refunds")
	}
	notes := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		notes[k] = v
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		notes["reason"] = reason
	}

	var resp gatewayRefundResponse
	path := "/v1/payments/" + url.PathEscape(paymentID) + "/refund"
	if err := g.do(ctx, http.MethodPost, path, req.IdempotencyKey, gatewayRefundRequest{Amount: req.Amount, Notes: notes}, &resp); err != nil {
		return PaymentDetails{}, fmt.Errorf("gateway: refund payment: %w", err)
	}
	now := g.clock()
	g.logger(ctx, "payments.gateway.payment.refunded", map[string]any{
		"gatewayPaymentId": paymentID,
		"refundId":         resp.ID,
		"amount":           resp.Amount,
	})
	return PaymentDetails{
		Provider:         ProviderHMACGateway,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: paymentID,
		RefundID:         resp.ID,
		Status:           StatusRefunded,
		Amount:           resp.Amount,
		Currency:         strings.ToUpper(resp.Currency),
		RefundedAt:       &now,
	}, nil
}

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID" under the key secret.
func (g *HMACGateway) Sign(gatewayOrderID, gatewayPaymentID string) string {
	return hex.EncodeToString(computeSignature(g.secret, []byte(gatewayOrderID+"|"+gatewayPaymentID)))
}

// VerifySignature reports whether signature matches Sign(orderID, paymentID).
func (g *HMACGateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return verifyHex(g.secret, []byte(gatewayOrderID+"|"+gatewayPaymentID), signature)
}

// VerifyWebhookSignature checks a webhook body against its hex HMAC-SHA256 signature.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	return verifyHex([]byte(secret), body, signature)
}

func computeSignature(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

func verifyHex(secret, message []byte, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return false
	}
	return hmac.Equal(provided, computeSignature(secret, message))
}

func (g *HMACGateway) do(ctx context.Context, method, path, idempotencyKey string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.keyID, string(g.secret))
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	res, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var apiErr gatewayErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("status %d: %s: %s", res.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
		}
		return fmt.Errorf("status %d", res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
