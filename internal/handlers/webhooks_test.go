package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/vinuvisthara/api/internal/payments"
	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/services"
)

const testWebhookSecret = "whsec_test"

func signWebhook(body string) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookRouter(svc services.PaymentService) chi.Router {
	verifier := auth.NewWebhookVerifier(
		func(context.Context) (string, error) { return testWebhookSecret, nil },
		payments.VerifyWebhookSignature,
	)
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(verifier.RequireSignature(), svc).Routes)
	return router
}

func webhookRequest(body, eventID string, signed bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	if signed {
		req.Header.Set("X-Gateway-Signature", signWebhook(body))
	}
	if eventID != "" {
		req.Header.Set("X-Gateway-Event-Id", eventID)
	}
	return req
}

const capturedEvent = `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","status":"captured"}}}}`

func TestWebhookHandlersPaymentCaptured(t *testing.T) {
	calls := 0
	svc := &stubPaymentService{
		confirmFunc: func(_ context.Context, cmd services.ConfirmCapturedCommand) (services.Order, error) {
			calls++
			if cmd.GatewayOrderID != "order_1" || cmd.GatewayPaymentID != "pay_1" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.Order{ID: "ord-1"}, nil
		},
	}
	router := newWebhookRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, webhookRequest(capturedEvent, "evt-1", true))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ack webhookAck
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "processed" || ack.OrderID != "ord-1" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, webhookRequest(capturedEvent, "evt-1", true))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected replay to be acknowledged, got %d", rr.Code)
	}
	if calls != 1 {
		t.Fatalf("expected replayed event to be dropped, got %d calls", calls)
	}
}

func TestWebhookHandlersRejectsBadSignature(t *testing.T) {
	svc := &stubPaymentService{}
	req := webhookRequest(capturedEvent, "", false)
	req.Header.Set("X-Gateway-Signature", "deadbeef")
	rr := httptest.NewRecorder()
	newWebhookRouter(svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWebhookHandlersAlreadyPaidIsAcknowledged(t *testing.T) {
	svc := &stubPaymentService{
		confirmFunc: func(context.Context, services.ConfirmCapturedCommand) (services.Order, error) {
			return services.Order{}, services.ErrPaymentAlreadyCompleted
		},
	}
	rr := httptest.NewRecorder()
	newWebhookRouter(svc).ServeHTTP(rr, webhookRequest(capturedEvent, "", true))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"duplicate"`) {
		t.Fatalf("expected duplicate ack, got %s", rr.Body.String())
	}
}

func TestWebhookHandlersPaymentFailed(t *testing.T) {
	var got services.MarkPaymentFailedCommand
	svc := &stubPaymentService{
		failedFunc: func(_ context.Context, cmd services.MarkPaymentFailedCommand) error {
			got = cmd
			return nil
		},
	}
	body := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_2","error_code":"BAD_REQUEST_ERROR","error_description":"card declined"}}}}`
	rr := httptest.NewRecorder()
	newWebhookRouter(svc).ServeHTTP(rr, webhookRequest(body, "", true))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.GatewayOrderID != "order_2" || got.Reason != "card declined" {
		t.Fatalf("unexpected command %+v", got)
	}
}

func TestWebhookHandlersIgnoresOtherEvents(t *testing.T) {
	body := `{"event":"refund.processed","payload":{}}`
	rr := httptest.NewRecorder()
	newWebhookRouter(&stubPaymentService{}).ServeHTTP(rr, webhookRequest(body, "", true))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ignored"`) {
		t.Fatalf("expected ignored ack, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookHandlersServiceFailureIsRetryable(t *testing.T) {
	svc := &stubPaymentService{
		confirmFunc: func(context.Context, services.ConfirmCapturedCommand) (services.Order, error) {
			return services.Order{}, services.ErrUnavailable
		},
	}
	rr := httptest.NewRecorder()
	newWebhookRouter(svc).ServeHTTP(rr, webhookRequest(capturedEvent, "evt-9", true))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
