package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/platform/httpx"
	"github.com/vinuvisthara/api/internal/services"
)

const (
	webhookEventPaymentCaptured = "payment.captured"
	webhookEventPaymentFailed   = "payment.failed"
)

// WebhookHandlers receives signed gateway callbacks.
type WebhookHandlers struct {
	guard    func(http.Handler) http.Handler
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook handlers. guard verifies the body
// signature and is typically WebhookVerifier.RequireSignature.
func NewWebhookHandlers(guard func(http.Handler) http.Handler, payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{guard: guard, payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.guard != nil {
		r.Use(h.guard)
	}
	r.Post("/payments", h.paymentEvent)
}

// paymentWebhook is the gateway event envelope. Only the payment entity is read.
type paymentWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Status           string `json:"status"`
				ErrorCode        string `json:"error_code"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type webhookAck struct {
	Status  string `json:"status"`
	Event   string `json:"event,omitempty"`
	OrderID string `json:"order_id,omitempty"`
}

func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	body, ok := auth.WebhookBody(ctx)
	if !ok {
		var err error
		if body, err = readLimitedBody(r, 1<<20); err != nil {
			writeRequestError(ctx, w, err)
			return
		}
	}
	var event paymentWebhook
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook body must be valid JSON", http.StatusBadRequest))
		return
	}
	entity := event.Payload.Payment.Entity
	gatewayOrderID := strings.TrimSpace(entity.OrderID)
	gatewayPaymentID := strings.TrimSpace(entity.ID)
	name := strings.TrimSpace(event.Event)

	switch name {
	case webhookEventPaymentCaptured, webhookEventPaymentFailed:
	default:
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "ignored", Event: name})
		return
	}
	if gatewayOrderID == "" || gatewayPaymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment entity must carry id and order_id", http.StatusBadRequest))
		return
	}

	if name == webhookEventPaymentFailed {
		reason := strings.TrimSpace(entity.ErrorDescription)
		if reason == "" {
			reason = strings.TrimSpace(entity.ErrorCode)
		}
		err := h.payments.MarkFailed(ctx, services.MarkPaymentFailedCommand{
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: gatewayPaymentID,
			Reason:           reason,
		})
		h.acknowledge(w, r, name, "", err)
		return
	}

	order, err := h.payments.ConfirmCaptured(ctx, services.ConfirmCapturedCommand{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
	})
	h.acknowledge(w, r, name, order.ID, err)
}

// acknowledge answers 200 for outcomes a redelivery cannot change so the
// gateway stops retrying.
func (h *WebhookHandlers) acknowledge(w http.ResponseWriter, r *http.Request, event, orderID string, err error) {
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "processed", Event: event, OrderID: orderID})
	case errors.Is(err, services.ErrPaymentAlreadyCompleted):
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "duplicate", Event: event})
	case errors.Is(err, services.ErrNotFound):
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "ignored", Event: event})
	default:
		writeServiceError(r.Context(), w, err)
	}
}
