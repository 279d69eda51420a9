package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/vinuvisthara/api/internal/platform/httpx"
	"github.com/vinuvisthara/api/internal/services"
)

func writeRequestError(ctx context.Context, w http.ResponseWriter, err error) {
	var reqErr *requestError
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.As(err, &reqErr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", reqErr.message, http.StatusBadRequest).WithDetails(reqErr.fields))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// writeServiceError maps the service error taxonomy onto HTTP responses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var (
		validation *services.ValidationError
		stock      *services.InsufficientStockError
		transition *services.StateTransitionError
	)
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", validation.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"field": validation.Field, "reason": validation.Reason}))
	case errors.As(err, &stock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stock.Error(), http.StatusConflict).
			WithDetails(map[string]any{"product_id": stock.ProductID, "requested": stock.Requested, "available": stock.Available}))
	case errors.Is(err, services.ErrInvalidCoupon):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_coupon", err.Error(), http.StatusUnprocessableEntity))
	case errors.As(err, &transition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state_transition", transition.Error(), http.StatusConflict).
			WithDetails(map[string]any{"action": transition.Action, "fulfillment_status": string(transition.From)}))
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment could not be verified", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentAlreadyCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("payment_already_completed", "order is already paid", http.StatusConflict))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCarrierNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_not_configured", "carrier integration is not configured", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCarrierOrderFailed), errors.Is(err, services.ErrCarrierResponseIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_error", "carrier request failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrOrderCreationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_creation_failed", "order could not be created", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "request could not be processed", http.StatusInternalServerError))
	}
}
