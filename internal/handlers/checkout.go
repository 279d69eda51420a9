package handlers

import (
	"net/http"
	"strings"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/platform/httpx"
	"github.com/vinuvisthara/api/internal/services"
)

type createOrderRequest struct {
	ShippingAddress addressPayload  `json:"shipping_address" validate:"required"`
	BillingAddress  *addressPayload `json:"billing_address,omitempty" validate:"omitempty"`
	PaymentMethod   string          `json:"payment_method" validate:"required,oneof=cod gateway"`
	Notes           string          `json:"notes,omitempty" validate:"max=1000"`
}

type createRemoteOrderRequest struct {
	Provider string `json:"provider,omitempty" validate:"omitempty,max=32"`
}

type remoteOrderResponse struct {
	PaymentID      string `json:"payment_id"`
	Provider       string `json:"provider"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	ClientSecret   string `json:"client_secret,omitempty"`
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" validate:"required,max=128"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required,max=128"`
	Signature        string `json:"signature" validate:"required,max=256"`
}

// createOrder converts the caller's cart into an order.
func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := decodeRequest(r, maxOrderBodySize, &req); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	cmd := services.CreateOrderCommand{
		CustomerID:      customerID,
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
		Notes:           strings.TrimSpace(req.Notes),
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}
	order, err := h.orders.CreateOrder(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

// createRemoteOrder opens a gateway order the client completes in the
// hosted checkout.
func (h *OrderHandlers) createRemoteOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.requireCustomer(w, r)
	if !ok || !h.paymentsAvailable(w, r) {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req createRemoteOrderRequest
	if !decodeOptional(w, r, maxOrderBodySize, &req) {
		return
	}
	remote, err := h.payments.CreateRemoteOrder(r.Context(), services.CreateRemoteOrderCommand{
		OrderID:    orderID,
		CustomerID: customerID,
		Provider:   strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, remoteOrderResponse{
		PaymentID:      remote.PaymentID,
		Provider:       remote.Provider,
		GatewayOrderID: remote.GatewayOrderID,
		Amount:         remote.Amount,
		Currency:       remote.Currency,
		ClientSecret:   remote.ClientSecret,
	})
}

// verifyPayment checks the signed checkout callback and confirms the order.
func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.requireCustomer(w, r)
	if !ok || !h.paymentsAvailable(w, r) {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req verifyPaymentRequest
	if err := decodeRequest(r, maxOrderBodySize, &req); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	order, err := h.payments.Verify(r.Context(), services.VerifyPaymentCommand{
		OrderID:          orderID,
		CustomerID:       customerID,
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) paymentsAvailable(w http.ResponseWriter, r *http.Request) bool {
	if h.payments == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}
