package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/platform/httpx"
	"github.com/vinuvisthara/api/internal/platform/pagination"
	"github.com/vinuvisthara/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

var orderPageOptions = pagination.Options{DefaultPageSize: 20, MaxPageSize: 100}

// OrderHandlers exposes order placement, reads and payment endpoints to
// signed-in customers.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
	limiter  *keyedLimiter
	replay   func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderPayments enables the :pay and :verify-payment endpoints.
func WithOrderPayments(payments services.PaymentService) OrderHandlersOption {
	return func(h *OrderHandlers) { h.payments = payments }
}

// WithCheckoutRateLimit caps order placement per caller per minute.
func WithCheckoutRateLimit(perMinute int) OrderHandlersOption {
	return func(h *OrderHandlers) { h.limiter = newKeyedLimiter(perMinute, nil) }
}

// WithOrderIdempotency guards order placement and payment creation with mw.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) { h.replay = mw }
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.replay == nil {
		h.replay = func(next http.Handler) http.Handler { return next }
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireCustomer())
	}
	r.With(rateLimit(h.limiter), h.replay).Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.With(h.replay).Post("/{orderID}:pay", h.createRemoteOrder)
	r.Post("/{orderID}:verify-payment", h.verifyPayment)
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	params, err := pagination.Parse(r.URL.Query(), orderPageOptions)
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}
	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{CustomerID: customerID, Pagination: params})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), services.GetOrderCommand{OrderID: orderID, CustomerID: customerID})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeOptional(w, r, maxOrderBodySize, &req) {
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), services.CancelOrderCommand{
		OrderID:    orderID,
		CustomerID: customerID,
		ActorID:    customerID,
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireCustomer(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func writePaginationError(ctx context.Context, w http.ResponseWriter, err error) {
	message := "page_token is invalid"
	if errors.Is(err, pagination.ErrInvalidPageSize) {
		message = "page_size must be an integer"
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}
