package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/platform/httpx"
	"github.com/vinuvisthara/api/internal/platform/pagination"
	"github.com/vinuvisthara/api/internal/services"
)

const (
	maxAdminBodySize    = 16 * 1024
	operatorUnknownName = "operator"
)

// FulfillmentHandlers exposes operator endpoints that move orders through the
// warehouse and carrier lifecycle.
type FulfillmentHandlers struct {
	guard       func(http.Handler) http.Handler
	fulfillment services.FulfillmentService
	orders      services.OrderService
	payments    services.PaymentService
}

// NewFulfillmentHandlers constructs operator handlers. guard authenticates
// operators and is typically OIDCValidator.RequireOperator.
func NewFulfillmentHandlers(guard func(http.Handler) http.Handler, fulfillment services.FulfillmentService, orders services.OrderService, payments services.PaymentService) *FulfillmentHandlers {
	return &FulfillmentHandlers{guard: guard, fulfillment: fulfillment, orders: orders, payments: payments}
}

// Routes registers the /admin endpoints.
func (h *FulfillmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.guard != nil {
		r.Use(h.guard)
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:process", h.transition(h.process))
	r.Post("/orders/{orderID}:pick", h.transition(h.pick))
	r.Post("/orders/{orderID}:pack", h.transition(h.pack))
	r.Post("/orders/{orderID}:ship", h.ship)
	r.Post("/orders/{orderID}:deliver", h.transition(h.deliver))
	r.Post("/orders/{orderID}:push", h.transition(h.push))
	r.Post("/orders/{orderID}:label", h.transition(h.label))
	r.Post("/orders/{orderID}:cancel", h.cancel)
	r.Post("/orders/{orderID}:refund", h.refund)
	r.Post("/pickups", h.pickup)
}

type shipOrderRequest struct {
	TrackingNumber string `json:"tracking_number,omitempty" validate:"max=64"`
	CarrierName    string `json:"carrier_name,omitempty" validate:"max=64"`
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type pickupRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required,min=1,max=50,dive,required,max=128"`
}

type pickupResponse struct {
	OrderIDs    []string `json:"order_ids"`
	ScheduledAt string   `json:"scheduled_at,omitempty"`
	TokenNumber string   `json:"token_number,omitempty"`
}

type fulfillmentAction func(r *http.Request, cmd services.FulfillmentCommand) (services.Order, error)

func (h *FulfillmentHandlers) process(r *http.Request, cmd services.FulfillmentCommand) (services.Order, error) {
	return h.fulfillment.Process(r.Context(), cmd)
}

func (h *FulfillmentHandlers) pick(r *http.Request, cmd services.FulfillmentCommand) (services.Order, error) {
	return h.fulfillment.Pick(r.Context(), cmd)
}

func (h *FulfillmentHandlers) pack(r *http.Request, cmd services.FulfillmentCommand) (services.Order, error) {
	return h.fulfillment.Pack(r.Context(), cmd)
}

func (h *FulfillmentHandlers) deliver(r *http.Request, cmd services.FulfillmentCommand) (services.Order, error) {
	return h.fulfillment.Deliver(r.Context(), cmd)
}

func (h *FulfillmentHandlers) push(r *http.Request, cmd services.FulfillmentCommand) (services.Order, error) {
	return h.fulfillment.PushToCarrier(r.Context(), cmd)
}

func (h *FulfillmentHandlers) label(r *http.Request, cmd services.FulfillmentCommand) (services.Order, error) {
	return h.fulfillment.GenerateLabel(r.Context(), cmd)
}

// transition adapts a body-less fulfillment action into a handler.
func (h *FulfillmentHandlers) transition(action fulfillmentAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.fulfillmentAvailable(w, r) {
			return
		}
		orderID, ok := orderIDParam(w, r)
		if !ok {
			return
		}
		order, err := action(r, services.FulfillmentCommand{OrderID: orderID, ActorID: operatorActor(r)})
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
	}
}

func (h *FulfillmentHandlers) ship(w http.ResponseWriter, r *http.Request) {
	if !h.fulfillmentAvailable(w, r) {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req shipOrderRequest
	if !decodeOptional(w, r, maxAdminBodySize, &req) {
		return
	}
	order, err := h.fulfillment.Ship(r.Context(), services.ShipOrderCommand{
		OrderID:        orderID,
		ActorID:        operatorActor(r),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		CarrierName:    strings.TrimSpace(req.CarrierName),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *FulfillmentHandlers) pickup(w http.ResponseWriter, r *http.Request) {
	if !h.fulfillmentAvailable(w, r) {
		return
	}
	var req pickupRequest
	if err := decodeRequest(r, maxAdminBodySize, &req); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	ids := make([]string, 0, len(req.OrderIDs))
	for _, id := range req.OrderIDs {
		ids = append(ids, strings.TrimSpace(id))
	}
	result, err := h.fulfillment.GeneratePickup(r.Context(), services.GeneratePickupCommand{OrderIDs: ids, ActorID: operatorActor(r)})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, pickupResponse{
		OrderIDs:    result.OrderIDs,
		ScheduledAt: formatTimePtr(result.ScheduledAt),
		TokenNumber: result.TokenNumber,
	})
}

func (h *FulfillmentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeOptional(w, r, maxAdminBodySize, &req) {
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: operatorActor(r),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *FulfillmentHandlers) refund(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeOptional(w, r, maxAdminBodySize, &req) {
		return
	}
	order, err := h.payments.Refund(r.Context(), services.RefundOrderCommand{
		OrderID: orderID,
		ActorID: operatorActor(r),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *FulfillmentHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), services.GetOrderCommand{OrderID: orderID})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *FulfillmentHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()
	params, err := pagination.Parse(query, orderPageOptions)
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}
	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Pagination: params,
	})
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

func (h *FulfillmentHandlers) fulfillmentAvailable(w http.ResponseWriter, r *http.Request) bool {
	if h.fulfillment == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

// decodeOptional decodes a body when one was sent. It writes the error
// response and returns false on failure.
func decodeOptional(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := decodeRequest(r, limit, dst); err != nil && !errors.Is(err, errEmptyBody) {
		writeRequestError(r.Context(), w, err)
		return false
	}
	return true
}

// operatorActor names the operator for audit fields, preferring email.
func operatorActor(r *http.Request) string {
	op, ok := auth.OperatorFromContext(r.Context())
	if !ok {
		return operatorUnknownName
	}
	if email := strings.TrimSpace(op.Email); email != "" {
		return email
	}
	if subject := strings.TrimSpace(op.Subject); subject != "" {
		return subject
	}
	return operatorUnknownName
}
