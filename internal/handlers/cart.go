package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/platform/httpx"
	"github.com/vinuvisthara/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes cart endpoints to signed-in customers and guests.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs cart handlers. A nil authenticator leaves owner
// resolution to whatever middleware already populated the context.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.AllowGuest())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
	r.Post("/estimate", h.estimate)
	r.Post("/merge", h.merge)
}

type addCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type estimateCartRequest struct {
	State string `json:"state" validate:"required,max=100"`
	City  string `json:"city,omitempty" validate:"max=100"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetOrCreate(r.Context(), owner)
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.Clear(r.Context(), owner)
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var req addCartItemRequest
	if err := decodeRequest(r, maxCartBodySize, &req); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	cart, err := h.carts.AddItem(r.Context(), services.AddCartItemCommand{
		Owner:     owner,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusCreated, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if err := decodeRequest(r, maxCartBodySize, &req); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	cart, err := h.carts.UpdateQuantity(r.Context(), services.UpdateCartItemCommand{
		Owner:    owner,
		ItemID:   chi.URLParam(r, "itemID"),
		Quantity: *req.Quantity,
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), services.RemoveCartItemCommand{
		Owner:  owner,
		ItemID: chi.URLParam(r, "itemID"),
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var req applyCouponRequest
	if err := decodeRequest(r, maxCartBodySize, &req); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	cart, err := h.carts.ApplyCoupon(r.Context(), services.ApplyCouponCommand{Owner: owner, Code: req.Code})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveCoupon(r.Context(), owner)
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) estimate(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var req estimateCartRequest
	if err := decodeRequest(r, maxCartBodySize, &req); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	cart, err := h.carts.Estimate(r.Context(), services.EstimateCartCommand{
		Owner:       owner,
		Destination: domain.ShippingDestination{State: strings.TrimSpace(req.State), City: strings.TrimSpace(req.City)},
	})
	h.respond(w, r, cart, err)
}

// merge folds the guest cart named by the X-Guest-Session header into the
// signed-in customer's cart.
func (h *CartHandlers) merge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "sign in to merge a guest cart", http.StatusUnauthorized))
		return
	}
	session, ok := auth.GuestSessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", auth.GuestSessionHeader+" header is required", http.StatusBadRequest))
		return
	}
	cart, err := h.carts.MergeGuestCart(ctx, services.MergeGuestCartCommand{CustomerID: identity.UID, SessionID: session})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, cart domain.Cart, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.carts == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

// requireOwner resolves the cart owner, preferring the signed-in customer
// over a guest session.
func (h *CartHandlers) requireOwner(w http.ResponseWriter, r *http.Request) (domain.CartOwner, bool) {
	if !h.available(w, r) {
		return domain.CartOwner{}, false
	}
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && strings.TrimSpace(identity.UID) != "" {
		return domain.CartOwner{CustomerID: identity.UID}, true
	}
	if session, ok := auth.GuestSessionFromContext(ctx); ok {
		return domain.CartOwner{SessionID: session}, true
	}
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "sign in or supply a guest session", http.StatusUnauthorized))
	return domain.CartOwner{}, false
}

func setCartResponseHeaders(w http.ResponseWriter, cart domain.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartETag(cart domain.Cart) string {
	if cart.ID == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	sum := sha256.Sum256([]byte(cart.ID + "|" + strconv.FormatInt(cart.UpdatedAt.UnixNano(), 10) + "|" + strconv.FormatInt(cart.Total, 10)))
	return `W/"` + hex.EncodeToString(sum[:8]) + `"`
}
