// Package memory provides an in-process implementation of the repository
// interfaces. Transactions are serialised on a single store-wide lock and roll
// back by restoring a snapshot, which gives the same all-or-nothing and
// check-then-decrement guarantees as the Firestore implementation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/platform/pagination"
	"github.com/vinuvisthara/api/internal/repositories"
)

type txKey struct{}

// Store holds every collection in memory.
type Store struct {
	mu sync.Mutex

	carts     map[string]domain.Cart
	products  map[string]domain.Product
	discounts map[string]domain.Discount
	coupons   map[string]domain.Coupon
	usages    map[string]domain.CouponUsage
	orders    map[string]domain.Order
	payments  map[string]domain.Payment
	counters  map[string]int64
	shipping  domain.ShippingSettings
}

type snapshot struct {
	carts     map[string]domain.Cart
	products  map[string]domain.Product
	discounts map[string]domain.Discount
	coupons   map[string]domain.Coupon
	usages    map[string]domain.CouponUsage
	orders    map[string]domain.Order
	payments  map[string]domain.Payment
	counters  map[string]int64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		carts:     make(map[string]domain.Cart),
		products:  make(map[string]domain.Product),
		discounts: make(map[string]domain.Discount),
		coupons:   make(map[string]domain.Coupon),
		usages:    make(map[string]domain.CouponUsage),
		orders:    make(map[string]domain.Order),
		payments:  make(map[string]domain.Payment),
		counters:  make(map[string]int64),
	}
}

// RunInTx executes fn atomically. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// lock acquires the store lock unless ctx already runs inside a transaction on this store.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) snapshotLocked() snapshot {
	return snapshot{
		carts:     maps.Clone(s.carts),
		products:  maps.Clone(s.products),
		discounts: maps.Clone(s.discounts),
		coupons:   maps.Clone(s.coupons),
		usages:    maps.Clone(s.usages),
		orders:    maps.Clone(s.orders),
		payments:  maps.Clone(s.payments),
		counters:  maps.Clone(s.counters),
	}
}

func (s *Store) restoreLocked(snap snapshot) {
	s.carts = snap.carts
	s.products = snap.products
	s.discounts = snap.discounts
	s.coupons = snap.coupons
	s.usages = snap.usages
	s.orders = snap.orders
	s.payments = snap.payments
	s.counters = snap.counters
}

// PutProduct seeds or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = cloneProduct(product)
}

// PutDiscount seeds or replaces an automatic discount.
func (s *Store) PutDiscount(discount domain.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	discount.TargetIDs = slices.Clone(discount.TargetIDs)
	s.discounts[discount.ID] = discount
}

// PutCoupon seeds or replaces a coupon.
func (s *Store) PutCoupon(coupon domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coupon.TargetIDs = slices.Clone(coupon.TargetIDs)
	s.coupons[coupon.ID] = coupon
}

// SetShippingSettings replaces the shipping rule set.
func (s *Store) SetShippingSettings(settings domain.ShippingSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.Zones = slices.Clone(settings.Zones)
	s.shipping = settings
}

// UnitOfWork returns the store itself; RunInTx snapshots every map.
func (s *Store) UnitOfWork() repositories.UnitOfWork { return s }

var _ repositories.Registry = (*Store)(nil)

// Carts returns the cart repository view.
func (s *Store) Carts() repositories.CartRepository { return cartRepo{s} }

// Products returns the product repository view.
func (s *Store) Products() repositories.ProductRepository { return productRepo{s} }

// Discounts returns the discount repository view.
func (s *Store) Discounts() repositories.DiscountRepository { return discountRepo{s} }

// Coupons returns the coupon repository view.
func (s *Store) Coupons() repositories.CouponRepository { return couponRepo{s} }

// Orders returns the order repository view.
func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }

// Payments returns the payment repository view.
func (s *Store) Payments() repositories.PaymentRepository { return paymentRepo{s} }

// Settings returns the settings repository view.
func (s *Store) Settings() repositories.SettingsRepository { return settingsRepo{s} }

// Counters returns the counter repository view.
func (s *Store) Counters() repositories.CounterRepository { return counterRepo{s} }

type cartRepo struct{ s *Store }

func (r cartRepo) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	defer r.s.lock(ctx)()
	cart, ok := r.s.carts[cartID]
	if !ok {
		return domain.Cart{}, notFound("carts.get", cartID)
	}
	return cloneCart(cart), nil
}

func (r cartRepo) Save(ctx context.Context, cart domain.Cart) error {
	if strings.TrimSpace(cart.ID) == "" {
		return &Error{op: "carts.save", err: errors.New("cart id is required")}
	}
	defer r.s.lock(ctx)()
	r.s.carts[cart.ID] = cloneCart(cart)
	return nil
}

func (r cartRepo) Delete(ctx context.Context, cartID string) error {
	defer r.s.lock(ctx)()
	delete(r.s.carts, cartID)
	return nil
}

type productRepo struct{ s *Store }

func (r productRepo) Get(ctx context.Context, productID string) (domain.Product, error) {
	defer r.s.lock(ctx)()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get", productID)
	}
	return cloneProduct(product), nil
}

func (r productRepo) GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	defer r.s.lock(ctx)()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.s.products[id]; ok {
			out[id] = cloneProduct(product)
		}
	}
	return out, nil
}

func (r productRepo) DecrementStock(ctx context.Context, productID string, observed int, quantity int) error {
	defer r.s.lock(ctx)()
	product, ok := r.s.products[productID]
	if !ok {
		return &repositories.InventoryError{Op: "products.decrement", Code: repositories.InventoryErrorProductNotFound, ProductID: productID, Requested: quantity}
	}
	if product.Stock != observed || product.Stock < quantity {
		return repositories.NewInsufficientStockError("products.decrement", productID, quantity, product.Stock)
	}
	product.Stock -= quantity
	r.s.products[productID] = product
	return nil
}

func (r productRepo) IncrementStock(ctx context.Context, productID string, quantity int) error {
	defer r.s.lock(ctx)()
	product, ok := r.s.products[productID]
	if !ok {
		return &repositories.InventoryError{Op: "products.increment", Code: repositories.InventoryErrorProductNotFound, ProductID: productID, Requested: quantity}
	}
	product.Stock += quantity
	r.s.products[productID] = product
	return nil
}

type discountRepo struct{ s *Store }

func (r discountRepo) ListActive(ctx context.Context) ([]domain.Discount, error) {
	defer r.s.lock(ctx)()
	out := make([]domain.Discount, 0, len(r.s.discounts))
	for _, discount := range r.s.discounts {
		if !discount.Active {
			continue
		}
		discount.TargetIDs = slices.Clone(discount.TargetIDs)
		out = append(out, discount)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type couponRepo struct{ s *Store }

func (r couponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	defer r.s.lock(ctx)()
	for _, coupon := range r.s.coupons {
		if strings.EqualFold(coupon.Code, code) {
			coupon.TargetIDs = slices.Clone(coupon.TargetIDs)
			return coupon, nil
		}
	}
	return domain.Coupon{}, notFound("coupons.find_by_code", code)
}

func (r couponRepo) HasUsage(ctx context.Context, couponID string, customerID string) (bool, error) {
	defer r.s.lock(ctx)()
	_, ok := r.s.usages[usageKey(couponID, customerID)]
	return ok, nil
}

func (r couponRepo) RecordUsage(ctx context.Context, usage domain.CouponUsage) error {
	defer r.s.lock(ctx)()
	coupon, ok := r.s.coupons[usage.CouponID]
	if !ok {
		return notFound("coupons.record_usage", usage.CouponID)
	}
	key := usageKey(usage.CouponID, usage.CustomerID)
	if coupon.SingleUse {
		if _, exists := r.s.usages[key]; exists {
			return &Error{op: "coupons.record_usage", err: fmt.Errorf("coupon %s already used by %s", usage.CouponID, usage.CustomerID), conflict: true}
		}
	}
	r.s.usages[key] = usage
	coupon.UsageCount++
	r.s.coupons[coupon.ID] = coupon
	return nil
}

func usageKey(couponID, customerID string) string {
	return couponID + "|" + customerID
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.orders[order.ID]; exists {
		return &Error{op: "orders.insert", err: fmt.Errorf("order %s already exists", order.ID), conflict: true}
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.orders[order.ID]; !exists {
		return notFound("orders.update", order.ID)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	defer r.s.lock(ctx)()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	defer r.s.lock(ctx)()
	matched := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		matched = append(matched, order)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	offset, err := pagination.DecodeOffset(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, &Error{op: "orders.list", err: err}
	}
	start := min(offset, len(matched))
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	end := min(start+size, len(matched))

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, end-start)}
	for _, order := range matched[start:end] {
		page.Items = append(page.Items, cloneOrder(order))
	}
	if end < len(matched) {
		page.NextPageToken = pagination.EncodeOffset(end)
	}
	return page, nil
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) Insert(ctx context.Context, payment domain.Payment) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.payments[payment.ID]; exists {
		return &Error{op: "payments.insert", err: fmt.Errorf("payment %s already exists", payment.ID), conflict: true}
	}
	payment.Metadata = maps.Clone(payment.Metadata)
	r.s.payments[payment.ID] = payment
	return nil
}

func (r paymentRepo) Update(ctx context.Context, payment domain.Payment) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.payments[payment.ID]; !exists {
		return notFound("payments.update", payment.ID)
	}
	payment.Metadata = maps.Clone(payment.Metadata)
	r.s.payments[payment.ID] = payment
	return nil
}

func (r paymentRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Payment, error) {
	defer r.s.lock(ctx)()
	for _, payment := range r.s.payments {
		if payment.GatewayOrderID == gatewayOrderID {
			payment.Metadata = maps.Clone(payment.Metadata)
			return payment, nil
		}
	}
	return domain.Payment{}, notFound("payments.find_by_gateway_order", gatewayOrderID)
}

func (r paymentRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	defer r.s.lock(ctx)()
	out := make([]domain.Payment, 0)
	for _, payment := range r.s.payments {
		if payment.OrderID == orderID {
			payment.Metadata = maps.Clone(payment.Metadata)
			out = append(out, payment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type settingsRepo struct{ s *Store }

func (r settingsRepo) ShippingSettings(ctx context.Context) (domain.ShippingSettings, error) {
	defer r.s.lock(ctx)()
	settings := r.s.shipping
	settings.Zones = slices.Clone(settings.Zones)
	return settings, nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(ctx context.Context, counterID string) (int64, error) {
	defer r.s.lock(ctx)()
	r.s.counters[counterID]++
	return r.s.counters[counterID], nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	cart.Items = slices.Clone(cart.Items)
	if cart.CouponCode != nil {
		code := *cart.CouponCode
		cart.CouponCode = &code
	}
	return cart
}

func cloneProduct(product domain.Product) domain.Product {
	product.CategoryIDs = slices.Clone(product.CategoryIDs)
	product.CollectionIDs = slices.Clone(product.CollectionIDs)
	return product
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	if order.BillingAddress != nil {
		addr := *order.BillingAddress
		order.BillingAddress = &addr
	}
	order.ProcessedAt = cloneTime(order.ProcessedAt)
	order.PickedAt = cloneTime(order.PickedAt)
	order.PackedAt = cloneTime(order.PackedAt)
	order.ShippedAt = cloneTime(order.ShippedAt)
	order.DeliveredAt = cloneTime(order.DeliveredAt)
	order.PaidAt = cloneTime(order.PaidAt)
	order.CancelledAt = cloneTime(order.CancelledAt)
	order.RefundedAt = cloneTime(order.RefundedAt)
	order.Carrier.PickupScheduledAt = cloneTime(order.Carrier.PickupScheduledAt)
	order.Carrier.PushedAt = cloneTime(order.Carrier.PushedAt)
	return order
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
