package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "oli_"

	maxOrderNotesLength = 1000
	maxOrderPageSize    = 100
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusConfirmed, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
	domain.OrderStatusCancelled:  {domain.OrderStatusRefunded},
}

var cancellableFulfillment = []domain.FulfillmentStatus{
	domain.FulfillmentPending,
	domain.FulfillmentProcessing,
	domain.FulfillmentPicked,
	domain.FulfillmentPacked,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	Products       repositories.ProductRepository
	Carts          repositories.CartRepository
	Coupons        repositories.CouponRepository
	Settings       repositories.SettingsRepository
	Counters       repositories.CounterRepository
	Discounts      DiscountResolver
	Carrier        ShipmentGateway
	Notifications  *NotificationDispatcher
	Metrics        Metrics
	UnitOfWork     repositories.UnitOfWork
	Clock          func() time.Time
	IDGenerator    func() string
	Currency       string
	TaxFallbackBps int64
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	carts         repositories.CartRepository
	coupons       repositories.CouponRepository
	settings      repositories.SettingsRepository
	numbers       orderNumberSequence
	discounts     DiscountResolver
	carrier       ShipmentGateway
	notifications *NotificationDispatcher
	metrics       Metrics
	unitOfWork    repositories.UnitOfWork
	sanitizer     *bluemonday.Policy
	clock         func() time.Time
	newID         func() string
	currency      string
	fallbackBps   int64
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("order service: settings repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("order service: discount resolver is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	fallback := deps.TaxFallbackBps
	if fallback <= 0 {
		fallback = DefaultTaxFallbackBps
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		products:      deps.Products,
		carts:         deps.Carts,
		coupons:       deps.Coupons,
		settings:      deps.Settings,
		numbers:       newOrderNumberSequence(deps.Counters, orderNumberPrefix),
		discounts:     deps.Discounts,
		carrier:       deps.Carrier,
		notifications: deps.Notifications,
		metrics:       metrics,
		unitOfWork:    unit,
		sanitizer:     bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		currency:    currency,
		fallbackBps: fallback,
		logger:      logger,
	}, nil
}

// CreateOrder turns the customer's cart into an order. Stock checks, order
// insertion, stock decrements, coupon redemption and (for COD) cart removal
// commit together or not at all. Notifications go out only after commit.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, newValidationError("customerId", "is required")
	}
	if !cmd.PaymentMethod.Valid() {
		return Order{}, newValidationError("paymentMethod", "must be cod or gateway")
	}
	shipping := s.sanitizeAddress(cmd.ShippingAddress)
	if err := validateAddress("shippingAddress", shipping); err != nil {
		return Order{}, err
	}
	var billing *Address
	if cmd.BillingAddress != nil {
		addr := s.sanitizeAddress(*cmd.BillingAddress)
		billing = &addr
	}
	notes := s.clean(cmd.Notes)
	if len(notes) > maxOrderNotesLength {
		return Order{}, newValidationError("notes", fmt.Sprintf("must be at most %d characters", maxOrderNotesLength))
	}

	cartID := CartOwner{CustomerID: customerID}.CartID()
	var order Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		now := s.now()
		cart, err := s.carts.Get(txCtx, cartID)
		if err != nil {
			if isNotFound(err) {
				return newValidationError("cart", "is empty")
			}
			return mapRepositoryError(err)
		}
		if len(cart.Items) == 0 {
			return newValidationError("cart", "is empty")
		}

		products, err := s.products.GetMany(txCtx, productIDs(cart.Items))
		if err != nil {
			return mapRepositoryError(err)
		}
		if err := checkStock(cart.Items, products); err != nil {
			return err
		}

		discount, err := s.discounts.Resolve(txCtx, cart, customerID)
		if err != nil {
			return err
		}
		if cart.CouponCode != nil && discount.CouponCode == nil {
			return fmt.Errorf("%w: coupon %s can no longer be applied", ErrInvalidCoupon, *cart.CouponCode)
		}
		settings, err := loadShippingSettings(txCtx, s.settings)
		if err != nil {
			return err
		}
		dest := ShippingDestination{State: shipping.State, City: shipping.City}
		priced := PriceLines(cart.Items, products, settings, dest, discount.Amount, s.fallbackBps)

		number, err := s.numbers.Next(txCtx, now)
		if err != nil {
			return err
		}

		order = Order{
			ID:                s.nextOrderID(),
			Number:            number,
			CustomerID:        customerID,
			CartID:            cart.ID,
			Status:            domain.OrderStatusPending,
			FulfillmentStatus: domain.FulfillmentPending,
			PaymentStatus:     domain.PaymentStatusPending,
			PaymentMethod:     cmd.PaymentMethod,
			Currency:          firstNonEmpty(cart.Currency, s.currency),
			Totals:            priced.Totals,
			DiscountID:        discount.DiscountID,
			Items:             s.buildOrderItems(cart.Items, products, priced.LineTax),
			ShippingAddress:   shipping,
			BillingAddress:    billing,
			Notes:             notes,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if discount.CouponCode != nil && discount.Amount > 0 {
			order.CouponCode = *discount.CouponCode
		}
		if cmd.PaymentMethod == domain.PaymentMethodCOD {
			order.Status = domain.OrderStatusProcessing
		}

		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		for _, item := range cart.Items {
			product := products[item.ProductID]
			if err := s.products.DecrementStock(txCtx, item.ProductID, product.Stock, item.Quantity); err != nil {
				return mapStockError(err, product, item.Quantity)
			}
		}
		if order.CouponCode != "" {
			err := s.coupons.RecordUsage(txCtx, domain.CouponUsage{
				CouponID:   discount.CouponID,
				CustomerID: customerID,
				OrderID:    order.ID,
				UsedAt:     now,
			})
			if err != nil {
				if isConflict(err) {
					return fmt.Errorf("%w: coupon %s already used", ErrInvalidCoupon, order.CouponCode)
				}
				return mapRepositoryError(err)
			}
		}
		if cmd.PaymentMethod == domain.PaymentMethodCOD {
			if err := s.carts.Delete(txCtx, cart.ID); err != nil {
				return mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		if userFacing(err) {
			return Order{}, err
		}
		s.logger(ctx, "order.create.failed", map[string]any{
			"customerId":    customerID,
			"paymentMethod": string(cmd.PaymentMethod),
			"error":         err.Error(),
		})
		return Order{}, ErrOrderCreationFailed
	}

	s.metrics.OrderCreated(ctx, order.PaymentMethod, order.Totals.Total)
	s.logger(ctx, "order.created", map[string]any{
		"orderId":       order.ID,
		"orderNumber":   order.Number,
		"paymentMethod": string(order.PaymentMethod),
		"total":         order.Totals.Total,
	})
	if order.PaymentMethod == domain.PaymentMethodCOD {
		s.notifications.OrderNotification(ctx, TemplateOrderConfirmation, order, nil)
	}
	return order, nil
}

// GetOrder loads an order. A non-empty CustomerID restricts the read to that customer's orders.
func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, newValidationError("orderId", "is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if customerID := strings.TrimSpace(cmd.CustomerID); customerID != "" && order.CustomerID != customerID {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	if filter.Pagination.PageSize < 0 {
		return domain.CursorPage[Order]{}, newValidationError("pageSize", "must not be negative")
	}
	if filter.Pagination.PageSize > maxOrderPageSize {
		filter.Pagination.PageSize = maxOrderPageSize
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

// CancelOrder cancels an order that has not shipped and puts its stock back.
// A carrier order already created is cancelled after commit; failure there is only logged.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, newValidationError("orderId", "is required")
	}
	reason := s.clean(cmd.Reason)

	var order Order
	var previous domain.OrderStatus
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if customerID := strings.TrimSpace(cmd.CustomerID); customerID != "" && current.CustomerID != customerID {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		if !slices.Contains(cancellableFulfillment, current.FulfillmentStatus) ||
			!canTransitionOrder(current.Status, domain.OrderStatusCancelled) {
			return &StateTransitionError{Action: "cancel", From: current.FulfillmentStatus, Status: current.Status}
		}

		now := s.now()
		previous = current.Status
		for _, item := range current.Items {
			if err := s.products.IncrementStock(txCtx, item.ProductID, item.Quantity); err != nil {
				if isNotFound(err) {
					s.logger(txCtx, "order.cancel.restock.skipped", map[string]any{
						"orderId":   current.ID,
						"productId": item.ProductID,
					})
					continue
				}
				return mapRepositoryError(err)
			}
		}
		current.Status = domain.OrderStatusCancelled
		current.CancelledAt = &now
		current.UpdatedAt = now
		if reason != "" {
			current.Notes = strings.TrimSpace(current.Notes + "\ncancelled: " + reason)
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return mapRepositoryError(err)
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if order.Carrier.OrderID != "" && s.carrier != nil && s.carrier.Configured() {
		if err := s.carrier.CancelOrder(ctx, order.Carrier.OrderID); err != nil {
			s.metrics.CarrierCallFailed(ctx, "cancel")
			s.logger(ctx, "order.carrier.cancel.failed", map[string]any{
				"orderId":        order.ID,
				"carrierOrderId": order.Carrier.OrderID,
				"error":          err.Error(),
			})
		}
	}
	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId":        order.ID,
		"previousStatus": string(previous),
		"actorId":        strings.TrimSpace(cmd.ActorID),
	})
	s.notifications.OrderNotification(ctx, TemplateOrderCancelled, order, map[string]any{"reason": reason})
	return order, nil
}

func (s *orderService) buildOrderItems(items []CartItem, products map[string]Product, lineTax []int64) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for i, item := range items {
		product := products[item.ProductID]
		var rate int64
		if product.TaxRateBps != nil {
			rate = *product.TaxRateBps
		}
		var tax int64
		if i < len(lineTax) {
			tax = lineTax[i]
		}
		out = append(out, OrderItem{
			ID:          orderItemIDPrefix + s.newID(),
			ProductID:   item.ProductID,
			SKU:         firstNonEmpty(item.SKU, product.SKU),
			Name:        firstNonEmpty(item.Name, product.Name),
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Total:       LineTotal(item.UnitPrice, item.Quantity),
			TaxRateBps:  rate,
			Tax:         tax,
			WeightGrams: product.WeightGrams,
		})
	}
	return out
}

func (s *orderService) sanitizeAddress(addr Address) Address {
	clean := s.clean
	return Address{
		Name:       clean(addr.Name),
		Line1:      clean(addr.Line1),
		Line2:      clean(addr.Line2),
		City:       clean(addr.City),
		State:      clean(addr.State),
		PostalCode: clean(addr.PostalCode),
		Country:    clean(addr.Country),
		Phone:      clean(addr.Phone),
		Email:      strings.ToLower(clean(addr.Email)),
	}
}

// clean strips markup; entities escaped by the sanitizer are decoded again so
// snapshots hold plain text.
func (s *orderService) clean(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(v)))
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

// checkStock verifies every line before anything is written.
func checkStock(items []CartItem, products map[string]Product) error {
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || !product.Active {
			return newValidationError("items", fmt.Sprintf("product %s is no longer available", firstNonEmpty(item.Name, item.ProductID)))
		}
		if item.Quantity > product.Stock {
			return &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   item.Quantity,
				Available:   product.Stock,
			}
		}
	}
	return nil
}

func mapStockError(err error, product Product, requested int) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock {
		return &InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   requested,
			Available:   invErr.Available,
		}
	}
	return mapRepositoryError(err)
}

func validateAddress(field string, addr Address) error {
	required := []struct {
		name  string
		value string
	}{
		{"name", addr.Name},
		{"line1", addr.Line1},
		{"city", addr.City},
		{"state", addr.State},
		{"postalCode", addr.PostalCode},
		{"phone", addr.Phone},
	}
	for _, r := range required {
		if r.value == "" {
			return newValidationError(field+"."+r.name, "is required")
		}
	}
	return nil
}

func canTransitionOrder(current, target domain.OrderStatus) bool {
	if current == target {
		return false
	}
	return slices.Contains(orderStateTransitions[current], target)
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
