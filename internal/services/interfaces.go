package services

import (
	"context"
	"time"

	"github.com/vinuvisthara/api/internal/carrier"
	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/payments"
	"github.com/vinuvisthara/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Cart                = domain.Cart
	CartItem            = domain.CartItem
	CartOwner           = domain.CartOwner
	Product             = domain.Product
	Discount            = domain.Discount
	Coupon              = domain.Coupon
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	OrderTotals         = domain.OrderTotals
	Payment             = domain.Payment
	Address             = domain.Address
	ShippingSettings    = domain.ShippingSettings
	ShippingDestination = domain.ShippingDestination
	Notification        = domain.Notification
)

// DiscountResolver picks the discount a cart is entitled to.
type DiscountResolver interface {
	Resolve(ctx context.Context, cart Cart, customerID string) (DiscountResolution, error)
	ValidateCoupon(ctx context.Context, code string, cart Cart, customerID string) (DiscountResolution, error)
}

// CartService manages the pricing aggregate a customer builds before checkout.
type CartService interface {
	GetOrCreate(ctx context.Context, owner CartOwner) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error)
	RemoveCoupon(ctx context.Context, owner CartOwner) (Cart, error)
	Clear(ctx context.Context, owner CartOwner) (Cart, error)
	MergeGuestCart(ctx context.Context, cmd MergeGuestCartCommand) (Cart, error)
	Estimate(ctx context.Context, cmd EstimateCartCommand) (Cart, error)
}

// OrderService turns carts into orders and exposes order reads.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// FulfillmentService advances orders through warehouse states and drives the carrier.
type FulfillmentService interface {
	Process(ctx context.Context, cmd FulfillmentCommand) (Order, error)
	Pick(ctx context.Context, cmd FulfillmentCommand) (Order, error)
	Pack(ctx context.Context, cmd FulfillmentCommand) (Order, error)
	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	Deliver(ctx context.Context, cmd FulfillmentCommand) (Order, error)
	PushToCarrier(ctx context.Context, cmd FulfillmentCommand) (Order, error)
	GeneratePickup(ctx context.Context, cmd GeneratePickupCommand) (PickupResult, error)
	GenerateLabel(ctx context.Context, cmd FulfillmentCommand) (Order, error)
}

// PaymentService reconciles gateway payments with orders.
type PaymentService interface {
	CreateRemoteOrder(ctx context.Context, cmd CreateRemoteOrderCommand) (RemoteOrder, error)
	Verify(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	ConfirmCaptured(ctx context.Context, cmd ConfirmCapturedCommand) (Order, error)
	MarkFailed(ctx context.Context, cmd MarkPaymentFailedCommand) error
	Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error)
}

// NotificationPublisher hands notifications to an asynchronous sink.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, notification Notification) error
}

// ShipmentGateway is the subset of the carrier client used by services.
type ShipmentGateway interface {
	Configured() bool
	CreateOrderAndAssignAWB(ctx context.Context, order Order) (carrier.Shipment, error)
	AssignAWB(ctx context.Context, shipmentID string) (carrier.AWBResult, error)
	GeneratePickup(ctx context.Context, shipmentIDs []string) (carrier.PickupResult, error)
	GenerateLabel(ctx context.Context, shipmentID string) (carrier.LabelResult, error)
	CancelOrder(ctx context.Context, carrierOrderID string) error
}

// PaymentGateway is the subset of payments.Manager used by services.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RemoteOrderRequest) (payments.RemoteOrder, error)
	VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// LabelArchive copies carrier labels into durable storage.
type LabelArchive interface {
	ArchiveLabel(ctx context.Context, orderID string, sourceURL string) (string, error)
}

// DiscountResolution is the outcome of discount evaluation. At most one of
// DiscountID and CouponCode is set.
type DiscountResolution struct {
	Amount     int64
	DiscountID string
	CouponID   string
	CouponCode *string
}

// AddCartItemCommand adds quantity of a product to the owner's cart.
type AddCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Quantity  int
}

// UpdateCartItemCommand sets a line quantity; zero removes the line.
type UpdateCartItemCommand struct {
	Owner    CartOwner
	ItemID   string
	Quantity int
}

// RemoveCartItemCommand deletes a line.
type RemoveCartItemCommand struct {
	Owner  CartOwner
	ItemID string
}

// ApplyCouponCommand applies a coupon code to the owner's cart.
type ApplyCouponCommand struct {
	Owner CartOwner
	Code  string
}

// MergeGuestCartCommand folds a session cart into a customer cart after login.
type MergeGuestCartCommand struct {
	CustomerID string
	SessionID  string
}

// EstimateCartCommand prices the cart for a destination without persisting.
type EstimateCartCommand struct {
	Owner       CartOwner
	Destination ShippingDestination
}

// CreateOrderCommand places an order from the customer's cart.
type CreateOrderCommand struct {
	CustomerID      string
	ShippingAddress Address
	BillingAddress  *Address
	PaymentMethod   domain.PaymentMethod
	Notes           string
}

// GetOrderCommand reads an order, scoped to a customer unless the caller is staff.
type GetOrderCommand struct {
	OrderID    string
	CustomerID string
}

// OrderListFilter narrows order listings.
type OrderListFilter = repositories.OrderListFilter

// CancelOrderCommand cancels an order and restocks its items.
type CancelOrderCommand struct {
	OrderID    string
	CustomerID string
	ActorID    string
	Reason     string
}

// FulfillmentCommand identifies the order an operator acts on.
type FulfillmentCommand struct {
	OrderID string
	ActorID string
}

// ShipOrderCommand marks an order shipped. TrackingNumber may be empty when
// the order already carries an AWB from the carrier.
type ShipOrderCommand struct {
	OrderID        string
	ActorID        string
	TrackingNumber string
	CarrierName    string
}

// GeneratePickupCommand requests a pickup for several orders at once.
type GeneratePickupCommand struct {
	OrderIDs []string
	ActorID  string
}

// PickupResult summarises a pickup request.
type PickupResult struct {
	OrderIDs    []string
	ScheduledAt *time.Time
	TokenNumber string
}

// CreateRemoteOrderCommand opens a gateway order for a pending order.
type CreateRemoteOrderCommand struct {
	OrderID    string
	CustomerID string
	Provider   string
}

// RemoteOrder is returned to the client to launch the hosted checkout.
type RemoteOrder struct {
	PaymentID      string
	Provider       string
	GatewayOrderID string
	Amount         int64
	Currency       string
	ClientSecret   string
}

// VerifyPaymentCommand carries the client-side checkout callback.
type VerifyPaymentCommand struct {
	OrderID          string
	CustomerID       string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// ConfirmCapturedCommand marks a payment captured from an authenticated webhook.
type ConfirmCapturedCommand struct {
	GatewayOrderID   string
	GatewayPaymentID string
}

// MarkPaymentFailedCommand records a failed gateway attempt.
type MarkPaymentFailedCommand struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Reason           string
}

// RefundOrderCommand refunds a paid order.
type RefundOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// SystemService reports readiness with build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// Metrics records business counters. Implementations must be safe for concurrent use.
type Metrics interface {
	OrderCreated(ctx context.Context, method domain.PaymentMethod, total int64)
	PaymentVerified(ctx context.Context, provider string, ok bool)
	CarrierCallFailed(ctx context.Context, op string)
}

type noopMetrics struct{}

func (noopMetrics) OrderCreated(context.Context, domain.PaymentMethod, int64) {}
func (noopMetrics) PaymentVerified(context.Context, string, bool)             {}
func (noopMetrics) CarrierCallFailed(context.Context, string)                 {}
