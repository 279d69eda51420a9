package domain

// OrderStatus is the customer-facing order status.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// FulfillmentStatus is the warehouse-facing progress of an order.
type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentProcessing FulfillmentStatus = "processing"
	FulfillmentPicked     FulfillmentStatus = "picked"
	FulfillmentPacked     FulfillmentStatus = "packed"
	FulfillmentShipped    FulfillmentStatus = "shipped"
	FulfillmentDelivered  FulfillmentStatus = "delivered"
)

// Valid reports whether s is a known fulfillment status.
func (s FulfillmentStatus) Valid() bool {
	switch s {
	case FulfillmentPending, FulfillmentProcessing, FulfillmentPicked, FulfillmentPacked,
		FulfillmentShipped, FulfillmentDelivered:
		return true
	}
	return false
}

// PaymentStatus tracks whether an order has been paid.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod selects how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "cod"
	PaymentMethodGateway PaymentMethod = "gateway"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodGateway
}

// PaymentRecordStatus is the lifecycle of a single Payment row.
type PaymentRecordStatus string

const (
	PaymentRecordPending   PaymentRecordStatus = "pending"
	PaymentRecordCompleted PaymentRecordStatus = "completed"
	PaymentRecordFailed    PaymentRecordStatus = "failed"
	PaymentRecordRefunded  PaymentRecordStatus = "refunded"
)

// DiscountType selects the discount formula.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// DiscountScope restricts which cart lines make a discount applicable.
type DiscountScope string

const (
	DiscountScopeAll         DiscountScope = "all"
	DiscountScopeCategories  DiscountScope = "categories"
	DiscountScopeProducts    DiscountScope = "products"
	DiscountScopeCollections DiscountScope = "collections"
)

// ShippingMethod selects the shipping fee rule.
type ShippingMethod string

const (
	ShippingMethodFlat      ShippingMethod = "flat"
	ShippingMethodFreeAbove ShippingMethod = "free_above"
	ShippingMethodWeight    ShippingMethod = "weight"
	ShippingMethodDistance  ShippingMethod = "distance"
)
