package domain

import (
	"strings"
	"time"
)

// CartOwner identifies who a cart belongs to. Exactly one of CustomerID and
// SessionID is set.
type CartOwner struct {
	CustomerID string
	SessionID  string
}

// IsGuest reports whether the cart is owned by an anonymous session.
func (o CartOwner) IsGuest() bool {
	return strings.TrimSpace(o.CustomerID) == "" && strings.TrimSpace(o.SessionID) != ""
}

// Valid reports whether exactly one owner key is present.
func (o CartOwner) Valid() bool {
	customer := strings.TrimSpace(o.CustomerID)
	session := strings.TrimSpace(o.SessionID)
	return (customer == "") != (session == "")
}

// CartID derives the stable cart document id for the owner.
func (o CartOwner) CartID() string {
	if customer := strings.TrimSpace(o.CustomerID); customer != "" {
		return "c_" + customer
	}
	if session := strings.TrimSpace(o.SessionID); session != "" {
		return "g_" + session
	}
	return ""
}

// Cart is the pricing aggregate a customer builds before checkout.
type Cart struct {
	ID         string
	Owner      CartOwner
	Currency   string
	Items      []CartItem
	Subtotal   int64
	Discount   int64
	DiscountID string
	CouponCode *string
	Shipping   int64
	Tax        int64
	Total      int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem is a single product line. UnitPrice is captured when the line is
// added and never re-priced.
type CartItem struct {
	ID        string
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
	AddedAt   time.Time
	UpdatedAt time.Time
}

// Product is the slice of the catalog the order engine reads. Only Stock is
// ever written by this service.
type Product struct {
	ID            string
	SKU           string
	Name          string
	Price         int64
	SalePrice     *int64
	SaleStartsAt  *time.Time
	SaleEndsAt    *time.Time
	Stock         int
	TaxRateBps    *int64
	WeightGrams   int
	CategoryIDs   []string
	CollectionIDs []string
	Active        bool
	UpdatedAt     time.Time
}

// EffectivePrice returns the active sale price when one applies at now, else the list price.
func (p Product) EffectivePrice(now time.Time) int64 {
	if p.SalePrice == nil || *p.SalePrice <= 0 || *p.SalePrice >= p.Price {
		return p.Price
	}
	if p.SaleStartsAt != nil && now.Before(*p.SaleStartsAt) {
		return p.Price
	}
	if p.SaleEndsAt != nil && !now.Before(*p.SaleEndsAt) {
		return p.Price
	}
	return *p.SalePrice
}

// DiscountRule is the pricing shape shared by automatic discounts and coupons.
// For DiscountTypePercentage, Value is expressed in basis points (1000 = 10%).
// For DiscountTypeFixed, Value is in minor currency units.
type DiscountRule struct {
	Type              DiscountType
	Value             int64
	MinOrderAmount    *int64
	MaxDiscountAmount *int64
	Scope             DiscountScope
	TargetIDs         []string
	StartsAt          *time.Time
	EndsAt            *time.Time
	Active            bool
}

// ActiveAt reports whether the rule is switched on and inside its window.
func (r DiscountRule) ActiveAt(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return false
	}
	return true
}

// Discount is an automatic, code-less discount.
type Discount struct {
	ID   string
	Name string
	DiscountRule
}

// Coupon is a code-gated discount.
type Coupon struct {
	ID         string
	Code       string
	SingleUse  bool
	UsageLimit *int
	UsageCount int
	DiscountRule
}

// Exhausted reports whether the global usage limit has been reached.
func (c Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// CouponUsage is a ledger entry recording a customer's redemption of a coupon.
type CouponUsage struct {
	CouponID   string
	CustomerID string
	OrderID    string
	UsedAt     time.Time
}

// Address is a postal address snapshot.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	Email      string
}

// OrderTotals holds the frozen monetary snapshot of an order.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// OrderItem is an immutable product snapshot plus warehouse progress counters.
type OrderItem struct {
	ID             string
	ProductID      string
	SKU            string
	Name           string
	UnitPrice      int64
	Quantity       int
	Total          int64
	TaxRateBps     int64
	Tax            int64
	WeightGrams    int
	PickedQuantity int
	PackedQuantity int
}

// CarrierShipment records identifiers returned by the logistics carrier.
type CarrierShipment struct {
	OrderID           string
	ShipmentID        string
	AWB               string
	CourierName       string
	LabelURL          string
	PickupScheduledAt *time.Time
	PushedAt          *time.Time
}

// Order is the persisted result of a checkout.
type Order struct {
	ID                string
	Number            string
	CustomerID        string
	CartID            string
	Status            OrderStatus
	FulfillmentStatus FulfillmentStatus
	PaymentStatus     PaymentStatus
	PaymentMethod     PaymentMethod
	Currency          string
	Totals            OrderTotals
	DiscountID        string
	CouponCode        string
	Items             []OrderItem
	ShippingAddress   Address
	BillingAddress    *Address
	Notes             string
	TrackingNumber    string
	CarrierName       string
	Carrier           CarrierShipment
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ProcessedAt       *time.Time
	PickedAt          *time.Time
	PackedAt          *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	PaidAt            *time.Time
	CancelledAt       *time.Time
	RefundedAt        *time.Time
}

// Payment is a single gateway payment attempt for an order.
type Payment struct {
	ID               string
	OrderID          string
	CustomerID       string
	Provider         string
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           int64
	Currency         string
	Status           PaymentRecordStatus
	FailureReason    string
	Metadata         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// ShippingZone prices delivery to a state or a city within it.
type ShippingZone struct {
	State string
	City  string
	Fee   int64
}

// ShippingSettings is the rule set used to compute the shipping fee.
type ShippingSettings struct {
	Method          ShippingMethod
	FlatRate        int64
	FreeAbove       *int64
	WeightBaseFee   int64
	WeightRatePerKg int64
	Zones           []ShippingZone
	DefaultZoneFee  int64
}

// ShippingDestination is the part of an address relevant to shipping fees.
type ShippingDestination struct {
	State string
	City  string
}

// Notification is a queued message handed to the notification sink after commit.
type Notification struct {
	ID        string
	Template  string
	Recipient string
	OrderID   string
	Data      map[string]any
	CreatedAt time.Time
}

// Pagination captures cursor-based paging input.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage is a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
