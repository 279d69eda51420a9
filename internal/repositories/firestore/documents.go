package firestore

import (
	"strings"
	"time"

	domain "github.com/vinuvisthara/api/internal/domain"
)

const (
	cartsCollection     = "carts"
	productsCollection  = "products"
	discountsCollection = "discounts"
	couponsCollection   = "coupons"
	usagesCollection    = "couponUsages"
	ordersCollection    = "orders"
	paymentsCollection  = "payments"
	settingsCollection  = "settings"
	countersCollection  = "counters"

	shippingSettingsDoc = "shipping"
)

type cartDocument struct {
	CustomerID string             `firestore:"customerId,omitempty"`
	SessionID  string             `firestore:"sessionId,omitempty"`
	Currency   string             `firestore:"currency"`
	Items      []cartItemDocument `firestore:"items"`
	Subtotal   int64              `firestore:"subtotal"`
	Discount   int64              `firestore:"discount"`
	DiscountID string             `firestore:"discountId,omitempty"`
	CouponCode *string            `firestore:"couponCode"`
	Shipping   int64              `firestore:"shipping"`
	Tax        int64              `firestore:"tax"`
	Total      int64              `firestore:"total"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID        string    `firestore:"id"`
	ProductID string    `firestore:"productId"`
	SKU       string    `firestore:"sku,omitempty"`
	Name      string    `firestore:"name"`
	Quantity  int       `firestore:"quantity"`
	UnitPrice int64     `firestore:"unitPrice"`
	Total     int64     `firestore:"total"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newCartDocument(c domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemDocument(it))
	}
	return cartDocument{
		CustomerID: c.Owner.CustomerID,
		SessionID:  c.Owner.SessionID,
		Currency:   c.Currency,
		Items:      items,
		Subtotal:   c.Subtotal,
		Discount:   c.Discount,
		DiscountID: c.DiscountID,
		CouponCode: c.CouponCode,
		Shipping:   c.Shipping,
		Tax:        c.Tax,
		Total:      c.Total,
		CreatedAt:  c.CreatedAt.UTC(),
		UpdatedAt:  c.UpdatedAt.UTC(),
	}
}

func (d cartDocument) toDomain(id string) domain.Cart {
	items := make([]domain.CartItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.CartItem(it))
	}
	return domain.Cart{
		ID:         id,
		Owner:      domain.CartOwner{CustomerID: d.CustomerID, SessionID: d.SessionID},
		Currency:   d.Currency,
		Items:      items,
		Subtotal:   d.Subtotal,
		Discount:   d.Discount,
		DiscountID: d.DiscountID,
		CouponCode: d.CouponCode,
		Shipping:   d.Shipping,
		Tax:        d.Tax,
		Total:      d.Total,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type productDocument struct {
	SKU           string     `firestore:"sku"`
	Name          string     `firestore:"name"`
	Price         int64      `firestore:"price"`
	SalePrice     *int64     `firestore:"salePrice"`
	SaleStartsAt  *time.Time `firestore:"saleStartsAt"`
	SaleEndsAt    *time.Time `firestore:"saleEndsAt"`
	Stock         int        `firestore:"stock"`
	TaxRateBps    *int64     `firestore:"taxRateBps"`
	WeightGrams   int        `firestore:"weightGrams"`
	CategoryIDs   []string   `firestore:"categoryIds"`
	CollectionIDs []string   `firestore:"collectionIds"`
	Active        bool       `firestore:"active"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		SKU:           p.SKU,
		Name:          p.Name,
		Price:         p.Price,
		SalePrice:     p.SalePrice,
		SaleStartsAt:  p.SaleStartsAt,
		SaleEndsAt:    p.SaleEndsAt,
		Stock:         p.Stock,
		TaxRateBps:    p.TaxRateBps,
		WeightGrams:   p.WeightGrams,
		CategoryIDs:   p.CategoryIDs,
		CollectionIDs: p.CollectionIDs,
		Active:        p.Active,
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		SKU:           d.SKU,
		Name:          d.Name,
		Price:         d.Price,
		SalePrice:     d.SalePrice,
		SaleStartsAt:  d.SaleStartsAt,
		SaleEndsAt:    d.SaleEndsAt,
		Stock:         d.Stock,
		TaxRateBps:    d.TaxRateBps,
		WeightGrams:   d.WeightGrams,
		CategoryIDs:   d.CategoryIDs,
		CollectionIDs: d.CollectionIDs,
		Active:        d.Active,
		UpdatedAt:     d.UpdatedAt,
	}
}

type ruleDocument struct {
	Type              string     `firestore:"type"`
	Value             int64      `firestore:"value"`
	MinOrderAmount    *int64     `firestore:"minOrderAmount"`
	MaxDiscountAmount *int64     `firestore:"maxDiscountAmount"`
	Scope             string     `firestore:"scope"`
	TargetIDs         []string   `firestore:"targetIds"`
	StartsAt          *time.Time `firestore:"startsAt"`
	EndsAt            *time.Time `firestore:"endsAt"`
	Active            bool       `firestore:"active"`
}

func newRuleDocument(r domain.DiscountRule) ruleDocument {
	return ruleDocument{
		Type:              string(r.Type),
		Value:             r.Value,
		MinOrderAmount:    r.MinOrderAmount,
		MaxDiscountAmount: r.MaxDiscountAmount,
		Scope:             string(r.Scope),
		TargetIDs:         r.TargetIDs,
		StartsAt:          r.StartsAt,
		EndsAt:            r.EndsAt,
		Active:            r.Active,
	}
}

func (d ruleDocument) toDomain() domain.DiscountRule {
	scope := domain.DiscountScope(d.Scope)
	if scope == "" {
		scope = domain.DiscountScopeAll
	}
	return domain.DiscountRule{
		Type:              domain.DiscountType(d.Type),
		Value:             d.Value,
		MinOrderAmount:    d.MinOrderAmount,
		MaxDiscountAmount: d.MaxDiscountAmount,
		Scope:             scope,
		TargetIDs:         d.TargetIDs,
		StartsAt:          d.StartsAt,
		EndsAt:            d.EndsAt,
		Active:            d.Active,
	}
}

type discountDocument struct {
	Name string `firestore:"name"`
	ruleDocument
}

type couponDocument struct {
	Code       string `firestore:"code"`
	CodeUpper  string `firestore:"codeUpper"`
	SingleUse  bool   `firestore:"singleUse"`
	UsageLimit *int   `firestore:"usageLimit"`
	UsageCount int    `firestore:"usageCount"`
	ruleDocument
}

func newCouponDocument(c domain.Coupon) couponDocument {
	return couponDocument{
		Code:         strings.TrimSpace(c.Code),
		CodeUpper:    normaliseCode(c.Code),
		SingleUse:    c.SingleUse,
		UsageLimit:   c.UsageLimit,
		UsageCount:   c.UsageCount,
		ruleDocument: newRuleDocument(c.DiscountRule),
	}
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:           id,
		Code:         d.Code,
		SingleUse:    d.SingleUse,
		UsageLimit:   d.UsageLimit,
		UsageCount:   d.UsageCount,
		DiscountRule: d.ruleDocument.toDomain(),
	}
}

type usageDocument struct {
	CouponID   string    `firestore:"couponId"`
	CustomerID string    `firestore:"customerId"`
	OrderID    string    `firestore:"orderId"`
	UsedAt     time.Time `firestore:"usedAt"`
}

type addressDocument struct {
	Name       string `firestore:"name"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
	Email      string `firestore:"email,omitempty"`
}

type orderItemDocument struct {
	ID             string `firestore:"id"`
	ProductID      string `firestore:"productId"`
	SKU            string `firestore:"sku,omitempty"`
	Name           string `firestore:"name"`
	UnitPrice      int64  `firestore:"unitPrice"`
	Quantity       int    `firestore:"quantity"`
	Total          int64  `firestore:"total"`
	TaxRateBps     int64  `firestore:"taxRateBps"`
	Tax            int64  `firestore:"tax"`
	WeightGrams    int    `firestore:"weightGrams"`
	PickedQuantity int    `firestore:"pickedQuantity"`
	PackedQuantity int    `firestore:"packedQuantity"`
}

type carrierDocument struct {
	OrderID           string     `firestore:"orderId,omitempty"`
	ShipmentID        string     `firestore:"shipmentId,omitempty"`
	AWB               string     `firestore:"awb,omitempty"`
	CourierName       string     `firestore:"courierName,omitempty"`
	LabelURL          string     `firestore:"labelUrl,omitempty"`
	PickupScheduledAt *time.Time `firestore:"pickupScheduledAt"`
	PushedAt          *time.Time `firestore:"pushedAt"`
}

type totalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type orderDocument struct {
	Number            string              `firestore:"number"`
	CustomerID        string              `firestore:"customerId"`
	CartID            string              `firestore:"cartId"`
	Status            string              `firestore:"status"`
	FulfillmentStatus string              `firestore:"fulfillmentStatus"`
	PaymentStatus     string              `firestore:"paymentStatus"`
	PaymentMethod     string              `firestore:"paymentMethod"`
	Currency          string              `firestore:"currency"`
	Totals            totalsDocument      `firestore:"totals"`
	DiscountID        string              `firestore:"discountId,omitempty"`
	CouponCode        string              `firestore:"couponCode,omitempty"`
	Items             []orderItemDocument `firestore:"items"`
	ShippingAddress   addressDocument     `firestore:"shippingAddress"`
	BillingAddress    *addressDocument    `firestore:"billingAddress"`
	Notes             string              `firestore:"notes,omitempty"`
	TrackingNumber    string              `firestore:"trackingNumber,omitempty"`
	CarrierName       string              `firestore:"carrierName,omitempty"`
	Carrier           carrierDocument     `firestore:"carrier"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	ProcessedAt       *time.Time          `firestore:"processedAt"`
	PickedAt          *time.Time          `firestore:"pickedAt"`
	PackedAt          *time.Time          `firestore:"packedAt"`
	ShippedAt         *time.Time          `firestore:"shippedAt"`
	DeliveredAt       *time.Time          `firestore:"deliveredAt"`
	PaidAt            *time.Time          `firestore:"paidAt"`
	CancelledAt       *time.Time          `firestore:"cancelledAt"`
	RefundedAt        *time.Time          `firestore:"refundedAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemDocument(it))
	}
	var billing *addressDocument
	if o.BillingAddress != nil {
		b := addressDocument(*o.BillingAddress)
		billing = &b
	}
	return orderDocument{
		Number:            o.Number,
		CustomerID:        o.CustomerID,
		CartID:            o.CartID,
		Status:            string(o.Status),
		FulfillmentStatus: string(o.FulfillmentStatus),
		PaymentStatus:     string(o.PaymentStatus),
		PaymentMethod:     string(o.PaymentMethod),
		Currency:          o.Currency,
		Totals:            totalsDocument(o.Totals),
		DiscountID:        o.DiscountID,
		CouponCode:        o.CouponCode,
		Items:             items,
		ShippingAddress:   addressDocument(o.ShippingAddress),
		BillingAddress:    billing,
		Notes:             o.Notes,
		TrackingNumber:    o.TrackingNumber,
		CarrierName:       o.CarrierName,
		Carrier:           carrierDocument(o.Carrier),
		CreatedAt:         o.CreatedAt.UTC(),
		UpdatedAt:         o.UpdatedAt.UTC(),
		ProcessedAt:       o.ProcessedAt,
		PickedAt:          o.PickedAt,
		PackedAt:          o.PackedAt,
		ShippedAt:         o.ShippedAt,
		DeliveredAt:       o.DeliveredAt,
		PaidAt:            o.PaidAt,
		CancelledAt:       o.CancelledAt,
		RefundedAt:        o.RefundedAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.OrderItem(it))
	}
	var billing *domain.Address
	if d.BillingAddress != nil {
		b := domain.Address(*d.BillingAddress)
		billing = &b
	}
	return domain.Order{
		ID:                id,
		Number:            d.Number,
		CustomerID:        d.CustomerID,
		CartID:            d.CartID,
		Status:            domain.OrderStatus(d.Status),
		FulfillmentStatus: domain.FulfillmentStatus(d.FulfillmentStatus),
		PaymentStatus:     domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod:     domain.PaymentMethod(d.PaymentMethod),
		Currency:          d.Currency,
		Totals:            domain.OrderTotals(d.Totals),
		DiscountID:        d.DiscountID,
		CouponCode:        d.CouponCode,
		Items:             items,
		ShippingAddress:   domain.Address(d.ShippingAddress),
		BillingAddress:    billing,
		Notes:             d.Notes,
		TrackingNumber:    d.TrackingNumber,
		CarrierName:       d.CarrierName,
		Carrier:           domain.CarrierShipment(d.Carrier),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		ProcessedAt:       d.ProcessedAt,
		PickedAt:          d.PickedAt,
		PackedAt:          d.PackedAt,
		ShippedAt:         d.ShippedAt,
		DeliveredAt:       d.DeliveredAt,
		PaidAt:            d.PaidAt,
		CancelledAt:       d.CancelledAt,
		RefundedAt:        d.RefundedAt,
	}
}

type paymentDocument struct {
	OrderID          string            `firestore:"orderId"`
	CustomerID       string            `firestore:"customerId"`
	Provider         string            `firestore:"provider"`
	GatewayOrderID   string            `firestore:"gatewayOrderId"`
	GatewayPaymentID string            `firestore:"gatewayPaymentId,omitempty"`
	Amount           int64             `firestore:"amount"`
	Currency         string            `firestore:"currency"`
	Status           string            `firestore:"status"`
	FailureReason    string            `firestore:"failureReason,omitempty"`
	Metadata         map[string]string `firestore:"metadata,omitempty"`
	CreatedAt        time.Time         `firestore:"createdAt"`
	UpdatedAt        time.Time         `firestore:"updatedAt"`
	CompletedAt      *time.Time        `firestore:"completedAt"`
}

func newPaymentDocument(p domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:          p.OrderID,
		CustomerID:       p.CustomerID,
		Provider:         p.Provider,
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Status:           string(p.Status),
		FailureReason:    p.FailureReason,
		Metadata:         p.Metadata,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
		CompletedAt:      p.CompletedAt,
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:               id,
		OrderID:          d.OrderID,
		CustomerID:       d.CustomerID,
		Provider:         d.Provider,
		GatewayOrderID:   d.GatewayOrderID,
		GatewayPaymentID: d.GatewayPaymentID,
		Amount:           d.Amount,
		Currency:         d.Currency,
		Status:           domain.PaymentRecordStatus(d.Status),
		FailureReason:    d.FailureReason,
		Metadata:         d.Metadata,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		CompletedAt:      d.CompletedAt,
	}
}

type shippingZoneDocument struct {
	State string `firestore:"state"`
	City  string `firestore:"city,omitempty"`
	Fee   int64  `firestore:"fee"`
}

type shippingSettingsDocument struct {
	Method          string                 `firestore:"method"`
	FlatRate        int64                  `firestore:"flatRate"`
	FreeAbove       *int64                 `firestore:"freeAbove"`
	WeightBaseFee   int64                  `firestore:"weightBaseFee"`
	WeightRatePerKg int64                  `firestore:"weightRatePerKg"`
	Zones           []shippingZoneDocument `firestore:"zones"`
	DefaultZoneFee  int64                  `firestore:"defaultZoneFee"`
}

func (d shippingSettingsDocument) toDomain() domain.ShippingSettings {
	zones := make([]domain.ShippingZone, 0, len(d.Zones))
	for _, z := range d.Zones {
		zones = append(zones, domain.ShippingZone(z))
	}
	return domain.ShippingSettings{
		Method:          domain.ShippingMethod(d.Method),
		FlatRate:        d.FlatRate,
		FreeAbove:       d.FreeAbove,
		WeightBaseFee:   d.WeightBaseFee,
		WeightRatePerKg: d.WeightRatePerKg,
		Zones:           zones,
		DefaultZoneFee:  d.DefaultZoneFee,
	}
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type counterDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}
