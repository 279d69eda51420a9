package handlers

import (
	"strings"

	domain "github.com/vinuvisthara/api/internal/domain"
)

type cartItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	SKU       string `json:"sku,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
	AddedAt   string `json:"added_at,omitempty"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	Guest      bool              `json:"guest"`
	Currency   string            `json:"currency"`
	ItemsCount int               `json:"items_count"`
	Items      []cartItemPayload `json:"items"`
	Subtotal   int64             `json:"subtotal"`
	Discount   int64             `json:"discount"`
	DiscountID string            `json:"discount_id,omitempty"`
	CouponCode string            `json:"coupon_code,omitempty"`
	Shipping   int64             `json:"shipping"`
	Tax        int64             `json:"tax"`
	Total      int64             `json:"total"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

func buildCartPayload(cart domain.Cart) cartPayload {
	payload := cartPayload{
		ID:         cart.ID,
		Guest:      cart.Owner.IsGuest(),
		Currency:   strings.ToUpper(cart.Currency),
		ItemsCount: len(cart.Items),
		Items:      make([]cartItemPayload, 0, len(cart.Items)),
		Subtotal:   cart.Subtotal,
		Discount:   cart.Discount,
		DiscountID: cart.DiscountID,
		Shipping:   cart.Shipping,
		Tax:        cart.Tax,
		Total:      cart.Total,
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
	if cart.CouponCode != nil {
		payload.CouponCode = *cart.CouponCode
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
			AddedAt:   formatTime(item.AddedAt),
		})
	}
	return payload
}

type addressPayload struct {
	Name       string `json:"name" validate:"required,max=120"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone" validate:"required,max=20"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Name:       strings.TrimSpace(p.Name),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      strings.TrimSpace(p.Line2),
		City:       strings.TrimSpace(p.City),
		State:      strings.TrimSpace(p.State),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(p.Country)),
		Phone:      strings.TrimSpace(p.Phone),
		Email:      strings.TrimSpace(p.Email),
	}
}

func addressFromDomain(a domain.Address) addressPayload {
	return addressPayload{
		Name:       a.Name,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
		Email:      a.Email,
	}
}

type orderItemPayload struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	SKU            string `json:"sku,omitempty"`
	Name           string `json:"name"`
	UnitPrice      int64  `json:"unit_price"`
	Quantity       int    `json:"quantity"`
	Total          int64  `json:"total"`
	TaxRateBps     int64  `json:"tax_rate_bps"`
	Tax            int64  `json:"tax"`
	PickedQuantity int    `json:"picked_quantity"`
	PackedQuantity int    `json:"packed_quantity"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type carrierPayload struct {
	ShipmentID        string `json:"shipment_id,omitempty"`
	AWB               string `json:"awb,omitempty"`
	CourierName       string `json:"courier_name,omitempty"`
	LabelURL          string `json:"label_url,omitempty"`
	PickupScheduledAt string `json:"pickup_scheduled_at,omitempty"`
	PushedAt          string `json:"pushed_at,omitempty"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	Number            string             `json:"number"`
	CustomerID        string             `json:"customer_id"`
	Status            string             `json:"status"`
	FulfillmentStatus string             `json:"fulfillment_status"`
	PaymentStatus     string             `json:"payment_status"`
	PaymentMethod     string             `json:"payment_method"`
	Currency          string             `json:"currency"`
	Totals            orderTotalsPayload `json:"totals"`
	DiscountID        string             `json:"discount_id,omitempty"`
	CouponCode        string             `json:"coupon_code,omitempty"`
	Items             []orderItemPayload `json:"items"`
	ShippingAddress   addressPayload     `json:"shipping_address"`
	BillingAddress    *addressPayload    `json:"billing_address,omitempty"`
	Notes             string             `json:"notes,omitempty"`
	TrackingNumber    string             `json:"tracking_number,omitempty"`
	CarrierName       string             `json:"carrier_name,omitempty"`
	Carrier           *carrierPayload    `json:"carrier,omitempty"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at,omitempty"`
	PaidAt            string             `json:"paid_at,omitempty"`
	ShippedAt         string             `json:"shipped_at,omitempty"`
	DeliveredAt       string             `json:"delivered_at,omitempty"`
	CancelledAt       string             `json:"cancelled_at,omitempty"`
	RefundedAt        string             `json:"refunded_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		Number:            order.Number,
		CustomerID:        order.CustomerID,
		Status:            string(order.Status),
		FulfillmentStatus: string(order.FulfillmentStatus),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentMethod:     string(order.PaymentMethod),
		Currency:          order.Currency,
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		DiscountID:      order.DiscountID,
		CouponCode:      order.CouponCode,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: addressFromDomain(order.ShippingAddress),
		Notes:           order.Notes,
		TrackingNumber:  order.TrackingNumber,
		CarrierName:     order.CarrierName,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		PaidAt:          formatTimePtr(order.PaidAt),
		ShippedAt:       formatTimePtr(order.ShippedAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		CancelledAt:     formatTimePtr(order.CancelledAt),
		RefundedAt:      formatTimePtr(order.RefundedAt),
	}
	if order.BillingAddress != nil {
		billing := addressFromDomain(*order.BillingAddress)
		payload.BillingAddress = &billing
	}
	if c := order.Carrier; c.ShipmentID != "" || c.AWB != "" {
		payload.Carrier = &carrierPayload{
			ShipmentID:        c.ShipmentID,
			AWB:               c.AWB,
			CourierName:       c.CourierName,
			LabelURL:          c.LabelURL,
			PickupScheduledAt: formatTimePtr(c.PickupScheduledAt),
			PushedAt:          formatTimePtr(c.PushedAt),
		}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:             item.ID,
			ProductID:      item.ProductID,
			SKU:            item.SKU,
			Name:           item.Name,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			Total:          item.Total,
			TaxRateBps:     item.TaxRateBps,
			Tax:            item.Tax,
			PickedQuantity: item.PickedQuantity,
			PackedQuantity: item.PackedQuantity,
		})
	}
	return payload
}
