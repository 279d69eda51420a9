package carrier

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// OrderResult is the carrier's acknowledgement of an adhoc order.
type OrderResult struct {
	CarrierOrderID string
	ShipmentID     string
	Status         string
}

// AWBResult is the outcome of courier assignment.
type AWBResult struct {
	ShipmentID  string
	AWB         string
	CourierName string
}

// Shipment is everything the caller persists after a successful push.
type Shipment struct {
	CarrierOrderID string
	ShipmentID     string
	AWB            string
	CourierName    string
}

// PickupResult reports a scheduled pickup.
type PickupResult struct {
	ScheduledAt *time.Time
	TokenNumber string
	Message     string
}

// LabelResult points at the generated shipping label.
type LabelResult struct {
	LabelURL string
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type adhocItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
	Tax          float64 `json:"tax,omitempty"`
}

type adhocOrder struct {
	OrderID            string      `json:"order_id"`
	OrderDate          string      `json:"order_date"`
	PickupLocation     string      `json:"pickup_location"`
	ChannelID          string      `json:"channel_id,omitempty"`
	Comment            string      `json:"comment,omitempty"`
	BillingName        string      `json:"billing_customer_name"`
	BillingLastName    string      `json:"billing_last_name"`
	BillingAddress     string      `json:"billing_address"`
	BillingAddress2    string      `json:"billing_address_2,omitempty"`
	BillingCity        string      `json:"billing_city"`
	BillingPincode     string      `json:"billing_pincode"`
	BillingState       string      `json:"billing_state"`
	BillingCountry     string      `json:"billing_country"`
	BillingEmail       string      `json:"billing_email"`
	BillingPhone       string      `json:"billing_phone"`
	ShippingIsBilling  bool        `json:"shipping_is_billing"`
	ShippingName       string      `json:"shipping_customer_name,omitempty"`
	ShippingAddress    string      `json:"shipping_address,omitempty"`
	ShippingAddress2   string      `json:"shipping_address_2,omitempty"`
	ShippingCity       string      `json:"shipping_city,omitempty"`
	ShippingPincode    string      `json:"shipping_pincode,omitempty"`
	ShippingState      string      `json:"shipping_state,omitempty"`
	ShippingCountry    string      `json:"shipping_country,omitempty"`
	ShippingEmail      string      `json:"shipping_email,omitempty"`
	ShippingPhone      string      `json:"shipping_phone,omitempty"`
	OrderItems         []adhocItem `json:"order_items"`
	PaymentMethod      string      `json:"payment_method"`
	ShippingCharges    float64     `json:"shipping_charges"`
	TotalDiscount      float64     `json:"total_discount"`
	SubTotal           float64     `json:"sub_total"`
	Length             float64     `json:"length"`
	Breadth            float64     `json:"breadth"`
	Height             float64     `json:"height"`
	Weight             float64     `json:"weight"`
}

type adhocResponse struct {
	OrderID    flexID `json:"order_id"`
	ShipmentID flexID `json:"shipment_id"`
	Status     string `json:"status"`
}

type awbRequest struct {
	ShipmentID string `json:"shipment_id"`
	CourierID  string `json:"courier_id,omitempty"`
}

type awbResponse struct {
	AWBAssignStatus int `json:"awb_assign_status"`
	Response        struct {
		Data struct {
			AWBCode     string `json:"awb_code"`
			CourierName string `json:"courier_name"`
			ShipmentID  flexID `json:"shipment_id"`
		} `json:"data"`
	} `json:"response"`
}

type shipmentIDsRequest struct {
	ShipmentID []string `json:"shipment_id"`
}

type pickupResponse struct {
	PickupStatus int `json:"pickup_status"`
	Response     struct {
		PickupScheduledDate string `json:"pickup_scheduled_date"`
		PickupTokenNumber   string `json:"pickup_token_number"`
		Data                string `json:"data"`
	} `json:"response"`
}

type labelResponse struct {
	LabelCreated int    `json:"label_created"`
	LabelURL     string `json:"label_url"`
	Response     string `json:"response"`
}

type cancelRequest struct {
	IDs []string `json:"ids"`
}

// flexID accepts identifiers encoded either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		if i == 0 {
			*f = ""
			return nil
		}
		*f = flexID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexID(n.String())
	return nil
}
