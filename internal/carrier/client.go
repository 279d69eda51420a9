// Package carrier talks to the logistics provider's REST API: bearer login,
// adhoc order creation, AWB assignment, pickup and label generation and
// order cancellation.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	domain "github.com/vinuvisthara/api/internal/domain"
)

const (
	tokenCacheKey = "carrier:auth_token"

	defaultTokenTTL       = 10 * 24 * time.Hour
	defaultTimeout        = 20 * time.Second
	defaultPickupLocation = "Primary"
	defaultWeightKg       = 0.5
	defaultDimensionCm    = 10

	maxLoggedBody = 4 << 10

	pathLogin  = "/v1/external/auth/login"
	pathCreate = "/v1/external/orders/create/adhoc"
	pathAWB    = "/v1/external/courier/assign/awb"
	pathPickup = "/v1/external/courier/generate/pickup"
	pathLabel  = "/v1/external/courier/generate/label"
	pathCancel = "/v1/external/orders/cancel"

	pickupTimeLayout = "2006-01-02 15:04:05"
	orderDateLayout  = "2006-01-02 15:04"
)

// TokenCache stores the bearer token between calls.
type TokenCache interface {
	Get(key string) (string, bool)
	Set(key string, value string, ttl time.Duration)
	Delete(key string)
}

// Logger records carrier call outcomes.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Config configures the Client.
type Config struct {
	BaseURL        string
	Email          string
	Password       string
	TokenTTL       time.Duration
	PickupLocation string
	ChannelID      string
	Timeout        time.Duration
	HTTPClient     *http.Client
	Cache          TokenCache
	Logger         Logger
	Clock          func() time.Time
}

// Client is safe for concurrent use.
type Client struct {
	baseURL        string
	email          string
	password       string
	tokenTTL       time.Duration
	pickupLocation string
	channelID      string
	http           *http.Client
	cache          TokenCache
	logger         Logger
	clock          func() time.Time
}

// New builds a Client. A client built without credentials reports
// Configured() == false and fails every call with ErrNotConfigured.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	pickup := strings.TrimSpace(cfg.PickupLocation)
	if pickup == "" {
		pickup = defaultPickupLocation
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		email:          strings.TrimSpace(cfg.Email),
		password:       cfg.Password,
		tokenTTL:       ttl,
		pickupLocation: pickup,
		channelID:      strings.TrimSpace(cfg.ChannelID),
		http:           httpClient,
		cache:          cfg.Cache,
		logger:         logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}
}

// Configured reports whether credentials and an endpoint are present.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.email != "" && c.password != "" && c.cache != nil
}

// CreateOrder registers the order with the carrier.
func (c *Client) CreateOrder(ctx context.Context, order domain.Order) (OrderResult, error) {
	const op = "create_order"
	if !c.Configured() {
		return OrderResult{}, ErrNotConfigured
	}
	if len(order.Items) == 0 {
		return OrderResult{}, &Error{Op: op, Kind: ErrOrderFailed, Err: errors.New("order has no items")}
	}

	var resp adhocResponse
	if err := c.call(ctx, op, http.MethodPost, pathCreate, c.buildAdhocOrder(order), &resp); err != nil {
		return OrderResult{}, err
	}
	if resp.OrderID == "" || resp.ShipmentID == "" {
		c.logger(ctx, "carrier.create_order.incomplete", map[string]any{
			"orderId":        order.ID,
			"carrierOrderId": string(resp.OrderID),
			"shipmentId":     string(resp.ShipmentID),
		})
		return OrderResult{}, incomplete(op, "order_id and shipment_id are required")
	}
	c.logger(ctx, "carrier.create_order.succeeded", map[string]any{
		"orderId":        order.ID,
		"carrierOrderId": string(resp.OrderID),
		"shipmentId":     string(resp.ShipmentID),
	})
	return OrderResult{
		CarrierOrderID: string(resp.OrderID),
		ShipmentID:     string(resp.ShipmentID),
		Status:         resp.Status,
	}, nil
}

// AssignAWB asks the carrier to allocate a courier and tracking number.
func (c *Client) AssignAWB(ctx context.Context, shipmentID string) (AWBResult, error) {
	const op = "assign_awb"
	if !c.Configured() {
		return AWBResult{}, ErrNotConfigured
	}
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return AWBResult{}, &Error{Op: op, Kind: ErrOrderFailed, Err: errors.New("shipment id is required")}
	}

	var resp awbResponse
	if err := c.call(ctx, op, http.MethodPost, pathAWB, awbRequest{ShipmentID: shipmentID}, &resp); err != nil {
		return AWBResult{}, err
	}
	awb := strings.TrimSpace(resp.Response.Data.AWBCode)
	if awb == "" {
		c.logger(ctx, "carrier.assign_awb.incomplete", map[string]any{"shipmentId": shipmentID})
		return AWBResult{}, incomplete(op, "awb_code missing")
	}
	return AWBResult{
		ShipmentID:  shipmentID,
		AWB:         awb,
		CourierName: strings.TrimSpace(resp.Response.Data.CourierName),
	}, nil
}

// CreateOrderAndAssignAWB composes CreateOrder and AssignAWB.
func (c *Client) CreateOrderAndAssignAWB(ctx context.Context, order domain.Order) (Shipment, error) {
	created, err := c.CreateOrder(ctx, order)
	if err != nil {
		return Shipment{}, err
	}
	assigned, err := c.AssignAWB(ctx, created.ShipmentID)
	if err != nil {
		return Shipment{CarrierOrderID: created.CarrierOrderID, ShipmentID: created.ShipmentID}, err
	}
	return Shipment{
		CarrierOrderID: created.CarrierOrderID,
		ShipmentID:     created.ShipmentID,
		AWB:            assigned.AWB,
		CourierName:    assigned.CourierName,
	}, nil
}

// GeneratePickup requests a pickup for the given shipments.
func (c *Client) GeneratePickup(ctx context.Context, shipmentIDs []string) (PickupResult, error) {
	const op = "generate_pickup"
	if !c.Configured() {
		return PickupResult{}, ErrNotConfigured
	}
	ids := compactIDs(shipmentIDs)
	if len(ids) == 0 {
		return PickupResult{}, &Error{Op: op, Kind: ErrOrderFailed, Err: errors.New("at least one shipment id is required")}
	}

	var resp pickupResponse
	if err := c.call(ctx, op, http.MethodPost, pathPickup, shipmentIDsRequest{ShipmentID: ids}, &resp); err != nil {
		return PickupResult{}, err
	}
	if resp.PickupStatus != 1 {
		return PickupResult{}, incomplete(op, "pickup_status not set")
	}
	result := PickupResult{
		TokenNumber: strings.TrimSpace(resp.Response.PickupTokenNumber),
		Message:     strings.TrimSpace(resp.Response.Data),
	}
	if raw := strings.TrimSpace(resp.Response.PickupScheduledDate); raw != "" {
		if ts, err := time.Parse(pickupTimeLayout, raw); err == nil {
			ts = ts.UTC()
			result.ScheduledAt = &ts
		}
	}
	return result, nil
}

// GenerateLabel requests a printable label for a shipment.
func (c *Client) GenerateLabel(ctx context.Context, shipmentID string) (LabelResult, error) {
	const op = "generate_label"
	if !c.Configured() {
		return LabelResult{}, ErrNotConfigured
	}
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return LabelResult{}, &Error{Op: op, Kind: ErrOrderFailed, Err: errors.New("shipment id is required")}
	}

	var resp labelResponse
	if err := c.call(ctx, op, http.MethodPost, pathLabel, shipmentIDsRequest{ShipmentID: []string{shipmentID}}, &resp); err != nil {
		return LabelResult{}, err
	}
	url := strings.TrimSpace(resp.LabelURL)
	if resp.LabelCreated != 1 || url == "" {
		return LabelResult{}, incomplete(op, "label_url missing")
	}
	return LabelResult{LabelURL: url}, nil
}

// CancelOrder cancels a remote carrier order.
func (c *Client) CancelOrder(ctx context.Context, carrierOrderID string) error {
	const op = "cancel_order"
	if !c.Configured() {
		return ErrNotConfigured
	}
	carrierOrderID = strings.TrimSpace(carrierOrderID)
	if carrierOrderID == "" {
		return &Error{Op: op, Kind: ErrOrderFailed, Err: errors.New("carrier order id is required")}
	}
	return c.call(ctx, op, http.MethodPost, pathCancel, cancelRequest{IDs: []string{carrierOrderID}}, nil)
}

func (c *Client) token(ctx context.Context) (string, error) {
	if token, ok := c.cache.Get(tokenCacheKey); ok && token != "" {
		return token, nil
	}

	body, err := json.Marshal(loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return "", &Error{Op: "login", Kind: ErrOrderFailed, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathLogin, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Op: "login", Kind: ErrOrderFailed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		c.logger(ctx, "carrier.login.failed", map[string]any{"error": err.Error()})
		return "", &Error{Op: "login", Kind: ErrOrderFailed, Err: err}
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxLoggedBody*4))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger(ctx, "carrier.login.failed", map[string]any{
			"status": res.StatusCode,
			"body":   truncate(raw),
		})
		return "", failed("login", res.StatusCode, truncate(raw), nil)
	}

	var payload loginResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", &Error{Op: "login", Kind: ErrResponseIncomplete, Err: err}
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		return "", incomplete("login", "token missing")
	}
	c.cache.Set(tokenCacheKey, token, c.tokenTTL)
	c.logger(ctx, "carrier.login.succeeded", map[string]any{"ttl": c.tokenTTL.String()})
	return token, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, payload any, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &Error{Op: op, Kind: ErrOrderFailed, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Kind: ErrOrderFailed, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.clock()
	res, err := c.http.Do(req)
	if err != nil {
		c.logger(ctx, "carrier."+op+".failed", map[string]any{
			"error":      err.Error(),
			"durationMs": c.clock().Sub(start).Milliseconds(),
		})
		return &Error{Op: op, Kind: ErrOrderFailed, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, StatusCode: res.StatusCode, Kind: ErrOrderFailed, Err: err}
	}
	if res.StatusCode == http.StatusUnauthorized {
		c.cache.Delete(tokenCacheKey)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger(ctx, "carrier."+op+".failed", map[string]any{
			"status":     res.StatusCode,
			"body":       truncate(raw),
			"durationMs": c.clock().Sub(start).Milliseconds(),
		})
		return failed(op, res.StatusCode, truncate(raw), nil)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger(ctx, "carrier."+op+".decode_failed", map[string]any{
			"body":  truncate(raw),
			"error": err.Error(),
		})
		return &Error{Op: op, StatusCode: res.StatusCode, Body: truncate(raw), Kind: ErrResponseIncomplete, Err: err}
	}
	return nil
}

func (c *Client) buildAdhocOrder(order domain.Order) adhocOrder {
	ship := order.ShippingAddress
	bill := ship
	if order.BillingAddress != nil {
		bill = *order.BillingAddress
	}
	first, last := splitName(bill.Name)

	created := order.CreatedAt
	if created.IsZero() {
		created = c.clock()
	}
	reference := strings.TrimSpace(order.Number)
	if reference == "" {
		reference = order.ID
	}

	payload := adhocOrder{
		OrderID:           reference,
		OrderDate:         created.Format(orderDateLayout),
		PickupLocation:    c.pickupLocation,
		ChannelID:         c.channelID,
		Comment:           order.Notes,
		BillingName:       first,
		BillingLastName:   last,
		BillingAddress:    bill.Line1,
		BillingAddress2:   bill.Line2,
		BillingCity:       bill.City,
		BillingPincode:    bill.PostalCode,
		BillingState:      bill.State,
		BillingCountry:    defaultCountry(bill.Country),
		BillingEmail:      bill.Email,
		BillingPhone:      bill.Phone,
		ShippingIsBilling: order.BillingAddress == nil || *order.BillingAddress == ship,
		PaymentMethod:     paymentMethodFor(order),
		ShippingCharges:   toMajor(order.Totals.Shipping),
		TotalDiscount:     toMajor(order.Totals.Discount),
		SubTotal:          toMajor(order.Totals.Subtotal),
		Length:            defaultDimensionCm,
		Breadth:           defaultDimensionCm,
		Height:            defaultDimensionCm,
		Weight:            parcelWeightKg(order.Items),
	}
	if !payload.ShippingIsBilling {
		payload.ShippingName = ship.Name
		payload.ShippingAddress = ship.Line1
		payload.ShippingAddress2 = ship.Line2
		payload.ShippingCity = ship.City
		payload.ShippingPincode = ship.PostalCode
		payload.ShippingState = ship.State
		payload.ShippingCountry = defaultCountry(ship.Country)
		payload.ShippingEmail = ship.Email
		payload.ShippingPhone = ship.Phone
	}
	payload.OrderItems = make([]adhocItem, 0, len(order.Items))
	for _, item := range order.Items {
		payload.OrderItems = append(payload.OrderItems, adhocItem{
			Name:         item.Name,
			SKU:          defaultString(item.SKU, item.ProductID),
			Units:        item.Quantity,
			SellingPrice: toMajor(item.UnitPrice),
			Tax:          float64(item.TaxRateBps) / 100,
		})
	}
	return payload
}

// paymentMethodFor derives the carrier payment mode from whether the order is already paid.
func paymentMethodFor(order domain.Order) string {
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return "Prepaid"
	}
	return "COD"
}

func parcelWeightKg(items []domain.OrderItem) float64 {
	grams := 0
	for _, item := range items {
		grams += item.WeightGrams * item.Quantity
	}
	if grams <= 0 {
		return defaultWeightKg
	}
	return math.Round(float64(grams)/10) / 100
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func toMajor(minor int64) float64 {
	return float64(minor) / 100
}

func defaultCountry(country string) string {
	return defaultString(country, "India")
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func truncate(raw []byte) string {
	if len(raw) > maxLoggedBody {
		return string(raw[:maxLoggedBody]) + "..."
	}
	return string(raw)
}
