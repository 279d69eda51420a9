package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vinuvisthara/api/internal/carrier"
	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/repositories"
)

const maxPickupBatch = 50

var fulfillmentTransitions = map[domain.FulfillmentStatus][]domain.FulfillmentStatus{
	domain.FulfillmentPending:    {domain.FulfillmentProcessing},
	domain.FulfillmentProcessing: {domain.FulfillmentPicked},
	domain.FulfillmentPicked:     {domain.FulfillmentPacked},
	domain.FulfillmentPacked:     {domain.FulfillmentShipped},
	domain.FulfillmentShipped:    {domain.FulfillmentDelivered},
}

// FulfillmentServiceDeps wires the warehouse workflow.
type FulfillmentServiceDeps struct {
	Orders        repositories.OrderRepository
	Carrier       ShipmentGateway
	Labels        LabelArchive
	Notifications *NotificationDispatcher
	Metrics       Metrics
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders        repositories.OrderRepository
	carrier       ShipmentGateway
	labels        LabelArchive
	notifications *NotificationDispatcher
	metrics       Metrics
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewFulfillmentService constructs the fulfillment state machine.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &fulfillmentService{
		orders:        deps.Orders,
		carrier:       deps.Carrier,
		labels:        deps.Labels,
		notifications: deps.Notifications,
		metrics:       metrics,
		unitOfWork:    unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *fulfillmentService) Process(ctx context.Context, cmd FulfillmentCommand) (Order, error) {
	return s.advance(ctx, cmd.OrderID, cmd.ActorID, "process", domain.FulfillmentProcessing, func(order *Order, now time.Time) error {
		order.ProcessedAt = &now
		return nil
	})
}

func (s *fulfillmentService) Pick(ctx context.Context, cmd FulfillmentCommand) (Order, error) {
	return s.advance(ctx, cmd.OrderID, cmd.ActorID, "pick", domain.FulfillmentPicked, func(order *Order, now time.Time) error {
		for i := range order.Items {
			order.Items[i].PickedQuantity = order.Items[i].Quantity
		}
		order.PickedAt = &now
		return nil
	})
}

func (s *fulfillmentService) Pack(ctx context.Context, cmd FulfillmentCommand) (Order, error) {
	return s.advance(ctx, cmd.OrderID, cmd.ActorID, "pack", domain.FulfillmentPacked, func(order *Order, now time.Time) error {
		for i := range order.Items {
			order.Items[i].PackedQuantity = order.Items[i].Quantity
		}
		order.PackedAt = &now
		return nil
	})
}

// Ship requires a tracking number, either supplied by the operator or the AWB
// the carrier assigned when the order was pushed.
func (s *fulfillmentService) Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	order, err := s.advance(ctx, cmd.OrderID, cmd.ActorID, "ship", domain.FulfillmentShipped, func(order *Order, now time.Time) error {
		tracking := firstNonEmpty(cmd.TrackingNumber, order.TrackingNumber, order.Carrier.AWB)
		if tracking == "" {
			return newValidationError("trackingNumber", "is required when the order has no carrier AWB")
		}
		if !canTransitionOrder(order.Status, domain.OrderStatusShipped) {
			return &StateTransitionError{Action: "ship", From: order.FulfillmentStatus, Status: order.Status}
		}
		order.TrackingNumber = tracking
		order.CarrierName = firstNonEmpty(cmd.CarrierName, order.CarrierName, order.Carrier.CourierName)
		order.Status = domain.OrderStatusShipped
		order.ShippedAt = &now
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.notifications.OrderNotification(ctx, TemplateOrderShipped, order, nil)
	return order, nil
}

func (s *fulfillmentService) Deliver(ctx context.Context, cmd FulfillmentCommand) (Order, error) {
	order, err := s.advance(ctx, cmd.OrderID, cmd.ActorID, "deliver", domain.FulfillmentDelivered, func(order *Order, now time.Time) error {
		if !canTransitionOrder(order.Status, domain.OrderStatusDelivered) {
			return &StateTransitionError{Action: "deliver", From: order.FulfillmentStatus, Status: order.Status}
		}
		order.Status = domain.OrderStatusDelivered
		order.DeliveredAt = &now
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.notifications.OrderNotification(ctx, TemplateOrderDelivered, order, nil)
	return order, nil
}

// PushToCarrier creates the remote shipment and assigns an AWB. The carrier is
// called outside any transaction; the identifiers are persisted afterwards.
// An order that already has a shipment is returned unchanged. When a previous
// push created the shipment but AWB assignment failed, only the AWB step is
// retried.
func (s *fulfillmentService) PushToCarrier(ctx context.Context, cmd FulfillmentCommand) (Order, error) {
	if s.carrier == nil || !s.carrier.Configured() {
		return Order{}, ErrCarrierNotConfigured
	}
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Carrier.ShipmentID != "" && order.Carrier.AWB != "" {
		return order, nil
	}
	if !shippable(order) {
		return Order{}, &StateTransitionError{Action: "push to carrier", From: order.FulfillmentStatus, Status: order.Status}
	}

	var shipment carrier.Shipment
	if order.Carrier.ShipmentID != "" {
		assigned, err := s.carrier.AssignAWB(ctx, order.Carrier.ShipmentID)
		if err != nil {
			s.pushFailed(ctx, order.ID, cmd.ActorID, err)
			return Order{}, err
		}
		shipment = carrier.Shipment{
			CarrierOrderID: order.Carrier.OrderID,
			ShipmentID:     order.Carrier.ShipmentID,
			AWB:            assigned.AWB,
			CourierName:    assigned.CourierName,
		}
	} else {
		shipment, err = s.carrier.CreateOrderAndAssignAWB(ctx, order)
		if err != nil {
			s.pushFailed(ctx, order.ID, cmd.ActorID, err)
			if shipment.ShipmentID != "" {
				s.keepPartialShipment(ctx, order.ID, shipment)
			}
			return Order{}, err
		}
	}

	return s.update(ctx, order.ID, func(order *Order, now time.Time) error {
		order.Carrier.OrderID = shipment.CarrierOrderID
		order.Carrier.ShipmentID = shipment.ShipmentID
		order.Carrier.AWB = shipment.AWB
		order.Carrier.CourierName = shipment.CourierName
		order.Carrier.PushedAt = &now
		s.logger(ctx, "fulfillment.carrier.pushed", map[string]any{
			"orderId":    order.ID,
			"shipmentId": shipment.ShipmentID,
			"awb":        shipment.AWB,
			"actorId":    cmd.ActorID,
		})
		return nil
	})
}

func (s *fulfillmentService) pushFailed(ctx context.Context, orderID, actorID string, err error) {
	s.metrics.CarrierCallFailed(ctx, "push")
	s.logger(ctx, "fulfillment.carrier.push.failed", map[string]any{
		"orderId": orderID,
		"actorId": actorID,
		"error":   err.Error(),
	})
}

// keepPartialShipment records a remote shipment created before AWB assignment
// failed so a retry does not create a second one and cancel can reach it.
func (s *fulfillmentService) keepPartialShipment(ctx context.Context, orderID string, shipment carrier.Shipment) {
	_, err := s.update(ctx, orderID, func(order *Order, _ time.Time) error {
		order.Carrier.OrderID = shipment.CarrierOrderID
		order.Carrier.ShipmentID = shipment.ShipmentID
		return nil
	})
	fields := map[string]any{
		"orderId":        orderID,
		"carrierOrderId": shipment.CarrierOrderID,
		"shipmentId":     shipment.ShipmentID,
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "fulfillment.carrier.partial_save_failed", fields)
		return
	}
	s.logger(ctx, "fulfillment.carrier.awb_pending", fields)
}

func (s *fulfillmentService) GeneratePickup(ctx context.Context, cmd GeneratePickupCommand) (PickupResult, error) {
	if s.carrier == nil || !s.carrier.Configured() {
		return PickupResult{}, ErrCarrierNotConfigured
	}
	ids := make([]string, 0, len(cmd.OrderIDs))
	for _, id := range cmd.OrderIDs {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return PickupResult{}, newValidationError("orderIds", "at least one order id is required")
	}
	if len(ids) > maxPickupBatch {
		return PickupResult{}, newValidationError("orderIds", fmt.Sprintf("at most %d orders per pickup", maxPickupBatch))
	}

	shipmentIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		order, err := s.loadOrder(ctx, id)
		if err != nil {
			return PickupResult{}, err
		}
		if order.Carrier.ShipmentID == "" {
			return PickupResult{}, newValidationError("orderIds", fmt.Sprintf("order %s has not been pushed to the carrier", order.Number))
		}
		shipmentIDs = append(shipmentIDs, order.Carrier.ShipmentID)
	}

	pickup, err := s.carrier.GeneratePickup(ctx, shipmentIDs)
	if err != nil {
		s.metrics.CarrierCallFailed(ctx, "pickup")
		s.logger(ctx, "fulfillment.carrier.pickup.failed", map[string]any{
			"orderIds": ids,
			"error":    err.Error(),
		})
		return PickupResult{}, err
	}

	scheduled := pickup.ScheduledAt
	if scheduled == nil {
		now := s.clock()
		scheduled = &now
	}
	for _, id := range ids {
		if _, err := s.update(ctx, id, func(order *Order, _ time.Time) error {
			at := *scheduled
			order.Carrier.PickupScheduledAt = &at
			return nil
		}); err != nil {
			s.logger(ctx, "fulfillment.pickup.persist.failed", map[string]any{
				"orderId": id,
				"error":   err.Error(),
			})
		}
	}
	return PickupResult{OrderIDs: ids, ScheduledAt: pickup.ScheduledAt, TokenNumber: pickup.TokenNumber}, nil
}

// GenerateLabel fetches the shipping label and, when an archive is configured,
// stores a durable copy. Archive failure falls back to the carrier URL.
func (s *fulfillmentService) GenerateLabel(ctx context.Context, cmd FulfillmentCommand) (Order, error) {
	if s.carrier == nil || !s.carrier.Configured() {
		return Order{}, ErrCarrierNotConfigured
	}
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Carrier.ShipmentID == "" {
		return Order{}, newValidationError("orderId", "order has not been pushed to the carrier")
	}

	label, err := s.carrier.GenerateLabel(ctx, order.Carrier.ShipmentID)
	if err != nil {
		s.metrics.CarrierCallFailed(ctx, "label")
		s.logger(ctx, "fulfillment.carrier.label.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return Order{}, err
	}

	labelURL := label.LabelURL
	if s.labels != nil {
		archived, err := s.labels.ArchiveLabel(ctx, order.ID, label.LabelURL)
		if err != nil {
			s.logger(ctx, "fulfillment.label.archive.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		} else if archived != "" {
			labelURL = archived
		}
	}

	return s.update(ctx, order.ID, func(order *Order, _ time.Time) error {
		order.Carrier.LabelURL = labelURL
		return nil
	})
}

// advance moves the fulfillment status one step forward, applying mutate in
// the same transaction.
func (s *fulfillmentService) advance(ctx context.Context, orderID, actorID, action string, target domain.FulfillmentStatus, mutate func(*Order, time.Time) error) (Order, error) {
	order, err := s.update(ctx, orderID, func(order *Order, now time.Time) error {
		if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRefunded {
			return &StateTransitionError{Action: action, From: order.FulfillmentStatus, Status: order.Status}
		}
		if !canTransitionFulfillment(order.FulfillmentStatus, target) {
			return &StateTransitionError{Action: action, From: order.FulfillmentStatus}
		}
		if err := mutate(order, now); err != nil {
			return err
		}
		order.FulfillmentStatus = target
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, "fulfillment."+strings.ReplaceAll(action, " ", "_"), map[string]any{
		"orderId": order.ID,
		"status":  string(order.FulfillmentStatus),
		"actorId": strings.TrimSpace(actorID),
	})
	return order, nil
}

func (s *fulfillmentService) update(ctx context.Context, orderID string, mutate func(*Order, time.Time) error) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, newValidationError("orderId", "is required")
	}
	var out Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		now := s.clock()
		if err := mutate(&order, now); err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		out = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return out, nil
}

func (s *fulfillmentService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, newValidationError("orderId", "is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *fulfillmentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func canTransitionFulfillment(current, target domain.FulfillmentStatus) bool {
	return slices.Contains(fulfillmentTransitions[current], target)
}

// shippable reports whether the order may be handed to the carrier: not
// cancelled, not yet shipped, and either COD or already paid.
func shippable(order Order) bool {
	switch order.Status {
	case domain.OrderStatusCancelled, domain.OrderStatusRefunded, domain.OrderStatusShipped, domain.OrderStatusDelivered:
		return false
	}
	if order.PaymentMethod == domain.PaymentMethodGateway && order.PaymentStatus != domain.PaymentStatusPaid {
		return false
	}
	return true
}
