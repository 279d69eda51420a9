package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/payments"
	"github.com/vinuvisthara/api/internal/repositories"
)

const (
	paymentIDPrefix        = "pay_"
	duplicateCaptureReason = "duplicate capture: order already paid"
)

// PaymentServiceDeps wires payment reconciliation.
type PaymentServiceDeps struct {
	Orders            repositories.OrderRepository
	Payments          repositories.PaymentRepository
	Carts             repositories.CartRepository
	Gateway           PaymentGateway
	Fulfillment       FulfillmentService
	AutoPushToCarrier bool
	Notifications     *NotificationDispatcher
	Metrics           Metrics
	UnitOfWork        repositories.UnitOfWork
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders        repositories.OrderRepository
	payments      repositories.PaymentRepository
	carts         repositories.CartRepository
	gateway       PaymentGateway
	fulfillment   FulfillmentService
	autoPush      bool
	notifications *NotificationDispatcher
	metrics       Metrics
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentService constructs the reconciliation service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("payment service: cart repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: payment gateway is required")
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
		idGen = func() string { return ulid.Make().String() }
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:        deps.Orders,
		payments:      deps.Payments,
		carts:         deps.Carts,
		gateway:       deps.Gateway,
		fulfillment:   deps.Fulfillment,
		autoPush:      deps.AutoPushToCarrier,
		notifications: deps.Notifications,
		metrics:       metrics,
		unitOfWork:    unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateRemoteOrder opens a gateway order for the order total and records a
// pending Payment tagged with the gateway order id.
func (s *paymentService) CreateRemoteOrder(ctx context.Context, cmd CreateRemoteOrderCommand) (RemoteOrder, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RemoteOrder{}, newValidationError("orderId", "is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RemoteOrder{}, mapRepositoryError(err)
	}
	if customerID := strings.TrimSpace(cmd.CustomerID); customerID != "" && order.CustomerID != customerID {
		return RemoteOrder{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return RemoteOrder{}, ErrPaymentAlreadyCompleted
	}
	if order.PaymentMethod != domain.PaymentMethodGateway {
		return RemoteOrder{}, newValidationError("orderId", "order is not payable online")
	}
	if order.Status != domain.OrderStatusPending {
		return RemoteOrder{}, &StateTransitionError{Action: "pay", From: order.FulfillmentStatus, Status: order.Status}
	}

	paymentID := paymentIDPrefix + s.newID()
	remote, err := s.gateway.CreateOrder(ctx, payments.PaymentContext{
		PreferredProvider: cmd.Provider,
		Currency:          order.Currency,
	}, payments.RemoteOrderRequest{
		Receipt:        order.Number,
		Amount:         order.Totals.Total,
		Currency:       order.Currency,
		Notes:          map[string]string{"orderId": order.ID, "orderNumber": order.Number, "paymentId": paymentID},
		IdempotencyKey: paymentID,
	})
	if err != nil {
		s.logger(ctx, "payment.remote_order.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return RemoteOrder{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.clock()
	payment := Payment{
		ID:             paymentID,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		Provider:       remote.Provider,
		GatewayOrderID: remote.ID,
		Amount:         order.Totals.Total,
		Currency:       order.Currency,
		Status:         domain.PaymentRecordPending,
		Metadata:       map[string]string{"receipt": order.Number},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.payments.Insert(ctx, payment); err != nil {
		s.logger(ctx, "payment.remote_order.orphaned", map[string]any{
			"orderId":        order.ID,
			"paymentId":      payment.ID,
			"gatewayOrderId": remote.ID,
			"provider":       remote.Provider,
			"error":          err.Error(),
		})
		return RemoteOrder{}, mapRepositoryError(err)
	}

	s.logger(ctx, "payment.remote_order.created", map[string]any{
		"orderId":        order.ID,
		"paymentId":      payment.ID,
		"gatewayOrderId": remote.ID,
		"provider":       remote.Provider,
	})
	return RemoteOrder{
		PaymentID:      payment.ID,
		Provider:       remote.Provider,
		GatewayOrderID: remote.ID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		ClientSecret:   remote.ClientSecret,
	}, nil
}

// Verify checks the client callback signature and, only when it holds, marks
// the payment completed, the order paid and confirmed, and deletes the cart in
// one transaction. A failed check mutates nothing.
func (s *paymentService) Verify(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	gatewayPaymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	switch {
	case strings.TrimSpace(cmd.OrderID) == "":
		return Order{}, newValidationError("orderId", "is required")
	case gatewayOrderID == "":
		return Order{}, newValidationError("gatewayOrderId", "is required")
	case gatewayPaymentID == "":
		return Order{}, newValidationError("gatewayPaymentId", "is required")
	}

	payment, err := s.payments.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if isNotFound(err) {
			return Order{}, fmt.Errorf("%w: unknown gateway order", ErrPaymentVerificationFailed)
		}
		return Order{}, mapRepositoryError(err)
	}
	if payment.OrderID != strings.TrimSpace(cmd.OrderID) {
		return Order{}, fmt.Errorf("%w: gateway order does not belong to order", ErrPaymentVerificationFailed)
	}
	if customerID := strings.TrimSpace(cmd.CustomerID); customerID != "" && payment.CustomerID != customerID {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, cmd.OrderID)
	}

	details, err := s.gateway.VerifyPayment(ctx, payments.PaymentContext{PreferredProvider: payment.Provider, Currency: payment.Currency}, payments.VerifyRequest{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Signature:        strings.TrimSpace(cmd.Signature),
		ExpectedAmount:   payment.Amount,
	})
	if err != nil {
		s.metrics.PaymentVerified(ctx, payment.Provider, false)
		s.logger(ctx, "payment.verify.failed", map[string]any{
			"orderId":        payment.OrderID,
			"paymentId":      payment.ID,
			"gatewayOrderId": gatewayOrderID,
			"error":          err.Error(),
		})
		return Order{}, ErrPaymentVerificationFailed
	}

	return s.complete(ctx, gatewayOrderID, firstNonEmpty(details.GatewayPaymentID, gatewayPaymentID))
}

// ConfirmCaptured completes a payment reported by an authenticated gateway
// webhook. It is idempotent with Verify.
func (s *paymentService) ConfirmCaptured(ctx context.Context, cmd ConfirmCapturedCommand) (Order, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if gatewayOrderID == "" {
		return Order{}, newValidationError("gatewayOrderId", "is required")
	}
	if strings.TrimSpace(cmd.GatewayPaymentID) == "" {
		return Order{}, newValidationError("gatewayPaymentId", "is required")
	}
	return s.complete(ctx, gatewayOrderID, strings.TrimSpace(cmd.GatewayPaymentID))
}

func (s *paymentService) complete(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (Order, error) {
	var (
		order     Order
		payment   Payment
		changed   bool
		duplicate bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		changed, duplicate = false, false
		p, err := s.payments.FindByGatewayOrderID(txCtx, gatewayOrderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		o, err := s.orders.FindByID(txCtx, p.OrderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if p.Status == domain.PaymentRecordCompleted && o.PaymentStatus == domain.PaymentStatusPaid {
			order, payment = o, p
			return nil
		}
		if o.PaymentStatus == domain.PaymentStatusPaid {
			if p.Status != domain.PaymentRecordPending {
				return ErrPaymentAlreadyCompleted
			}
			// A second attempt was captured for an order another payment
			// already settled; keep the capture on record for a refund.
			now := s.clock()
			p.Status = domain.PaymentRecordCompleted
			p.GatewayPaymentID = gatewayPaymentID
			p.FailureReason = duplicateCaptureReason
			p.CompletedAt = &now
			p.UpdatedAt = now
			if p.Metadata == nil {
				p.Metadata = map[string]string{}
			}
			p.Metadata["duplicate_capture"] = "true"
			if err := s.payments.Update(txCtx, p); err != nil {
				return mapRepositoryError(err)
			}
			payment, duplicate = p, true
			return nil
		}
		if o.Status == domain.OrderStatusCancelled || o.Status == domain.OrderStatusRefunded {
			return &StateTransitionError{Action: "confirm payment", From: o.FulfillmentStatus, Status: o.Status}
		}

		now := s.clock()
		p.Status = domain.PaymentRecordCompleted
		p.GatewayPaymentID = gatewayPaymentID
		p.FailureReason = ""
		p.CompletedAt = &now
		p.UpdatedAt = now

		o.PaymentStatus = domain.PaymentStatusPaid
		if canTransitionOrder(o.Status, domain.OrderStatusConfirmed) {
			o.Status = domain.OrderStatusConfirmed
		}
		o.PaidAt = &now
		o.UpdatedAt = now

		if err := s.payments.Update(txCtx, p); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, o); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.carts.Delete(txCtx, CartOwner{CustomerID: o.CustomerID}.CartID()); err != nil {
			return mapRepositoryError(err)
		}
		order, payment, changed = o, p, true
		return nil
	})
	if err != nil {
		if !userFacing(err) && !errors.Is(err, ErrPaymentAlreadyCompleted) {
			s.logger(ctx, "payment.complete.failed", map[string]any{
				"gatewayOrderId": gatewayOrderID,
				"error":          err.Error(),
			})
		}
		return Order{}, err
	}
	if duplicate {
		s.logger(ctx, "payment.duplicate_capture", map[string]any{
			"orderId":          payment.OrderID,
			"paymentId":        payment.ID,
			"gatewayOrderId":   gatewayOrderID,
			"gatewayPaymentId": gatewayPaymentID,
			"amount":           payment.Amount,
			"currency":         payment.Currency,
		})
		return Order{}, ErrPaymentAlreadyCompleted
	}
	if !changed {
		return order, nil
	}

	s.metrics.PaymentVerified(ctx, payment.Provider, true)
	s.logger(ctx, "payment.completed", map[string]any{
		"orderId":          order.ID,
		"paymentId":        payment.ID,
		"gatewayPaymentId": gatewayPaymentID,
	})
	s.notifications.OrderNotification(ctx, TemplatePaymentConfirmation, order, map[string]any{
		"paymentId": gatewayPaymentID,
	})
	if s.autoPush && s.fulfillment != nil {
		pushed, err := s.fulfillment.PushToCarrier(ctx, FulfillmentCommand{OrderID: order.ID, ActorID: "system"})
		if err != nil {
			s.logger(ctx, "payment.carrier.autopush.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		} else {
			order = pushed
		}
	}
	return order, nil
}

// MarkFailed records a failed attempt. The cart is kept so the customer can retry.
func (s *paymentService) MarkFailed(ctx context.Context, cmd MarkPaymentFailedCommand) error {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if gatewayOrderID == "" {
		return newValidationError("gatewayOrderId", "is required")
	}
	reason := strings.TrimSpace(cmd.Reason)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		p, err := s.payments.FindByGatewayOrderID(txCtx, gatewayOrderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if p.Status == domain.PaymentRecordCompleted || p.Status == domain.PaymentRecordRefunded {
			return ErrPaymentAlreadyCompleted
		}
		o, err := s.orders.FindByID(txCtx, p.OrderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		now := s.clock()
		p.Status = domain.PaymentRecordFailed
		if id := strings.TrimSpace(cmd.GatewayPaymentID); id != "" {
			p.GatewayPaymentID = id
		}
		p.FailureReason = reason
		p.UpdatedAt = now
		if err := s.payments.Update(txCtx, p); err != nil {
			return mapRepositoryError(err)
		}
		if o.PaymentStatus != domain.PaymentStatusPaid {
			o.PaymentStatus = domain.PaymentStatusFailed
			o.UpdatedAt = now
			if err := s.orders.Update(txCtx, o); err != nil {
				return mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger(ctx, "payment.failed", map[string]any{
		"gatewayOrderId": gatewayOrderID,
		"reason":         reason,
	})
	return nil
}

// Refund returns the captured amount of a paid order that was cancelled or delivered.
func (s *paymentService) Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, newValidationError("orderId", "is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid || !canTransitionOrder(order.Status, domain.OrderStatusRefunded) {
		return Order{}, &StateTransitionError{Action: "refund", From: order.FulfillmentStatus, Status: order.Status}
	}
	history, err := s.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	var captured *Payment
	for i := range history {
		if history[i].Status == domain.PaymentRecordCompleted && history[i].Metadata["duplicate_capture"] == "" {
			captured = &history[i]
		}
	}
	if captured == nil {
		return Order{}, newValidationError("orderId", "order has no captured payment")
	}

	details, err := s.gateway.Refund(ctx, payments.PaymentContext{PreferredProvider: captured.Provider, Currency: captured.Currency}, payments.RefundRequest{
		GatewayOrderID:   captured.GatewayOrderID,
		GatewayPaymentID: captured.GatewayPaymentID,
		Reason:           strings.TrimSpace(cmd.Reason),
		IdempotencyKey:   "refund_" + captured.ID,
		Metadata:         map[string]string{"orderId": order.ID},
	})
	if err != nil {
		s.logger(ctx, "payment.refund.failed", map[string]any{
			"orderId":   order.ID,
			"paymentId": captured.ID,
			"error":     err.Error(),
		})
		return Order{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	paymentID := captured.ID
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		p, err := s.payments.FindByGatewayOrderID(txCtx, captured.GatewayOrderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		o, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return mapRepositoryError(err)
		}
		now := s.clock()
		p.Status = domain.PaymentRecordRefunded
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		p.Metadata["refundId"] = details.RefundID
		p.UpdatedAt = now
		o.Status = domain.OrderStatusRefunded
		o.PaymentStatus = domain.PaymentStatusRefunded
		o.RefundedAt = &now
		o.UpdatedAt = now
		if err := s.payments.Update(txCtx, p); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, o); err != nil {
			return mapRepositoryError(err)
		}
		order = o
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.refund.persist.failed", map[string]any{
			"orderId":   order.ID,
			"paymentId": paymentID,
			"refundId":  details.RefundID,
			"error":     err.Error(),
		})
		return Order{}, err
	}

	s.logger(ctx, "payment.refunded", map[string]any{
		"orderId":  order.ID,
		"refundId": details.RefundID,
		"actorId":  strings.TrimSpace(cmd.ActorID),
	})
	s.notifications.OrderNotification(ctx, TemplateOrderRefunded, order, nil)
	return order, nil
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}
