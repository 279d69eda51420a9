package services

import (
	"context"
	"errors"
	"slices"
	"testing"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/repositories"
)

// gatewayCheckout places a gateway order for cust-1 and opens a remote order.
func gatewayCheckout(t *testing.T, h *harness) (Order, RemoteOrder) {
	t.Helper()
	h.product("p1", 50000, 5, int64Ptr(1800))
	h.addToCart(t, "cust-1", "p1", 1)
	order := h.placeOrder(t, "cust-1", domain.PaymentMethodGateway)
	remote, err := h.payments.CreateRemoteOrder(context.Background(), CreateRemoteOrderCommand{OrderID: order.ID, CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("CreateRemoteOrder: %v", err)
	}
	return order, remote
}

func TestPaymentCreateRemoteOrderRecordsPendingPayment(t *testing.T) {
	h := newHarness(t)
	order, remote := gatewayCheckout(t, h)

	if remote.Amount != order.Totals.Total || remote.Currency != "INR" || remote.Provider != "gateway" || remote.GatewayOrderID == "" {
		t.Fatalf("unexpected remote order %+v", remote)
	}
	payment, err := h.store.Payments().FindByGatewayOrderID(context.Background(), remote.GatewayOrderID)
	if err != nil {
		t.Fatalf("FindByGatewayOrderID: %v", err)
	}
	if payment.Status != domain.PaymentRecordPending || payment.OrderID != order.ID || payment.ID != remote.PaymentID {
		t.Fatalf("unexpected payment %+v", payment)
	}
}

func TestPaymentCreateRemoteOrderRejectsCODAndForeignCustomer(t *testing.T) {
	h := newHarness(t)
	h.product("p1", 50000, 5, nil)
	h.addToCart(t, "cust-1", "p1", 1)
	cod := h.placeOrder(t, "cust-1", domain.PaymentMethodCOD)
	ctx := context.Background()

	if _, err := h.payments.CreateRemoteOrder(ctx, CreateRemoteOrderCommand{OrderID: cod.ID, CustomerID: "cust-1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected COD order to be rejected, got %v", err)
	}
	if _, err := h.payments.CreateRemoteOrder(ctx, CreateRemoteOrderCommand{OrderID: cod.ID, CustomerID: "cust-2"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign order to be hidden, got %v", err)
	}
}

func TestPaymentVerifySuccessCompletesOrderAtomically(t *testing.T) {
	h := newHarness(t)
	order, remote := gatewayCheckout(t, h)
	ctx := context.Background()

	paid, err := h.payments.Verify(ctx, VerifyPaymentCommand{
		OrderID:          order.ID,
		CustomerID:       "cust-1",
		GatewayOrderID:   remote.GatewayOrderID,
		GatewayPaymentID: "pay_gw_1",
		Signature:        h.gateway.Sign(remote.GatewayOrderID, "pay_gw_1"),
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if paid.Status != domain.OrderStatusConfirmed || paid.PaymentStatus != domain.PaymentStatusPaid || paid.PaidAt == nil {
		t.Fatalf("expected paid and confirmed, got %s/%s", paid.Status, paid.PaymentStatus)
	}
	payment, err := h.store.Payments().FindByGatewayOrderID(ctx, remote.GatewayOrderID)
	if err != nil {
		t.Fatalf("FindByGatewayOrderID: %v", err)
	}
	if payment.Status != domain.PaymentRecordCompleted || payment.GatewayPaymentID != "pay_gw_1" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if _, err := h.store.Carts().Get(ctx, "c_cust-1"); err == nil {
		t.Fatalf("cart must be deleted after payment")
	}
	if !slices.Equal(h.outbox.templates(), []string{TemplatePaymentConfirmation}) {
		t.Fatalf("expected payment confirmation, got %v", h.outbox.templates())
	}

	if _, err := h.payments.CreateRemoteOrder(ctx, CreateRemoteOrderCommand{OrderID: order.ID}); !errors.Is(err, ErrPaymentAlreadyCompleted) {
		t.Fatalf("expected ErrPaymentAlreadyCompleted, got %v", err)
	}
}

func TestPaymentVerifyTamperedSignatureChangesNothing(t *testing.T) {
	h := newHarness(t)
	order, remote := gatewayCheckout(t, h)
	ctx := context.Background()

	signature := h.gateway.Sign(remote.GatewayOrderID, "pay_gw_1")
	tampered := signature[:len(signature)-1] + "0"
	if tampered == signature {
		tampered = signature[:len(signature)-1] + "1"
	}
	_, err := h.payments.Verify(ctx, VerifyPaymentCommand{
		OrderID:          order.ID,
		GatewayOrderID:   remote.GatewayOrderID,
		GatewayPaymentID: "pay_gw_1",
		Signature:        tampered,
	})
	if !errors.Is(err, ErrPaymentVerificationFailed) {
		t.Fatalf("expected ErrPaymentVerificationFailed, got %v", err)
	}

	stored, err := h.store.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || stored.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("order must be untouched, got %s/%s", stored.Status, stored.PaymentStatus)
	}
	cart, err := h.store.Carts().Get(ctx, "c_cust-1")
	if err != nil || len(cart.Items) != 1 {
		t.Fatalf("cart must be intact, got %+v %v", cart, err)
	}
	if !h.events.has("payment.verify.failed") {
		t.Fatalf("expected verification failure to be logged")
	}
}

func TestPaymentVerifyRejectsMismatchedOrder(t *testing.T) {
	h := newHarness(t)
	_, remote := gatewayCheckout(t, h)

	_, err := h.payments.Verify(context.Background(), VerifyPaymentCommand{
		OrderID:          "ord_other",
		GatewayOrderID:   remote.GatewayOrderID,
		GatewayPaymentID: "pay_gw_1",
		Signature:        h.gateway.Sign(remote.GatewayOrderID, "pay_gw_1"),
	})
	if !errors.Is(err, ErrPaymentVerificationFailed) {
		t.Fatalf("expected ErrPaymentVerificationFailed, got %v", err)
	}
}

func TestPaymentConfirmCapturedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	order, remote := gatewayCheckout(t, h)
	ctx := context.Background()
	cmd := ConfirmCapturedCommand{GatewayOrderID: remote.GatewayOrderID, GatewayPaymentID: "pay_gw_9"}

	first, err := h.payments.ConfirmCaptured(ctx, cmd)
	if err != nil {
		t.Fatalf("ConfirmCaptured: %v", err)
	}
	second, err := h.payments.ConfirmCaptured(ctx, cmd)
	if err != nil {
		t.Fatalf("repeat ConfirmCaptured: %v", err)
	}
	if first.ID != order.ID || second.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected orders %+v / %+v", first, second)
	}
	if got := h.outbox.templates(); len(got) != 1 {
		t.Fatalf("repeat confirmation must not notify again, got %v", got)
	}
}

func TestPaymentSecondCaptureIsRecordedAsDuplicate(t *testing.T) {
	h := newHarness(t)
	order, first := gatewayCheckout(t, h)
	ctx := context.Background()
	second, err := h.payments.CreateRemoteOrder(ctx, CreateRemoteOrderCommand{OrderID: order.ID, CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("second CreateRemoteOrder: %v", err)
	}

	if _, err := h.payments.ConfirmCaptured(ctx, ConfirmCapturedCommand{GatewayOrderID: first.GatewayOrderID, GatewayPaymentID: "pay_gw_1"}); err != nil {
		t.Fatalf("ConfirmCaptured first: %v", err)
	}
	_, err = h.payments.ConfirmCaptured(ctx, ConfirmCapturedCommand{GatewayOrderID: second.GatewayOrderID, GatewayPaymentID: "pay_gw_2"})
	if !errors.Is(err, ErrPaymentAlreadyCompleted) {
		t.Fatalf("expected ErrPaymentAlreadyCompleted, got %v", err)
	}

	dup, err := h.store.Payments().FindByGatewayOrderID(ctx, second.GatewayOrderID)
	if err != nil {
		t.Fatalf("FindByGatewayOrderID: %v", err)
	}
	if dup.Status != domain.PaymentRecordCompleted || dup.GatewayPaymentID != "pay_gw_2" || dup.Metadata["duplicate_capture"] != "true" {
		t.Fatalf("expected duplicate capture on record, got %+v", dup)
	}
	if !h.events.has("payment.duplicate_capture") {
		t.Fatalf("expected duplicate capture to be logged")
	}
	if got := h.outbox.templates(); len(got) != 1 {
		t.Fatalf("duplicate capture must not notify again, got %v", got)
	}

	if _, err := h.orders.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, CustomerID: "cust-1", Reason: "paid twice"}); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if _, err := h.payments.Refund(ctx, RefundOrderCommand{OrderID: order.ID, ActorID: "staff-1"}); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	settled, err := h.store.Payments().FindByGatewayOrderID(ctx, first.GatewayOrderID)
	if err != nil {
		t.Fatalf("FindByGatewayOrderID: %v", err)
	}
	if settled.Status != domain.PaymentRecordRefunded || settled.Metadata["refundId"] != "rfnd_pay_gw_1" {
		t.Fatalf("expected refund against the settled payment, got %+v", settled)
	}
	if dup, _ = h.store.Payments().FindByGatewayOrderID(ctx, second.GatewayOrderID); dup.Status != domain.PaymentRecordCompleted {
		t.Fatalf("refund must not touch the duplicate capture, got %+v", dup)
	}
}

type failingPaymentInserts struct {
	repositories.PaymentRepository
}

func (failingPaymentInserts) Insert(context.Context, domain.Payment) error {
	return errors.New("firestore unavailable")
}

func TestPaymentCreateRemoteOrderLogsOrphanWhenInsertFails(t *testing.T) {
	h := newHarness(t, withPaymentRepository(func(repo repositories.PaymentRepository) repositories.PaymentRepository {
		return failingPaymentInserts{repo}
	}))
	h.product("p1", 50000, 5, nil)
	h.addToCart(t, "cust-1", "p1", 1)
	order := h.placeOrder(t, "cust-1", domain.PaymentMethodGateway)

	if _, err := h.payments.CreateRemoteOrder(context.Background(), CreateRemoteOrderCommand{OrderID: order.ID, CustomerID: "cust-1"}); err == nil {
		t.Fatalf("expected insert failure to surface")
	}
	if !h.events.has("payment.remote_order.orphaned") {
		t.Fatalf("expected orphaned gateway order to be logged")
	}
}

func TestPaymentMarkFailedKeepsCart(t *testing.T) {
	h := newHarness(t)
	order, remote := gatewayCheckout(t, h)
	ctx := context.Background()

	if err := h.payments.MarkFailed(ctx, MarkPaymentFailedCommand{GatewayOrderID: remote.GatewayOrderID, GatewayPaymentID: "pay_gw_2", Reason: "card declined"}); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	stored, err := h.store.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.PaymentStatus != domain.PaymentStatusFailed || stored.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order state %s/%s", stored.Status, stored.PaymentStatus)
	}
	payment, err := h.store.Payments().FindByGatewayOrderID(ctx, remote.GatewayOrderID)
	if err != nil {
		t.Fatalf("FindByGatewayOrderID: %v", err)
	}
	if payment.Status != domain.PaymentRecordFailed || payment.FailureReason != "card declined" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if _, err := h.store.Carts().Get(ctx, "c_cust-1"); err != nil {
		t.Fatalf("cart must survive a failed payment: %v", err)
	}

	// a later capture still completes the order
	if _, err := h.payments.ConfirmCaptured(ctx, ConfirmCapturedCommand{GatewayOrderID: remote.GatewayOrderID, GatewayPaymentID: "pay_gw_3"}); err != nil {
		t.Fatalf("ConfirmCaptured after failure: %v", err)
	}
}

func TestPaymentRefundAfterCancel(t *testing.T) {
	h := newHarness(t)
	order, remote := gatewayCheckout(t, h)
	ctx := context.Background()

	if _, err := h.payments.Refund(ctx, RefundOrderCommand{OrderID: order.ID}); !errors.Is(err, ErrStateTransitionInvalid) {
		t.Fatalf("unpaid order cannot be refunded, got %v", err)
	}
	if _, err := h.payments.ConfirmCaptured(ctx, ConfirmCapturedCommand{GatewayOrderID: remote.GatewayOrderID, GatewayPaymentID: "pay_gw_1"}); err != nil {
		t.Fatalf("ConfirmCaptured: %v", err)
	}
	if _, err := h.orders.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, CustomerID: "cust-1", Reason: "changed mind"}); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if got := h.stock(t, "p1"); got != 5 {
		t.Fatalf("cancel should restock, got %d", got)
	}

	refunded, err := h.payments.Refund(ctx, RefundOrderCommand{OrderID: order.ID, ActorID: "staff-1", Reason: "cancelled"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.Status != domain.OrderStatusRefunded || refunded.PaymentStatus != domain.PaymentStatusRefunded || refunded.RefundedAt == nil {
		t.Fatalf("unexpected refunded order %s/%s", refunded.Status, refunded.PaymentStatus)
	}
	payment, err := h.store.Payments().FindByGatewayOrderID(ctx, remote.GatewayOrderID)
	if err != nil {
		t.Fatalf("FindByGatewayOrderID: %v", err)
	}
	if payment.Status != domain.PaymentRecordRefunded || payment.Metadata["refundId"] != "rfnd_pay_gw_1" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if _, err := h.payments.Refund(ctx, RefundOrderCommand{OrderID: order.ID}); !errors.Is(err, ErrStateTransitionInvalid) {
		t.Fatalf("second refund should be rejected, got %v", err)
	}
}

func TestPaymentAutoPushToCarrier(t *testing.T) {
	h := newHarness(t, withAutoPush())
	order, remote := gatewayCheckout(t, h)

	paid, err := h.payments.ConfirmCaptured(context.Background(), ConfirmCapturedCommand{GatewayOrderID: remote.GatewayOrderID, GatewayPaymentID: "pay_gw_1"})
	if err != nil {
		t.Fatalf("ConfirmCaptured: %v", err)
	}
	if paid.Carrier.AWB == "" || !slices.Equal(h.carrier.pushed, []string{order.ID}) {
		t.Fatalf("expected paid order to be pushed to the carrier, got %+v", paid.Carrier)
	}
}

func TestPaymentAutoPushFailureDoesNotUndoPayment(t *testing.T) {
	h := newHarness(t, withAutoPush())
	h.carrier.pushErr = ErrCarrierOrderFailed
	order, remote := gatewayCheckout(t, h)

	paid, err := h.payments.ConfirmCaptured(context.Background(), ConfirmCapturedCommand{GatewayOrderID: remote.GatewayOrderID, GatewayPaymentID: "pay_gw_1"})
	if err != nil {
		t.Fatalf("ConfirmCaptured: %v", err)
	}
	if paid.ID != order.ID || paid.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("payment must stand, got %+v", paid)
	}
	if !h.events.has("payment.carrier.autopush.failed") {
		t.Fatalf("expected autopush failure to be logged")
	}
}
