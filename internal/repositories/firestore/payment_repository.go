package firestore

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/firestore"

	domain "github.com/vinuvisthara/api/internal/domain"
	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
)

// PaymentRepository persists gateway payment attempts.
type PaymentRepository struct {
	base *pfirestore.BaseRepository[paymentDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{base: pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection)}, nil
}

// Insert creates the payment document.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	return r.base.Create(ctx, payment.ID, newPaymentDocument(payment))
}

// Update replaces an existing payment.
func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	if _, err := r.base.Get(ctx, payment.ID); err != nil {
		return err
	}
	return r.base.Set(ctx, payment.ID, newPaymentDocument(payment))
}

// FindByGatewayOrderID looks a payment up by the gateway's order reference.
func (r *PaymentRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Payment, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("gatewayOrderId", "==", gatewayOrderID).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.NotFound("payments.find_by_gateway_order", gatewayOrderID)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListByOrder returns every attempt for an order, oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
