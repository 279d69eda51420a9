package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/vinuvisthara/api/internal/domain"
	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
	"github.com/vinuvisthara/api/internal/platform/pagination"
	"github.com/vinuvisthara/api/internal/repositories"
)

// OrderRepository persists orders with their item snapshots embedded.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

// Insert creates the order document; an existing id is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

// Update replaces an existing order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if _, err := r.base.Get(ctx, order.ID); err != nil {
		return err
	}
	return r.base.Set(ctx, order.ID, newOrderDocument(order))
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(orderID), nil
}

// List returns orders newest first. Page tokens are offsets into that ordering.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	offset, err := pagination.DecodeOffset(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: %w", err)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if customer := strings.TrimSpace(filter.CustomerID); customer != "" {
			q = q.Where("customerId", "==", customer)
		}
		return q.OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Offset(offset).
			Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			page.NextPageToken = pagination.EncodeOffset(offset + size)
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}
