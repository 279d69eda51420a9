package firestore

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/firestore"

	domain "github.com/vinuvisthara/api/internal/domain"
	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
)

// DiscountRepository lists automatic discounts.
type DiscountRepository struct {
	base *pfirestore.BaseRepository[discountDocument]
}

// NewDiscountRepository constructs a Firestore-backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{base: pfirestore.NewBaseRepository[discountDocument](provider, discountsCollection)}, nil
}

// ListActive returns switched-on discounts ordered by id. Window checks are
// left to the resolver.
func (r *DiscountRepository) ListActive(ctx context.Context) ([]domain.Discount, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Discount, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.Discount{ID: doc.ID, Name: doc.Data.Name, DiscountRule: doc.Data.ruleDocument.toDomain()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put upserts an automatic discount.
func (r *DiscountRepository) Put(ctx context.Context, discount domain.Discount) error {
	return r.base.Set(ctx, discount.ID, discountDocument{Name: discount.Name, ruleDocument: newRuleDocument(discount.DiscountRule)})
}
