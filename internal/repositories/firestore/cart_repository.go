package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/vinuvisthara/api/internal/domain"
	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
)

// CartRepository persists carts keyed by their owner-derived id.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{base: pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection)}, nil
}

// Get loads a cart.
func (r *CartRepository) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	doc, err := r.base.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(cartID), nil
}

// Save upserts the full cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if strings.TrimSpace(cart.ID) == "" {
		return errors.New("carts.save: cart id is required")
	}
	return r.base.Set(ctx, cart.ID, newCartDocument(cart))
}

// Delete removes a cart; a missing cart is not an error.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	return r.base.Delete(ctx, cartID)
}
