package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/vinuvisthara/api/internal/domain"
	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
	"github.com/vinuvisthara/api/internal/repositories"
)

// ProductRepository reads catalog products and adjusts their stock inside
// Firestore transactions.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
	uow  *pfirestore.UnitOfWork
	now  func() time.Time
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider, uow *pfirestore.UnitOfWork) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	if uow == nil {
		uow = pfirestore.NewUnitOfWork(provider)
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		uow:  uow,
		now:  time.Now,
	}, nil
}

// Get loads a single product.
func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}

// GetMany loads the products that exist among productIDs.
func (r *ProductRepository) GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	docs, err := r.base.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(docs))
	for id, doc := range docs {
		out[id] = doc.toDomain(id)
	}
	return out, nil
}

// Put upserts a product. Used by seed tooling and tests.
func (r *ProductRepository) Put(ctx context.Context, product domain.Product) error {
	return r.base.Set(ctx, product.ID, newProductDocument(product))
}

// DecrementStock re-reads the product in the current transaction and fails
// when the stored stock differs from observed or cannot cover quantity.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, observed int, quantity int) error {
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.load(ctx, "products.decrement", productID, quantity)
		if err != nil {
			return err
		}
		if doc.Stock != observed || doc.Stock < quantity {
			return repositories.NewInsufficientStockError("products.decrement", productID, quantity, doc.Stock)
		}
		doc.Stock -= quantity
		doc.UpdatedAt = r.now().UTC()
		return r.base.Set(ctx, productID, doc)
	})
}

// IncrementStock returns quantity units to stock.
func (r *ProductRepository) IncrementStock(ctx context.Context, productID string, quantity int) error {
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.load(ctx, "products.increment", productID, quantity)
		if err != nil {
			return err
		}
		doc.Stock += quantity
		doc.UpdatedAt = r.now().UTC()
		return r.base.Set(ctx, productID, doc)
	})
}

func (r *ProductRepository) load(ctx context.Context, op, productID string, quantity int) (productDocument, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return productDocument{}, &repositories.InventoryError{
				Op:        op,
				Code:      repositories.InventoryErrorProductNotFound,
				ProductID: productID,
				Requested: quantity,
				Err:       err,
			}
		}
		return productDocument{}, err
	}
	return doc, nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
