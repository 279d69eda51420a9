// Package firestore implements the repository interfaces on Cloud Firestore.
// Every repository joins the transaction opened by the Store's UnitOfWork, so
// order creation and payment verification commit or roll back as one unit.
package firestore

import (
	"errors"

	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
	"github.com/vinuvisthara/api/internal/repositories"
)

// Store bundles the Firestore repositories around one provider and unit of work.
type Store struct {
	uow       *pfirestore.UnitOfWork
	carts     *CartRepository
	products  *ProductRepository
	discounts *DiscountRepository
	coupons   *CouponRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	settings  *SettingsRepository
	counters  *CounterRepository
}

// NewStore wires every repository against provider.
func NewStore(provider *pfirestore.Provider, opts ...pfirestore.TxOption) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	uow := pfirestore.NewUnitOfWork(provider, opts...)
	s := &Store{uow: uow}
	var err error
	if s.carts, err = NewCartRepository(provider); err != nil {
		return nil, err
	}
	if s.products, err = NewProductRepository(provider, uow); err != nil {
		return nil, err
	}
	if s.discounts, err = NewDiscountRepository(provider); err != nil {
		return nil, err
	}
	if s.coupons, err = NewCouponRepository(provider, uow); err != nil {
		return nil, err
	}
	if s.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if s.payments, err = NewPaymentRepository(provider); err != nil {
		return nil, err
	}
	if s.settings, err = NewSettingsRepository(provider); err != nil {
		return nil, err
	}
	if s.counters, err = NewCounterRepository(provider, uow); err != nil {
		return nil, err
	}
	return s, nil
}

var _ repositories.Registry = (*Store)(nil)

// UnitOfWork returns the transaction runner shared by the repositories.
func (s *Store) UnitOfWork() repositories.UnitOfWork { return s.uow }

// Carts returns the cart repository.
func (s *Store) Carts() repositories.CartRepository { return s.carts }

// Products returns the product repository.
func (s *Store) Products() repositories.ProductRepository { return s.products }

// Discounts returns the discount repository.
func (s *Store) Discounts() repositories.DiscountRepository { return s.discounts }

// Coupons returns the coupon repository.
func (s *Store) Coupons() repositories.CouponRepository { return s.coupons }

// Orders returns the order repository.
func (s *Store) Orders() repositories.OrderRepository { return s.orders }

// Payments returns the payment repository.
func (s *Store) Payments() repositories.PaymentRepository { return s.payments }

// Settings returns the settings repository.
func (s *Store) Settings() repositories.SettingsRepository { return s.settings }

// Counters returns the counter repository.
func (s *Store) Counters() repositories.CounterRepository { return s.counters }

