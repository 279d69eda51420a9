package repositories

import (
	"context"

	domain "github.com/vinuvisthara/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations into one atomic boundary. Repositories
// called with the context handed to fn participate in the transaction. fn may be
// invoked more than once when the backend retries on contention, so it must not
// perform external side effects.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository persists carts keyed by their owner-derived id.
type CartRepository interface {
	Get(ctx context.Context, cartID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, cartID string) error
}

// ProductRepository reads catalog data and adjusts stock.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	// GetMany returns the products that exist; missing ids are omitted.
	GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// DecrementStock lowers stock by quantity. observed is the stock value read in
	// the same transaction; the write fails with an InventoryError when the stored
	// value no longer permits the decrement.
	DecrementStock(ctx context.Context, productID string, observed int, quantity int) error
	IncrementStock(ctx context.Context, productID string, quantity int) error
}

// DiscountRepository lists automatic discounts.
type DiscountRepository interface {
	ListActive(ctx context.Context) ([]domain.Discount, error)
}

// CouponRepository loads coupons and maintains the redemption ledger.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	HasUsage(ctx context.Context, couponID string, customerID string) (bool, error)
	RecordUsage(ctx context.Context, usage domain.CouponUsage) error
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Pagination domain.Pagination
}

// OrderRepository persists orders and their item snapshots.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentRepository persists gateway payment attempts.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// SettingsRepository exposes store-wide configuration documents.
type SettingsRepository interface {
	ShippingSettings(ctx context.Context) (domain.ShippingSettings, error)
}

// CounterRepository issues monotonically increasing sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// HealthRepository checks the backing services the engine depends on.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Registry exposes every repository over one backend together with the unit of
// work that spans them.
type Registry interface {
	UnitOfWork() UnitOfWork
	Carts() CartRepository
	Products() ProductRepository
	Discounts() DiscountRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Settings() SettingsRepository
	Counters() CounterRepository
}
