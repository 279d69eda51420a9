package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/repositories"
)

const (
	cartItemIDPrefix       = "itm_"
	defaultCurrency        = "INR"
	defaultMaxLineQuantity = 99
)

var (
	errCartRepositoryRequired     = errors.New("cart service: cart repository is required")
	errCartProductsRequired       = errors.New("cart service: product repository is required")
	errCartDiscountsRequired      = errors.New("cart service: discount resolver is required")
	errCartSettingsRepoIsRequired = errors.New("cart service: settings repository is required")
)

// CartServiceDeps wires the repositories and pricing collaborators for cart operations.
type CartServiceDeps struct {
	Carts           repositories.CartRepository
	Products        repositories.ProductRepository
	Settings        repositories.SettingsRepository
	Discounts       DiscountResolver
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	IDGenerator     func() string
	DefaultCurrency string
	TaxFallbackBps  int64
	MaxLineQuantity int
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts       repositories.CartRepository
	products    repositories.ProductRepository
	settings    repositories.SettingsRepository
	discounts   DiscountResolver
	unitOfWork  repositories.UnitOfWork
	locks       *keyedMutex
	clock       func() time.Time
	newID       func() string
	currency    string
	fallbackBps int64
	maxQuantity int
	logger      func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}
	if deps.Settings == nil {
		return nil, errCartSettingsRepoIsRequired
	}
	if deps.Discounts == nil {
		return nil, errCartDiscountsRequired
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
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}
	fallback := deps.TaxFallbackBps
	if fallback <= 0 {
		fallback = DefaultTaxFallbackBps
	}
	maxQty := deps.MaxLineQuantity
	if maxQty <= 0 {
		maxQty = defaultMaxLineQuantity
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:       deps.Carts,
		products:    deps.Products,
		settings:    deps.Settings,
		discounts:   deps.Discounts,
		unitOfWork:  unit,
		locks:       newKeyedMutex(),
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		currency:    currency,
		fallbackBps: fallback,
		maxQuantity: maxQty,
		logger:      logger,
	}, nil
}

// GetOrCreate loads the owner's cart, creating and persisting an empty one on first access.
func (s *cartService) GetOrCreate(ctx context.Context, owner CartOwner) (Cart, error) {
	if !owner.Valid() {
		return Cart{}, newValidationError("owner", "exactly one of customer id and session id is required")
	}
	cartID := owner.CartID()
	defer s.locks.Lock(cartID)()

	var out Cart
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.Get(txCtx, cartID)
		if err == nil {
			out = cart
			return nil
		}
		if !isNotFound(err) {
			return mapRepositoryError(err)
		}
		cart = s.newCart(owner)
		if err := s.carts.Save(txCtx, cart); err != nil {
			return mapRepositoryError(err)
		}
		out = cart
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	return out, nil
}

// AddItem adds quantity of a product, merging into an existing line for the same product.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, newValidationError("productId", "is required")
	}
	if cmd.Quantity < 1 {
		return Cart{}, newValidationError("quantity", "must be at least 1")
	}
	if cmd.Quantity > s.maxQuantity {
		return Cart{}, newValidationError("quantity", fmt.Sprintf("must not exceed %d", s.maxQuantity))
	}

	return s.mutate(ctx, cmd.Owner, func(txCtx context.Context, cart *Cart) error {
		product, err := s.products.Get(txCtx, productID)
		if err != nil {
			if isNotFound(err) {
				return newValidationError("productId", "unknown product")
			}
			return mapRepositoryError(err)
		}
		if !product.Active {
			return newValidationError("productId", "product is not available")
		}

		now := s.clock()
		idx := indexOfProduct(cart.Items, productID)
		requested := cmd.Quantity
		if idx >= 0 {
			requested += cart.Items[idx].Quantity
		}
		if requested > s.maxQuantity {
			return newValidationError("quantity", fmt.Sprintf("must not exceed %d", s.maxQuantity))
		}
		if requested > product.Stock {
			return &InsufficientStockError{ProductID: product.ID, ProductName: product.Name, Requested: requested, Available: product.Stock}
		}

		if idx >= 0 {
			cart.Items[idx].Quantity = requested
			cart.Items[idx].UpdatedAt = now
			return nil
		}
		cart.Items = append(cart.Items, CartItem{
			ID:        cartItemIDPrefix + s.newID(),
			ProductID: product.ID,
			SKU:       product.SKU,
			Name:      product.Name,
			Quantity:  requested,
			UnitPrice: product.EffectivePrice(now),
			AddedAt:   now,
			UpdatedAt: now,
		})
		return nil
	})
}

// UpdateQuantity sets a line's quantity; zero removes the line.
func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, newValidationError("itemId", "is required")
	}
	if cmd.Quantity < 0 {
		return Cart{}, newValidationError("quantity", "must not be negative")
	}
	if cmd.Quantity > s.maxQuantity {
		return Cart{}, newValidationError("quantity", fmt.Sprintf("must not exceed %d", s.maxQuantity))
	}

	return s.mutate(ctx, cmd.Owner, func(txCtx context.Context, cart *Cart) error {
		idx := indexOfItem(cart.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("%w: cart item %s", ErrNotFound, itemID)
		}
		if cmd.Quantity == 0 {
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
			return nil
		}
		product, err := s.products.Get(txCtx, cart.Items[idx].ProductID)
		if err != nil {
			if isNotFound(err) {
				return newValidationError("itemId", "product is no longer available")
			}
			return mapRepositoryError(err)
		}
		if cmd.Quantity > product.Stock {
			return &InsufficientStockError{ProductID: product.ID, ProductName: product.Name, Requested: cmd.Quantity, Available: product.Stock}
		}
		cart.Items[idx].Quantity = cmd.Quantity
		cart.Items[idx].UpdatedAt = s.clock()
		return nil
	})
}

// RemoveItem deletes a line from the cart.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, newValidationError("itemId", "is required")
	}
	return s.mutate(ctx, cmd.Owner, func(_ context.Context, cart *Cart) error {
		idx := indexOfItem(cart.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("%w: cart item %s", ErrNotFound, itemID)
		}
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return nil
	})
}

// ApplyCoupon validates the code and switches the cart into coupon mode.
// An invalid coupon leaves the cart untouched.
func (s *cartService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error) {
	if strings.TrimSpace(cmd.Code) == "" {
		return Cart{}, newValidationError("code", "is required")
	}
	return s.mutate(ctx, cmd.Owner, func(txCtx context.Context, cart *Cart) error {
		if len(cart.Items) == 0 {
			return newValidationError("cart", "must contain at least one item")
		}
		res, err := s.discounts.ValidateCoupon(txCtx, cmd.Code, *cart, cmd.Owner.CustomerID)
		if err != nil {
			return err
		}
		cart.CouponCode = res.CouponCode
		return nil
	})
}

// RemoveCoupon detaches the coupon so automatic discounts are evaluated again.
func (s *cartService) RemoveCoupon(ctx context.Context, owner CartOwner) (Cart, error) {
	return s.mutate(ctx, owner, func(_ context.Context, cart *Cart) error {
		cart.CouponCode = nil
		return nil
	})
}

// Clear empties the cart but keeps it.
func (s *cartService) Clear(ctx context.Context, owner CartOwner) (Cart, error) {
	return s.mutate(ctx, owner, func(_ context.Context, cart *Cart) error {
		cart.Items = nil
		cart.CouponCode = nil
		return nil
	})
}

// MergeGuestCart copies the session cart's lines into the customer cart and
// deletes the session cart in the same transaction, so a repeated call finds
// nothing left to merge.
func (s *cartService) MergeGuestCart(ctx context.Context, cmd MergeGuestCartCommand) (Cart, error) {
	customer := CartOwner{CustomerID: strings.TrimSpace(cmd.CustomerID)}
	guest := CartOwner{SessionID: strings.TrimSpace(cmd.SessionID)}
	if customer.CustomerID == "" {
		return Cart{}, newValidationError("customerId", "is required")
	}
	if guest.SessionID == "" {
		return Cart{}, newValidationError("sessionId", "is required")
	}

	customerCartID := customer.CartID()
	guestCartID := guest.CartID()
	defer s.locks.Lock(customerCartID, guestCartID)()

	var out Cart
	merged := 0
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		guestCart, err := s.carts.Get(txCtx, guestCartID)
		guestFound := err == nil
		if err != nil && !isNotFound(err) {
			return mapRepositoryError(err)
		}

		cart, err := s.loadOrNew(txCtx, customer)
		if err != nil {
			return err
		}
		if !guestFound {
			out = cart
			return nil
		}

		now := s.clock()
		for _, line := range guestCart.Items {
			if idx := indexOfProduct(cart.Items, line.ProductID); idx >= 0 {
				cart.Items[idx].Quantity += line.Quantity
				cart.Items[idx].UpdatedAt = now
			} else {
				line.ID = cartItemIDPrefix + s.newID()
				line.UpdatedAt = now
				cart.Items = append(cart.Items, line)
			}
			merged++
		}
		if cart.CouponCode == nil && guestCart.CouponCode != nil {
			code := *guestCart.CouponCode
			cart.CouponCode = &code
		}

		if err := s.recompute(txCtx, &cart, ShippingDestination{}); err != nil {
			return err
		}
		cart.UpdatedAt = now
		if err := s.carts.Save(txCtx, cart); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.carts.Delete(txCtx, guestCartID); err != nil {
			return mapRepositoryError(err)
		}
		out = cart
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	if merged > 0 {
		s.logger(ctx, "cart.guest.merged", map[string]any{
			"cartId":     customerCartID,
			"guestCart":  guestCartID,
			"linesMoved": merged,
		})
	}
	return out, nil
}

// Estimate prices the cart for a destination without persisting anything.
func (s *cartService) Estimate(ctx context.Context, cmd EstimateCartCommand) (Cart, error) {
	if !cmd.Owner.Valid() {
		return Cart{}, newValidationError("owner", "exactly one of customer id and session id is required")
	}
	cart, err := s.carts.Get(ctx, cmd.Owner.CartID())
	if err != nil {
		if !isNotFound(err) {
			return Cart{}, mapRepositoryError(err)
		}
		cart = s.newCart(cmd.Owner)
	}
	if err := s.recompute(ctx, &cart, cmd.Destination); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// mutate runs fn against the owner's cart inside a transaction, then
// recomputes and persists totals. Errors from fn abort without saving.
func (s *cartService) mutate(ctx context.Context, owner CartOwner, fn func(ctx context.Context, cart *Cart) error) (Cart, error) {
	if !owner.Valid() {
		return Cart{}, newValidationError("owner", "exactly one of customer id and session id is required")
	}
	defer s.locks.Lock(owner.CartID())()

	var out Cart
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.loadOrNew(txCtx, owner)
		if err != nil {
			return err
		}
		if err := fn(txCtx, &cart); err != nil {
			return err
		}
		if err := s.recompute(txCtx, &cart, ShippingDestination{}); err != nil {
			return err
		}
		cart.UpdatedAt = s.clock()
		if err := s.carts.Save(txCtx, cart); err != nil {
			return mapRepositoryError(err)
		}
		out = cart
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	return out, nil
}

func (s *cartService) loadOrNew(ctx context.Context, owner CartOwner) (Cart, error) {
	cart, err := s.carts.Get(ctx, owner.CartID())
	if err == nil {
		return cart, nil
	}
	if !isNotFound(err) {
		return Cart{}, mapRepositoryError(err)
	}
	return s.newCart(owner), nil
}

// recompute refreshes every derived field so the cart invariant holds.
func (s *cartService) recompute(ctx context.Context, cart *Cart, dest ShippingDestination) error {
	for i := range cart.Items {
		cart.Items[i].Total = LineTotal(cart.Items[i].UnitPrice, cart.Items[i].Quantity)
	}
	if len(cart.Items) == 0 {
		cart.Subtotal, cart.Discount, cart.Shipping, cart.Tax, cart.Total = 0, 0, 0, 0, 0
		cart.DiscountID = ""
		return nil
	}

	products, err := s.products.GetMany(ctx, productIDs(cart.Items))
	if err != nil {
		return mapRepositoryError(err)
	}
	res, err := s.discounts.Resolve(ctx, *cart, cart.Owner.CustomerID)
	if err != nil {
		return err
	}
	settings, err := loadShippingSettings(ctx, s.settings)
	if err != nil {
		return err
	}

	priced := PriceLines(cart.Items, products, settings, dest, res.Amount, s.fallbackBps)
	cart.Subtotal = priced.Totals.Subtotal
	cart.Discount = priced.Totals.Discount
	cart.Shipping = priced.Totals.Shipping
	cart.Tax = priced.Totals.Tax
	cart.Total = priced.Totals.Total
	cart.DiscountID = res.DiscountID
	cart.CouponCode = res.CouponCode
	return nil
}

func (s *cartService) newCart(owner CartOwner) Cart {
	now := s.clock()
	return Cart{
		ID:        owner.CartID(),
		Owner:     CartOwner{CustomerID: strings.TrimSpace(owner.CustomerID), SessionID: strings.TrimSpace(owner.SessionID)},
		Currency:  s.currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func loadShippingSettings(ctx context.Context, repo repositories.SettingsRepository) (ShippingSettings, error) {
	settings, err := repo.ShippingSettings(ctx)
	if err != nil {
		if isNotFound(err) {
			return ShippingSettings{Method: domain.ShippingMethodFlat}, nil
		}
		return ShippingSettings{}, mapRepositoryError(err)
	}
	return settings, nil
}

func indexOfItem(items []CartItem, itemID string) int {
	for i, item := range items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func indexOfProduct(items []CartItem, productID string) int {
	for i, item := range items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
