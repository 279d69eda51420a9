package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/repositories"
)

// DiscountResolverDeps bundles collaborators required by the resolver.
type DiscountResolverDeps struct {
	Discounts repositories.DiscountRepository
	Coupons   repositories.CouponRepository
	Products  repositories.ProductRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type discountResolver struct {
	discounts repositories.DiscountRepository
	coupons   repositories.CouponRepository
	products  repositories.ProductRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewDiscountResolver wires the resolver.
func NewDiscountResolver(deps DiscountResolverDeps) (DiscountResolver, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount resolver: discount repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("discount resolver: coupon repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("discount resolver: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &discountResolver{
		discounts: deps.Discounts,
		coupons:   deps.Coupons,
		products:  deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Resolve evaluates the cart. When a coupon is attached only the coupon is
// considered; otherwise the best automatic discount wins, ties going to the
// lowest discount id. A coupon that has become unusable is dropped and
// automatic discounts are evaluated instead.
func (r *discountResolver) Resolve(ctx context.Context, cart Cart, customerID string) (DiscountResolution, error) {
	products, err := r.loadProducts(ctx, cart.Items)
	if err != nil {
		return DiscountResolution{}, err
	}
	return r.resolveWith(ctx, cart, customerID, products)
}

// ValidateCoupon checks a code against the cart without mutating anything.
func (r *discountResolver) ValidateCoupon(ctx context.Context, code string, cart Cart, customerID string) (DiscountResolution, error) {
	products, err := r.loadProducts(ctx, cart.Items)
	if err != nil {
		return DiscountResolution{}, err
	}
	return r.validateCouponWith(ctx, code, cart, customerID, products, true)
}

func (r *discountResolver) resolveWith(ctx context.Context, cart Cart, customerID string, products map[string]domain.Product) (DiscountResolution, error) {
	if cart.CouponCode != nil && strings.TrimSpace(*cart.CouponCode) != "" {
		res, err := r.validateCouponWith(ctx, *cart.CouponCode, cart, customerID, products, false)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrInvalidCoupon) {
			return DiscountResolution{}, err
		}
		r.logger(ctx, "discount.coupon.dropped", map[string]any{
			"cartId": cart.ID,
			"code":   *cart.CouponCode,
			"reason": err.Error(),
		})
	}
	return r.bestAutomatic(ctx, cart, products)
}

func (r *discountResolver) bestAutomatic(ctx context.Context, cart Cart, products map[string]domain.Product) (DiscountResolution, error) {
	subtotal := CartSubtotal(cart.Items)
	if subtotal <= 0 {
		return DiscountResolution{}, nil
	}
	candidates, err := r.discounts.ListActive(ctx)
	if err != nil {
		return DiscountResolution{}, mapRepositoryError(err)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	now := r.clock()
	var best DiscountResolution
	for _, candidate := range candidates {
		if !candidate.ActiveAt(now) {
			continue
		}
		if !scopeApplies(candidate.DiscountRule, cart.Items, products) {
			continue
		}
		amount, ok := DiscountAmount(candidate.DiscountRule, subtotal)
		if !ok || amount <= 0 {
			continue
		}
		if amount > best.Amount {
			best = DiscountResolution{Amount: amount, DiscountID: candidate.ID}
		}
	}
	return best, nil
}

func (r *discountResolver) validateCouponWith(ctx context.Context, code string, cart Cart, customerID string, products map[string]domain.Product, strict bool) (DiscountResolution, error) {
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return DiscountResolution{}, newValidationError("code", "is required")
	}
	coupon, err := r.coupons.FindByCode(ctx, normalized)
	if err != nil {
		if isNotFound(err) {
			return DiscountResolution{}, fmt.Errorf("%w: coupon %s not found", ErrInvalidCoupon, normalized)
		}
		return DiscountResolution{}, mapRepositoryError(err)
	}

	now := r.clock()
	switch {
	case !coupon.Active:
		return DiscountResolution{}, fmt.Errorf("%w: coupon %s is inactive", ErrInvalidCoupon, normalized)
	case coupon.StartsAt != nil && now.Before(*coupon.StartsAt):
		return DiscountResolution{}, fmt.Errorf("%w: coupon %s is not yet valid", ErrInvalidCoupon, normalized)
	case coupon.EndsAt != nil && now.After(*coupon.EndsAt):
		return DiscountResolution{}, fmt.Errorf("%w: coupon %s has expired", ErrInvalidCoupon, normalized)
	case coupon.Exhausted():
		return DiscountResolution{}, fmt.Errorf("%w: coupon %s usage limit reached", ErrInvalidCoupon, normalized)
	}

	customerID = strings.TrimSpace(customerID)
	if coupon.SingleUse && customerID != "" {
		used, err := r.coupons.HasUsage(ctx, coupon.ID, customerID)
		if err != nil {
			return DiscountResolution{}, mapRepositoryError(err)
		}
		if used {
			return DiscountResolution{}, fmt.Errorf("%w: coupon %s already used", ErrInvalidCoupon, normalized)
		}
	}

	if !scopeApplies(coupon.DiscountRule, cart.Items, products) {
		return DiscountResolution{}, fmt.Errorf("%w: coupon %s does not apply to these items", ErrInvalidCoupon, normalized)
	}

	subtotal := CartSubtotal(cart.Items)
	amount, ok := DiscountAmount(coupon.DiscountRule, subtotal)
	if !ok {
		if strict {
			return DiscountResolution{}, fmt.Errorf("%w: coupon %s requires a higher order amount", ErrInvalidCoupon, normalized)
		}
		amount = 0
	}

	return DiscountResolution{
		Amount:     amount,
		CouponID:   coupon.ID,
		CouponCode: &normalized,
	}, nil
}

func (r *discountResolver) loadProducts(ctx context.Context, items []CartItem) (map[string]domain.Product, error) {
	if len(items) == 0 {
		return map[string]domain.Product{}, nil
	}
	products, err := r.products.GetMany(ctx, productIDs(items))
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return products, nil
}

// scopeApplies reports whether at least one cart line matches the rule's targets.
func scopeApplies(rule domain.DiscountRule, items []CartItem, products map[string]domain.Product) bool {
	scope := rule.Scope
	if scope == "" || scope == domain.DiscountScopeAll {
		return true
	}
	if len(rule.TargetIDs) == 0 {
		return false
	}
	for _, item := range items {
		switch scope {
		case domain.DiscountScopeProducts:
			if slices.Contains(rule.TargetIDs, item.ProductID) {
				return true
			}
		case domain.DiscountScopeCategories:
			if product, ok := products[item.ProductID]; ok && intersects(rule.TargetIDs, product.CategoryIDs) {
				return true
			}
		case domain.DiscountScopeCollections:
			if product, ok := products[item.ProductID]; ok && intersects(rule.TargetIDs, product.CollectionIDs) {
				return true
			}
		}
	}
	return false
}

func intersects(targets, values []string) bool {
	for _, v := range values {
		if slices.Contains(targets, v) {
			return true
		}
	}
	return false
}

func productIDs(items []CartItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if !slices.Contains(ids, item.ProductID) {
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
