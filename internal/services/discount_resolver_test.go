package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/vinuvisthara/api/internal/domain"
)

func cartOf(items ...CartItem) Cart {
	return Cart{ID: "c_cust-1", Owner: CartOwner{CustomerID: "cust-1"}, Items: items}
}

func line(productID string, unitPrice int64, qty int) CartItem {
	return CartItem{ID: "itm_" + productID, ProductID: productID, UnitPrice: unitPrice, Quantity: qty}
}

func TestResolverPicksSingleBestAutomaticDiscount(t *testing.T) {
	h := newHarness(t)
	h.product("p1", 100000, 5, nil)
	h.store.PutDiscount(domain.Discount{ID: "d-fixed", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 5000, Active: true}})
	h.store.PutDiscount(domain.Discount{ID: "d-pct", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypePercentage, Value: 1000, Active: true}})
	h.store.PutDiscount(domain.Discount{ID: "d-inactive", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 90000}})

	res, err := h.resolver.Resolve(context.Background(), cartOf(line("p1", 100000, 1)), "cust-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Amount != 10000 || res.DiscountID != "d-pct" {
		t.Fatalf("expected d-pct with 10000, got %+v", res)
	}
	if res.CouponCode != nil {
		t.Fatalf("automatic resolution must not set a coupon")
	}
}

func TestResolverTieGoesToLowestDiscountID(t *testing.T) {
	h := newHarness(t)
	h.product("p1", 100000, 5, nil)
	for _, id := range []string{"d-b", "d-c", "d-a"} {
		h.store.PutDiscount(domain.Discount{ID: id, DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 7500, Active: true}})
	}

	for range 5 {
		res, err := h.resolver.Resolve(context.Background(), cartOf(line("p1", 100000, 1)), "")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.DiscountID != "d-a" {
			t.Fatalf("expected lowest id d-a, got %q", res.DiscountID)
		}
	}
}

func TestResolverHonoursWindowMinimumAndScope(t *testing.T) {
	h := newHarness(t)
	h.store.PutProduct(domain.Product{ID: "p1", Price: 40000, Stock: 5, Active: true, CategoryIDs: []string{"sarees"}})
	expired := harnessNow.Add(-time.Hour)
	future := harnessNow.Add(time.Hour)
	h.store.PutDiscount(domain.Discount{ID: "d-expired", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 30000, Active: true, EndsAt: &expired}})
	h.store.PutDiscount(domain.Discount{ID: "d-future", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 30000, Active: true, StartsAt: &future}})
	h.store.PutDiscount(domain.Discount{ID: "d-min", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 20000, Active: true, MinOrderAmount: int64Ptr(50000)}})
	h.store.PutDiscount(domain.Discount{ID: "d-kurtas", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 15000, Active: true, Scope: domain.DiscountScopeCategories, TargetIDs: []string{"kurtas"}}})
	h.store.PutDiscount(domain.Discount{ID: "d-empty-scope", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 15000, Active: true, Scope: domain.DiscountScopeProducts}})
	h.store.PutDiscount(domain.Discount{ID: "d-sarees", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 1000, Active: true, Scope: domain.DiscountScopeCategories, TargetIDs: []string{"sarees"}}})

	res, err := h.resolver.Resolve(context.Background(), cartOf(line("p1", 40000, 1)), "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.DiscountID != "d-sarees" || res.Amount != 1000 {
		t.Fatalf("expected only the saree discount to apply, got %+v", res)
	}
}

func TestResolverCouponSuppressesAutomaticDiscounts(t *testing.T) {
	h := newHarness(t)
	h.product("p1", 100000, 5, nil)
	h.store.PutDiscount(domain.Discount{ID: "auto10", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypePercentage, Value: 1000, Active: true}})
	h.store.PutCoupon(domain.Coupon{ID: "cpn-save200", Code: "SAVE200", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 20000, Active: true}})

	cart := cartOf(line("p1", 100000, 1))
	auto, err := h.resolver.Resolve(context.Background(), cart, "cust-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if auto.Amount != 10000 {
		t.Fatalf("expected automatic 10%% = 10000, got %d", auto.Amount)
	}

	code := "SAVE200"
	cart.CouponCode = &code
	withCoupon, err := h.resolver.Resolve(context.Background(), cart, "cust-1")
	if err != nil {
		t.Fatalf("Resolve with coupon: %v", err)
	}
	if withCoupon.Amount != 20000 || withCoupon.DiscountID != "" {
		t.Fatalf("expected coupon-only 20000, got %+v", withCoupon)
	}
	if withCoupon.CouponCode == nil || *withCoupon.CouponCode != "SAVE200" {
		t.Fatalf("expected coupon code to be kept")
	}
}

func TestResolverSingleUseCouponPerCustomer(t *testing.T) {
	h := newHarness(t)
	h.product("p1", 100000, 5, nil)
	h.store.PutCoupon(domain.Coupon{ID: "cpn-once", Code: "WELCOME", SingleUse: true, UsageLimit: intPtr(10), DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 5000, Active: true}})
	if err := h.store.Coupons().RecordUsage(context.Background(), domain.CouponUsage{CouponID: "cpn-once", CustomerID: "cust-1", OrderID: "ord_1"}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	cart := cartOf(line("p1", 100000, 1))
	if _, err := h.resolver.ValidateCoupon(context.Background(), "welcome", cart, "cust-1"); !errors.Is(err, ErrInvalidCoupon) {
		t.Fatalf("expected ErrInvalidCoupon for reuse, got %v", err)
	}
	res, err := h.resolver.ValidateCoupon(context.Background(), "welcome", cart, "cust-2")
	if err != nil {
		t.Fatalf("other customer should be allowed: %v", err)
	}
	if res.Amount != 5000 || res.CouponID != "cpn-once" {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestResolverRejectsUnusableCoupons(t *testing.T) {
	h := newHarness(t)
	h.product("p1", 30000, 5, nil)
	past := harnessNow.Add(-time.Minute)
	h.store.PutCoupon(domain.Coupon{ID: "c1", Code: "OLD", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 100, Active: true, EndsAt: &past}})
	h.store.PutCoupon(domain.Coupon{ID: "c2", Code: "OFF", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 100}})
	h.store.PutCoupon(domain.Coupon{ID: "c3", Code: "FULL", UsageLimit: intPtr(2), UsageCount: 2, DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 100, Active: true}})
	h.store.PutCoupon(domain.Coupon{ID: "c4", Code: "BIG", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 100, Active: true, MinOrderAmount: int64Ptr(100000)}})

	cart := cartOf(line("p1", 30000, 1))
	for _, code := range []string{"OLD", "OFF", "FULL", "BIG", "MISSING"} {
		if _, err := h.resolver.ValidateCoupon(context.Background(), code, cart, "cust-1"); !errors.Is(err, ErrInvalidCoupon) {
			t.Fatalf("%s: expected ErrInvalidCoupon, got %v", code, err)
		}
	}
}

func TestResolverDropsCouponThatBecameInvalid(t *testing.T) {
	h := newHarness(t)
	h.product("p1", 100000, 5, nil)
	h.store.PutDiscount(domain.Discount{ID: "auto", DiscountRule: domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 3000, Active: true}})
	code := "GONE"
	cart := cartOf(line("p1", 100000, 1))
	cart.CouponCode = &code

	res, err := h.resolver.Resolve(context.Background(), cart, "cust-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.CouponCode != nil || res.DiscountID != "auto" || res.Amount != 3000 {
		t.Fatalf("expected fallback to automatic discount, got %+v", res)
	}
	if !h.events.has("discount.coupon.dropped") {
		t.Fatalf("expected the dropped coupon to be logged")
	}
}
