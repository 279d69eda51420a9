package services

import (
	"testing"

	domain "github.com/vinuvisthara/api/internal/domain"
)

func TestLineTaxRoundsHalfUp(t *testing.T) {
	cases := []struct {
		total int64
		bps   int64
		want  int64
	}{
		{total: 50000, bps: 1800, want: 9000},
		{total: 1999, bps: 1800, want: 360},
		{total: 25, bps: 1000, want: 3},
		{total: 0, bps: 1800, want: 0},
		{total: 1000, bps: 0, want: 0},
	}
	for _, tc := range cases {
		if got := LineTax(tc.total, tc.bps); got != tc.want {
			t.Fatalf("LineTax(%d, %d) = %d, want %d", tc.total, tc.bps, got, tc.want)
		}
	}
}

func TestOrderTaxFallsBackOnlyWhenNoLineYieldsTax(t *testing.T) {
	noRate := OrderTax([]TaxLine{{Total: 30000}, {Total: 20000}}, 50000, DefaultTaxFallbackBps)
	if !noRate.UsedFallback || noRate.Total != 9000 {
		t.Fatalf("expected 18%% fallback of 9000, got %+v", noRate)
	}

	mixed := OrderTax([]TaxLine{{Total: 30000, RateBps: int64Ptr(500)}, {Total: 20000}}, 50000, DefaultTaxFallbackBps)
	if mixed.UsedFallback {
		t.Fatalf("fallback must not apply when a line yields tax")
	}
	if mixed.Total != 1500 || mixed.PerLine[0] != 1500 || mixed.PerLine[1] != 0 {
		t.Fatalf("unexpected mixed tax %+v", mixed)
	}

	zeroRated := OrderTax([]TaxLine{{Total: 50000, RateBps: int64Ptr(0)}}, 50000, DefaultTaxFallbackBps)
	if !zeroRated.UsedFallback {
		t.Fatalf("zero-rated lines yield no tax so fallback applies")
	}
}

func TestShippingFeeMethods(t *testing.T) {
	freeAbove := int64(99900)
	flat := domain.ShippingSettings{Method: domain.ShippingMethodFreeAbove, FlatRate: 10000, FreeAbove: &freeAbove}
	if got := ShippingFee(flat, 50000, 0, domain.ShippingDestination{}); got != 10000 {
		t.Fatalf("below threshold expected 10000, got %d", got)
	}
	if got := ShippingFee(flat, 99900, 0, domain.ShippingDestination{}); got != 0 {
		t.Fatalf("at threshold expected free shipping, got %d", got)
	}

	weight := domain.ShippingSettings{Method: domain.ShippingMethodWeight, WeightBaseFee: 4000, WeightRatePerKg: 2500}
	if got := ShippingFee(weight, 10000, 1200, domain.ShippingDestination{}); got != 9000 {
		t.Fatalf("1.2kg expected base + 2 x rate = 9000, got %d", got)
	}
	if got := ShippingFee(weight, 10000, 0, domain.ShippingDestination{}); got != 4000 {
		t.Fatalf("weightless parcel expected base fee, got %d", got)
	}

	distance := domain.ShippingSettings{
		Method: domain.ShippingMethodDistance,
		Zones: []domain.ShippingZone{
			{State: "Karnataka", Fee: 6000},
			{State: "Karnataka", City: "Bengaluru", Fee: 4000},
		},
		DefaultZoneFee: 12000,
	}
	if got := ShippingFee(distance, 10000, 0, domain.ShippingDestination{State: "karnataka", City: "Bengaluru"}); got != 4000 {
		t.Fatalf("city zone expected 4000, got %d", got)
	}
	if got := ShippingFee(distance, 10000, 0, domain.ShippingDestination{State: "Karnataka", City: "Mysuru"}); got != 6000 {
		t.Fatalf("state zone expected 6000, got %d", got)
	}
	if got := ShippingFee(distance, 10000, 0, domain.ShippingDestination{State: "Kerala"}); got != 12000 {
		t.Fatalf("default zone expected 12000, got %d", got)
	}
}

func TestDiscountAmount(t *testing.T) {
	tenPercent := domain.DiscountRule{Type: domain.DiscountTypePercentage, Value: 1000}
	if got, ok := DiscountAmount(tenPercent, 100000); !ok || got != 10000 {
		t.Fatalf("10%% of 100000 expected 10000, got %d %v", got, ok)
	}

	capped := tenPercent
	capped.MaxDiscountAmount = int64Ptr(5000)
	if got, _ := DiscountAmount(capped, 100000); got != 5000 {
		t.Fatalf("cap expected 5000, got %d", got)
	}

	minimum := tenPercent
	minimum.MinOrderAmount = int64Ptr(150000)
	if _, ok := DiscountAmount(minimum, 100000); ok {
		t.Fatalf("expected below-minimum to be rejected")
	}

	fixed := domain.DiscountRule{Type: domain.DiscountTypeFixed, Value: 20000}
	if got, _ := DiscountAmount(fixed, 15000); got != 15000 {
		t.Fatalf("fixed discount must clamp to subtotal, got %d", got)
	}
}

func TestPriceLinesScenarioFlatShippingAndEighteenPercentTax(t *testing.T) {
	freeAbove := int64(99900)
	settings := domain.ShippingSettings{Method: domain.ShippingMethodFreeAbove, FlatRate: 10000, FreeAbove: &freeAbove}
	items := []domain.CartItem{{ID: "l1", ProductID: "p1", Quantity: 1, UnitPrice: 50000}}
	products := map[string]domain.Product{"p1": {ID: "p1", TaxRateBps: int64Ptr(1800)}}

	priced := PriceLines(items, products, settings, domain.ShippingDestination{}, 0, DefaultTaxFallbackBps)
	want := domain.OrderTotals{Subtotal: 50000, Shipping: 10000, Tax: 9000, Total: 69000}
	if priced.Totals != want {
		t.Fatalf("expected %+v, got %+v", want, priced.Totals)
	}
	if priced.TaxFallback {
		t.Fatalf("tax came from the product rate, not the fallback")
	}
}

func TestGrandTotalNeverNegative(t *testing.T) {
	if got := GrandTotal(1000, 0, 0, 5000); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
