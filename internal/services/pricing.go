package services

import (
	"strings"

	domain "github.com/vinuvisthara/api/internal/domain"
)

const (
	basisPointsDenominator = 10000

	// DefaultTaxFallbackBps is the flat rate applied to the subtotal when no
	// line carries a tax rate.
	DefaultTaxFallbackBps int64 = 1800
)

// TaxLine is the input to OrderTax for a single line.
type TaxLine struct {
	Total   int64
	RateBps *int64
}

// TaxResult is the outcome of OrderTax.
type TaxResult struct {
	Total        int64
	PerLine      []int64
	UsedFallback bool
}

// LineTotal multiplies the captured unit price by quantity.
func LineTotal(unitPrice int64, quantity int) int64 {
	if quantity <= 0 || unitPrice <= 0 {
		return 0
	}
	return unitPrice * int64(quantity)
}

// CartSubtotal sums line totals.
func CartSubtotal(items []domain.CartItem) int64 {
	var subtotal int64
	for _, item := range items {
		subtotal += LineTotal(item.UnitPrice, item.Quantity)
	}
	return subtotal
}

// LineTax applies a basis-point rate to a line total, rounding half up.
func LineTax(lineTotal int64, rateBps int64) int64 {
	if lineTotal <= 0 || rateBps <= 0 {
		return 0
	}
	return roundDiv(lineTotal*rateBps, basisPointsDenominator)
}

// OrderTax sums per-line tax. When no line yields any tax the fallback rate is
// applied to the whole subtotal instead.
func OrderTax(lines []TaxLine, subtotal int64, fallbackBps int64) TaxResult {
	result := TaxResult{PerLine: make([]int64, len(lines))}
	for i, line := range lines {
		if line.RateBps == nil {
			continue
		}
		tax := LineTax(line.Total, *line.RateBps)
		result.PerLine[i] = tax
		result.Total += tax
	}
	if result.Total == 0 && subtotal > 0 {
		result.Total = LineTax(subtotal, fallbackBps)
		result.UsedFallback = true
	}
	return result
}

// ShippingFee prices delivery for the given subtotal, parcel weight and destination.
func ShippingFee(settings domain.ShippingSettings, subtotal int64, weightGrams int, dest domain.ShippingDestination) int64 {
	if settings.FreeAbove != nil && subtotal >= *settings.FreeAbove {
		return 0
	}
	switch settings.Method {
	case domain.ShippingMethodFlat, domain.ShippingMethodFreeAbove:
		return nonNegative(settings.FlatRate)
	case domain.ShippingMethodWeight:
		if weightGrams <= 0 {
			return nonNegative(settings.WeightBaseFee)
		}
		kilos := int64((weightGrams + 999) / 1000)
		return nonNegative(settings.WeightBaseFee + kilos*settings.WeightRatePerKg)
	case domain.ShippingMethodDistance:
		return nonNegative(zoneFee(settings, dest))
	default:
		return nonNegative(settings.FlatRate)
	}
}

func zoneFee(settings domain.ShippingSettings, dest domain.ShippingDestination) int64 {
	state := strings.TrimSpace(dest.State)
	city := strings.TrimSpace(dest.City)
	var stateMatch *domain.ShippingZone
	for i := range settings.Zones {
		zone := settings.Zones[i]
		if !strings.EqualFold(strings.TrimSpace(zone.State), state) {
			continue
		}
		zoneCity := strings.TrimSpace(zone.City)
		if zoneCity != "" && strings.EqualFold(zoneCity, city) {
			return zone.Fee
		}
		if zoneCity == "" && stateMatch == nil {
			stateMatch = &settings.Zones[i]
		}
	}
	if stateMatch != nil {
		return stateMatch.Fee
	}
	return settings.DefaultZoneFee
}

// DiscountAmount evaluates a rule against a subtotal. It returns false when the
// minimum order threshold is not met. The amount never exceeds the subtotal.
func DiscountAmount(rule domain.DiscountRule, subtotal int64) (int64, bool) {
	if subtotal <= 0 {
		return 0, false
	}
	if rule.MinOrderAmount != nil && subtotal < *rule.MinOrderAmount {
		return 0, false
	}
	var amount int64
	switch rule.Type {
	case domain.DiscountTypePercentage:
		amount = roundDiv(subtotal*rule.Value, basisPointsDenominator)
	case domain.DiscountTypeFixed:
		amount = rule.Value
	default:
		return 0, false
	}
	if rule.MaxDiscountAmount != nil && amount > *rule.MaxDiscountAmount {
		amount = *rule.MaxDiscountAmount
	}
	amount = nonNegative(amount)
	if amount > subtotal {
		amount = subtotal
	}
	return amount, true
}

// GrandTotal applies the cart invariant total = subtotal + shipping + tax - discount.
func GrandTotal(subtotal, shipping, tax, discount int64) int64 {
	if discount > subtotal {
		discount = subtotal
	}
	return nonNegative(subtotal + shipping + tax - discount)
}

func roundDiv(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	if numerator >= 0 {
		return (numerator + denominator/2) / denominator
	}
	return -((-numerator + denominator/2) / denominator)
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// PricedLines is the full price breakdown for a set of lines.
type PricedLines struct {
	Totals      domain.OrderTotals
	LineTax     []int64
	WeightGrams int
	TaxFallback bool
}

// PriceLines applies every primitive to the lines in order: subtotal, shipping
// for the destination, tax from each product's current rate, then the total.
// Products missing from the map contribute no tax and no weight.
func PriceLines(items []domain.CartItem, products map[string]domain.Product, settings domain.ShippingSettings, dest domain.ShippingDestination, discount int64, fallbackBps int64) PricedLines {
	out := PricedLines{LineTax: make([]int64, len(items))}
	if len(items) == 0 {
		return out
	}
	subtotal := CartSubtotal(items)
	lines := make([]TaxLine, len(items))
	for i, item := range items {
		lines[i] = TaxLine{Total: LineTotal(item.UnitPrice, item.Quantity)}
		if product, ok := products[item.ProductID]; ok {
			lines[i].RateBps = product.TaxRateBps
			out.WeightGrams += product.WeightGrams * item.Quantity
		}
	}
	tax := OrderTax(lines, subtotal, fallbackBps)
	out.LineTax = tax.PerLine
	out.TaxFallback = tax.UsedFallback

	if discount > subtotal {
		discount = subtotal
	}
	discount = nonNegative(discount)
	shipping := ShippingFee(settings, subtotal, out.WeightGrams, dest)
	out.Totals = domain.OrderTotals{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Tax:      tax.Total,
		Total:    GrandTotal(subtotal, shipping, tax.Total, discount),
	}
	return out
}
