package services

import (
	"github.com/shopspring/decimal"

	"bazaar/internal/domain"
)

// Charges are the order-level amounts supplied from outside the catalog.
type Charges struct {
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
}

// ChargesPolicy derives tax, shipping and discount for a set of reserved lines.
type ChargesPolicy interface {
	Charges(lines []ReservedLine, requestedDiscount decimal.Decimal) (Charges, error)
}

// RatePolicy charges a fraction of the subtotal as tax and a flat fee per shop
// for shipping. The requested discount passes through unchanged.
type RatePolicy struct {
	TaxRate         decimal.Decimal
	ShippingPerShop decimal.Decimal
}

func (p RatePolicy) Charges(lines []ReservedLine, discount decimal.Decimal) (Charges, error) {
	subtotal := decimal.Zero
	shops := map[string]struct{}{}
	for _, l := range lines {
		subtotal = subtotal.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Qty))))
		shops[l.ShopID] = struct{}{}
	}
	return Charges{
		Tax:      subtotal.Mul(p.TaxRate).Round(2),
		Shipping: p.ShippingPerShop.Mul(decimal.NewFromInt(int64(len(shops)))),
		Discount: discount,
	}, nil
}

// FixedCharges applies the same amounts to every order.
type FixedCharges Charges

func (f FixedCharges) Charges(_ []ReservedLine, _ decimal.Decimal) (Charges, error) {
	return Charges(f), nil
}

type Quote struct {
	Items   []domain.OrderItem
	Shops   []domain.ShopTotal
	Pricing domain.Pricing
}

// Price computes line, shop and order totals from the reserved lines only.
// It is deterministic and never consults the catalog.
func Price(lines []ReservedLine, ch Charges) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, &domain.PricingError{Reason: "no items"}
	}
	if ch.Tax.IsNegative() || ch.Shipping.IsNegative() {
		return Quote{}, &domain.PricingError{Reason: "tax and shipping must not be negative"}
	}
	if ch.Discount.IsNegative() {
		return Quote{}, &domain.PricingError{Reason: "discount must not be negative"}
	}

	q := Quote{Items: make([]domain.OrderItem, 0, len(lines))}
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Price.IsNegative() {
			return Quote{}, &domain.PricingError{Reason: "negative price for " + l.ProductID}
		}
		line := l.Price.Mul(decimal.NewFromInt(int64(l.Qty)))
		subtotal = subtotal.Add(line)
		q.Items = append(q.Items, domain.OrderItem{
			ProductID: l.ProductID,
			ShopID:    l.ShopID,
			SellerID:  l.SellerID,
			Title:     l.Title,
			Qty:       l.Qty,
			Price:     l.Price,
			Subtotal:  line,
		})
	}

	payable := subtotal.Add(ch.Tax).Add(ch.Shipping)
	if ch.Discount.GreaterThan(payable) {
		return Quote{}, &domain.PricingError{Reason: "discount " + ch.Discount.StringFixed(2) + " exceeds payable " + payable.StringFixed(2)}
	}

	q.Pricing = domain.Pricing{
		Subtotal:     subtotal,
		Tax:          ch.Tax,
		ShippingCost: ch.Shipping,
		Discount:     ch.Discount,
		Total:        payable.Sub(ch.Discount),
	}
	q.Shops = domain.Order{Items: q.Items}.ShopTotals()
	return q, nil
}
