package services_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaar/internal/domain"
	"bazaar/internal/services"
)

func reserved(id, shop, price string, qty int) services.ReservedLine {
	return services.ReservedLine{ProductID: id, ShopID: shop, SellerID: "seller-" + shop, Title: id, Qty: qty, Price: dec(price)}
}

func TestPrice_ScenarioTotals(t *testing.T) {
	q, err := services.Price(
		[]services.ReservedLine{reserved("A", "s1", "10.00", 3)},
		services.Charges{Tax: dec("2.00"), Shipping: dec("5.00")},
	)
	require.NoError(t, err)

	assert.True(t, q.Pricing.Subtotal.Equal(dec("30")), "subtotal %s", q.Pricing.Subtotal)
	assert.True(t, q.Pricing.Total.Equal(dec("37")), "total %s", q.Pricing.Total)
	require.Len(t, q.Items, 1)
	assert.True(t, q.Items[0].Subtotal.Equal(dec("30")))
	assert.Equal(t, "seller-s1", q.Items[0].SellerID)
}

func TestPrice_NoFloatDrift(t *testing.T) {
	var lines []services.ReservedLine
	for i := 0; i < 1000; i++ {
		lines = append(lines, reserved("p", "s1", "0.10", 1))
	}
	q, err := services.Price(lines, services.Charges{})
	require.NoError(t, err)
	assert.Equal(t, "100.00", q.Pricing.Total.StringFixed(2))
	assert.True(t, q.Pricing.Total.Equal(dec("100")))
}

func TestPrice_ShopTotals(t *testing.T) {
	q, err := services.Price([]services.ReservedLine{
		reserved("a", "s1", "5.00", 2),
		reserved("b", "s2", "1.25", 4),
		reserved("c", "s1", "3.00", 1),
	}, services.Charges{})
	require.NoError(t, err)

	require.Len(t, q.Shops, 2)
	byShop := map[string]domain.ShopTotal{}
	for _, st := range q.Shops {
		byShop[st.ShopID] = st
	}
	assert.True(t, byShop["s1"].Subtotal.Equal(dec("13")))
	assert.Equal(t, 3, byShop["s1"].ItemCount)
	assert.True(t, byShop["s2"].Subtotal.Equal(dec("5")))
	assert.Equal(t, 4, byShop["s2"].ItemCount)
}

func TestPrice_Rejections(t *testing.T) {
	one := []services.ReservedLine{reserved("A", "s1", "10.00", 1)}
	cases := []struct {
		name  string
		lines []services.ReservedLine
		ch    services.Charges
	}{
		{"no items", nil, services.Charges{}},
		{"discount above payable", one, services.Charges{Tax: dec("1"), Shipping: dec("2"), Discount: dec("13.01")}},
		{"negative discount", one, services.Charges{Discount: dec("-1")}},
		{"negative tax", one, services.Charges{Tax: dec("-0.01")}},
		{"negative price", []services.ReservedLine{reserved("A", "s1", "-1", 1)}, services.Charges{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := services.Price(tc.lines, tc.ch)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidPricing), "got %v", err)
		})
	}
}

func TestPrice_DiscountEqualToPayableIsFree(t *testing.T) {
	q, err := services.Price(
		[]services.ReservedLine{reserved("A", "s1", "10.00", 1)},
		services.Charges{Tax: dec("1"), Shipping: dec("2"), Discount: dec("13")},
	)
	require.NoError(t, err)
	assert.True(t, q.Pricing.Total.IsZero())
}

func TestPrice_Deterministic(t *testing.T) {
	lines := []services.ReservedLine{reserved("a", "s1", "19.99", 3), reserved("b", "s2", "0.01", 7)}
	ch := services.Charges{Tax: dec("4.20"), Shipping: dec("9.00"), Discount: dec("1.50")}
	q1, err := services.Price(lines, ch)
	require.NoError(t, err)
	q2, err := services.Price(lines, ch)
	require.NoError(t, err)
	assert.Equal(t, q1.Pricing.Total.String(), q2.Pricing.Total.String())
	assert.Equal(t, q1.Shops, q2.Shops)
}

func TestRatePolicy(t *testing.T) {
	p := services.RatePolicy{TaxRate: dec("0.06"), ShippingPerShop: dec("4.99")}
	ch, err := p.Charges([]services.ReservedLine{
		reserved("a", "s1", "10.00", 2),
		reserved("b", "s2", "5.55", 1),
	}, decimal.Zero)
	require.NoError(t, err)

	// 25.55 * 0.06 = 1.533
	assert.Equal(t, "1.53", ch.Tax.StringFixed(2))
	assert.True(t, ch.Shipping.Equal(dec("9.98")))
	assert.True(t, ch.Discount.IsZero())
}
