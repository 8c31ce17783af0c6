package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaar/internal/cache"
	"bazaar/internal/domain"
)

func newCache(t *testing.T) (*cache.Orders, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := cache.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewOrders(rdb), mr
}

func order(version int, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:      "o-1",
		Number:  "ORD-00000001",
		BuyerID: "u-alice",
		Status:  status,
		Version: version,
		Pricing: domain.Pricing{Total: decimal.RequireFromString("12.50")},
		Items: []domain.OrderItem{{
			ProductID: "p-1", ShopID: "s-1", SellerID: "u-bob", Qty: 1,
			Price: decimal.RequireFromString("12.50"), Subtotal: decimal.RequireFromString("12.50"),
		}},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewOrders(nil)
	assert.Nil(t, c)

	_, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)
	stored, err := c.Put(ctx, domain.Order{ID: "o-1"})
	assert.NoError(t, err)
	assert.False(t, stored)
	assert.NoError(t, c.Invalidate(ctx, "o-1", 2))
}

func TestOrderViewRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	o := order(1, domain.OrderPending)

	stored, err := c.Put(ctx, o)
	require.NoError(t, err)
	assert.True(t, stored)

	got, ok, err := c.Get(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, o.Number, got.Number)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.Pricing.Total.Equal(o.Pricing.Total))
	assert.Equal(t, "u-bob", got.Items[0].SellerID)

	key := fmt.Sprintf(cache.KeyOrderView, o.ID)
	assert.Equal(t, cache.TTLOrderView, mr.TTL(key))

	mr.FastForward(cache.TTLOrderView + time.Second)
	_, ok, err = c.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutNeverGoesBackwards(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)

	_, err := c.Put(ctx, order(3, domain.OrderShipped))
	require.NoError(t, err)
	stored, err := c.Put(ctx, order(2, domain.OrderProcessing))
	require.NoError(t, err)
	assert.False(t, stored)

	got, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.OrderShipped, got.Status)
}

// A reader that loaded version 1 before a transition committed version 2
// must not refill the cache after the transition invalidated it.
func TestInvalidateRejectsStaleFill(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)
	stale := order(1, domain.OrderPending)

	_, err := c.Put(ctx, stale)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "o-1", 2))

	_, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := c.Put(ctx, stale)
	require.NoError(t, err)
	assert.False(t, stored)
	_, ok, err = c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err = c.Put(ctx, order(2, domain.OrderProcessing))
	require.NoError(t, err)
	assert.True(t, stored)
	got, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.OrderProcessing, got.Status)

	// an older invalidation arriving late leaves the newer view alone
	require.NoError(t, c.Invalidate(ctx, "o-1", 1))
	_, ok, err = c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
