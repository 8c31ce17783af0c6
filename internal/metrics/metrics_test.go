package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"bazaar/internal/metrics"
)

func TestNilRegistryIsSilent(t *testing.T) {
	var r *metrics.Registry
	assert.NotPanics(t, func() {
		r.OrderPlaced(0.1)
		r.ReservationFailed("stock")
		r.ReservationRetried()
		r.OrderTransitioned("SHIPPED")
		r.ShopTransitioned("APPROVED")
		r.Published(3)
	})
}

func TestCounters(t *testing.T) {
	r := metrics.NewRegistry()
	r.OrderPlaced(0.02)
	r.OrderPlaced(0.03)
	r.ReservationFailed("stock")
	r.OrderTransitioned("CANCELLED")
	r.Published(0)
	r.Published(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.OrdersPlaced))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ReservationFailures.WithLabelValues("stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OrderTransitions.WithLabelValues("CANCELLED")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.OutboxPublished))
}
