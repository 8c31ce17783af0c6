package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the order engine counters. A nil *Registry records nothing.
type Registry struct {
	reg                 *prometheus.Registry
	OrdersPlaced        prometheus.Counter
	ReservationFailures *prometheus.CounterVec
	ReservationRetries  prometheus.Counter
	OrderTransitions    *prometheus.CounterVec
	ShopTransitions     *prometheus.CounterVec
	OutboxPublished     prometheus.Counter
	PlaceLatencySec     prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	placed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bazaar", Name: "orders_placed_total",
		Help: "Orders committed by PlaceOrder.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bazaar", Name: "reservation_failures_total",
		Help: "Rejected reservations by reason.",
	}, []string{"reason"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bazaar", Name: "reservation_retries_total",
		Help: "Reservations retried after losing a conditional decrement.",
	})
	orderTr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bazaar", Name: "order_transitions_total",
		Help: "Applied order status transitions by target status.",
	}, []string{"to"})
	shopTr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bazaar", Name: "shop_transitions_total",
		Help: "Applied shop status transitions by target status.",
	}, []string{"to"})
	published := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bazaar", Name: "outbox_published_total",
		Help: "Outbox events handed to the publisher.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bazaar", Name: "place_order_seconds",
		Help:    "PlaceOrder latency.",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(placed, failures, retries, orderTr, shopTr, published, latency)
	return &Registry{
		reg:                 r,
		OrdersPlaced:        placed,
		ReservationFailures: failures,
		ReservationRetries:  retries,
		OrderTransitions:    orderTr,
		ShopTransitions:     shopTr,
		OutboxPublished:     published,
		PlaceLatencySec:     latency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

func (r *Registry) OrderPlaced(seconds float64) {
	if r == nil {
		return
	}
	r.OrdersPlaced.Inc()
	r.PlaceLatencySec.Observe(seconds)
}

func (r *Registry) ReservationFailed(reason string) {
	if r == nil {
		return
	}
	r.ReservationFailures.WithLabelValues(reason).Inc()
}

func (r *Registry) ReservationRetried() {
	if r == nil {
		return
	}
	r.ReservationRetries.Inc()
}

func (r *Registry) OrderTransitioned(to string) {
	if r == nil {
		return
	}
	r.OrderTransitions.WithLabelValues(to).Inc()
}

func (r *Registry) ShopTransitioned(to string) {
	if r == nil {
		return
	}
	r.ShopTransitions.WithLabelValues(to).Inc()
}

func (r *Registry) Published(n int) {
	if r == nil {
		return
	}
	r.OutboxPublished.Add(float64(n))
}
