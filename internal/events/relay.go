package events

import (
	"context"
	"time"

	applog "bazaar/internal/log"
	"bazaar/internal/metrics"
	"bazaar/internal/repos"
)

// Outbox is the part of the outbox table the relay drains.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]repos.OutboxRecord, error)
	MarkSent(ctx context.Context, id int64) error
}

// Relay copies committed outbox rows to a Publisher in insertion order.
// Delivery is at least once: a crash between Publish and MarkSent resends
// the row, and consumers dedupe on event_id.
type Relay struct {
	Store     Outbox
	Pub       Publisher
	Metrics   *metrics.Registry
	Interval  time.Duration
	BatchSize int
}

func NewRelay(store Outbox, pub Publisher, m *metrics.Registry, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{Store: store, Pub: pub, Metrics: m, Interval: interval, BatchSize: 100}
}

// Run drains the outbox every Interval until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			applog.Error(nil, "outbox.drain", err, nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Drain publishes one batch and returns how many rows were marked sent. It
// stops at the first publish failure so later events never overtake it.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	recs, err := r.Store.FetchPending(ctx, r.BatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	defer func() { r.Metrics.Published(sent) }()
	for _, rec := range recs {
		if err := r.Pub.Publish(ctx, rec.Topic, rec.Key, []byte(rec.Payload)); err != nil {
			return sent, err
		}
		if err := r.Store.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
