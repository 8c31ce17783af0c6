package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bazaar/internal/events"
	"bazaar/internal/metrics"
	"bazaar/internal/repos"
)

type sent struct {
	topic, key string
	value      []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	got    []sent
	failOn string // key that fails to publish
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.failOn {
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, sent{topic: topic, key: key, value: value})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.got))
	for _, s := range p.got {
		out = append(out, s.key)
	}
	return out
}

func seedOutbox(t *testing.T, keys ...string) *repos.OutboxRepo {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ob := repos.NewOutboxRepo(db)
	for _, k := range keys {
		env, err := events.New(events.TopicOrderStatusChanged, k, events.OrderStatusChangedPayload{OrderID: k, From: "PENDING", To: "PROCESSING"})
		require.NoError(t, err)
		require.NoError(t, ob.Insert(context.Background(), env.EventID, events.TopicOrderStatusChanged, k, env))
	}
	return ob
}

func TestDrainPublishesInOrder(t *testing.T) {
	ctx := context.Background()
	ob := seedOutbox(t, "o-1", "o-2", "o-3")
	pub := &fakePublisher{}
	r := events.NewRelay(ob, pub, metrics.NewRegistry(), time.Second)

	n, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"o-1", "o-2", "o-3"}, pub.keys())

	pending, err := ob.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	// nothing left to send
	n, err = r.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(pub.got[0].value, &env))
	assert.Equal(t, events.TopicOrderStatusChanged, env.EventType)
	payload, err := events.Decode[events.OrderStatusChangedPayload](env)
	require.NoError(t, err)
	assert.Equal(t, "o-1", payload.OrderID)
	assert.Equal(t, "PROCESSING", payload.To)
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	ob := seedOutbox(t, "o-1", "o-2", "o-3")
	pub := &fakePublisher{failOn: "o-2"}
	r := events.NewRelay(ob, pub, nil, time.Second)

	n, err := r.Drain(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"o-1"}, pub.keys())

	pending, err := ob.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending, "o-2 and o-3 stay queued")

	// broker recovers: the rest goes out in the original order
	pub.failOn = ""
	n, err = r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"o-1", "o-2", "o-3"}, pub.keys())
}

func TestDrainBatchSize(t *testing.T) {
	ob := seedOutbox(t, "a", "b", "c", "d", "e")
	pub := &fakePublisher{}
	r := events.NewRelay(ob, pub, nil, time.Second)
	r.BatchSize = 2

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, pub.keys())
}

// memOutbox keeps the goroutine-leak check free of database/sql workers.
type memOutbox struct {
	mu   sync.Mutex
	recs []repos.OutboxRecord
	sent map[int64]bool
}

func (m *memOutbox) FetchPending(_ context.Context, limit int) ([]repos.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repos.OutboxRecord
	for _, r := range m.recs {
		if !m.sent[r.ID] && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[id] = true
	return nil
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ob := &memOutbox{
		recs: []repos.OutboxRecord{{ID: 1, Topic: events.TopicOrderCreated, Key: "o-1", Payload: "{}"}},
		sent: map[int64]bool{},
	}
	pub := &fakePublisher{}
	r := events.NewRelay(ob, pub, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(pub.keys()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
	assert.Equal(t, []string{"o-1"}, pub.keys(), "sent rows are not resent")
}
