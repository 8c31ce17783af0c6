package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bazaar/internal/domain"
)

const KeyOrderView = "order_view:%s"

var TTLOrderView = 5 * time.Minute

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Orders caches committed order views. Each key is a hash of the view body and
// the highest order version seen, and a write never lowers that version. A nil
// *Orders is a disabled cache: reads miss and writes are dropped.
type Orders struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOrders(rdb *redis.Client) *Orders {
	if rdb == nil {
		return nil
	}
	return &Orders{rdb: rdb, ttl: TTLOrderView}
}

// storeIfCurrent writes an order view, or with an empty body only the version
// floor, unless the key already holds a newer version.
var storeIfCurrent = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'v') or '0')
local v = tonumber(ARGV[1])
if cur > v then
  return 0
end
if ARGV[2] == '' then
  redis.call('HDEL', KEYS[1], 'body')
  redis.call('HSET', KEYS[1], 'v', ARGV[1])
else
  redis.call('HSET', KEYS[1], 'v', ARGV[1], 'body', ARGV[2])
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func (c *Orders) Get(ctx context.Context, id string) (domain.Order, bool, error) {
	if c == nil {
		return domain.Order{}, false, nil
	}
	b, err := c.rdb.HGet(ctx, fmt.Sprintf(KeyOrderView, id), "body").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	var o domain.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return domain.Order{}, false, err
	}
	return o, true, nil
}

// Put stores o unless the cache has seen a newer version of the order. It
// reports whether the view was stored.
func (c *Orders) Put(ctx context.Context, o domain.Order) (bool, error) {
	if c == nil {
		return false, nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return false, err
	}
	return c.store(ctx, o.ID, o.Version, string(b))
}

// Invalidate drops the cached view and records version as the oldest one a
// later Put may store. Call it after committing a change that produced version.
func (c *Orders) Invalidate(ctx context.Context, id string, version int) error {
	if c == nil {
		return nil
	}
	_, err := c.store(ctx, id, version, "")
	return err
}

func (c *Orders) store(ctx context.Context, id string, version int, body string) (bool, error) {
	n, err := storeIfCurrent.Run(ctx, c.rdb, []string{fmt.Sprintf(KeyOrderView, id)},
		version, body, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
