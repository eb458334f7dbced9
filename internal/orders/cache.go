package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/campusmarket/order-service/internal/redisx"
)

// Cache is a Redis read-through cache for whole order responses. Misses are
// collapsed with singleflight so a hot order hits the store once. Cache
// failures are treated as misses; the store stays authoritative.
type Cache struct {
	RDB   *redis.Client
	TTL   time.Duration
	group singleflight.Group
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{RDB: rdb, TTL: redisx.TTLOrderCache}
}

func (c *Cache) Fetch(ctx context.Context, id string, load func(context.Context) (*Order, error)) (*Order, error) {
	if o := c.get(ctx, id); o != nil {
		return o, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		if o := c.get(ctx, id); o != nil {
			return o, nil
		}
		o, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, o)
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Order), nil
}

func (c *Cache) get(ctx context.Context, id string) *Order {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(redisx.KeyOrder, id)).Bytes()
	if err != nil {
		return nil
	}
	var o Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil
	}
	return &o
}

func (c *Cache) Set(ctx context.Context, o *Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := c.RDB.Set(ctx, fmt.Sprintf(redisx.KeyOrder, o.ID), b, c.TTL).Err(); err != nil {
		log.Printf("order cache set %s: %v", o.ID, err)
	}
}

func (c *Cache) Invalidate(ctx context.Context, id string) {
	if err := c.RDB.Del(ctx, fmt.Sprintf(redisx.KeyOrder, id)).Err(); err != nil {
		log.Printf("order cache del %s: %v", id, err)
	}
}
