package market

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// priceCache is a two-level cache: an in-process TTL map that absorbs
// the hot path, plus an optional Redis tier shared across replicas.
type priceCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	rdb     *redis.Client
}

type cacheEntry struct {
	price     float64
	expiresAt time.Time
}

func newPriceCache(ttl time.Duration, redisURL string) *priceCache {
	c := &priceCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
	if redisURL != "" {
		if opts, err := redis.ParseURL(redisURL); err == nil {
			c.rdb = redis.NewClient(opts)
		}
	}
	return c
}

func (c *priceCache) get(ctx context.Context, key string) (float64, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.price, true
	}

	if c.rdb != nil {
		if val, err := c.rdb.Get(ctx, "price:"+key).Result(); err == nil {
			if p, err := strconv.ParseFloat(val, 64); err == nil {
				c.setLocal(key, p)
				return p, true
			}
		}
	}
	return 0, false
}

func (c *priceCache) set(ctx context.Context, key string, price float64) {
	c.setLocal(key, price)
	if c.rdb != nil {
		c.rdb.Set(ctx, "price:"+key, strconv.FormatFloat(price, 'g', -1, 64), c.ttl)
	}
}

func (c *priceCache) setLocal(key string, price float64) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{price: price, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
