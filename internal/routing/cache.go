package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-tracking/internal/models"
)

// Cache is a tiny in-memory cache for resolved routes keyed by the
// coordinate pair. Route geometry for a fixed pair is stable for far longer
// than a tracking session, so a short TTL is plenty.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	r  models.Route
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.GeoPoint) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lng, b.Lat, b.Lng)
}

func (c *Cache) Get(a, b models.GeoPoint) (models.Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return models.Route{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return models.Route{}, false
	}
	return e.r, true
}

func (c *Cache) Set(a, b models.GeoPoint, r models.Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{r: r, ts: time.Now()}
	c.mu.Unlock()
}

// CachingResolver wraps a Resolver with the in-memory cache and, when a
// redis client is supplied, a shared second-level cache so multiple gateway
// instances do not each hit the routing provider for the same pair.
type CachingResolver struct {
	Inner Resolver
	Local *Cache
	Redis *redis.Client
	TTL   time.Duration
}

func NewCachingResolver(inner Resolver, ttl time.Duration, rc *redis.Client) *CachingResolver {
	return &CachingResolver{Inner: inner, Local: NewCache(ttl), Redis: rc, TTL: ttl}
}

func (c *CachingResolver) ResolveRoute(ctx context.Context, pickup, drop models.GeoPoint) (models.Route, error) {
	if r, ok := c.Local.Get(pickup, drop); ok {
		return r, nil
	}
	if c.Redis != nil {
		if b, err := c.Redis.Get(ctx, redisKey(pickup, drop)).Bytes(); err == nil {
			var r models.Route
			if json.Unmarshal(b, &r) == nil && len(r.Polyline) > 0 {
				c.Local.Set(pickup, drop, r)
				return r, nil
			}
		}
	}
	r, err := c.Inner.ResolveRoute(ctx, pickup, drop)
	if err != nil {
		return models.Route{}, err
	}
	c.Local.Set(pickup, drop, r)
	if c.Redis != nil {
		if b, err := json.Marshal(r); err == nil {
			// best-effort; a cache write failure never fails the resolution
			_ = c.Redis.Set(ctx, redisKey(pickup, drop), b, c.TTL).Err()
		}
	}
	return r, nil
}

func redisKey(a, b models.GeoPoint) string {
	return "route:" + keyFor(a, b)
}
