package poscache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-tracking/internal/models"
)

// cacheTTL bounds how long a stale position survives; an active order gets
// refreshed far more often than this.
const cacheTTL = 10 * time.Minute

// Cache keeps the last known driver position per order in redis, so a
// renderer attaching mid-delivery sees the marker before the next push
// arrives. Best-effort on both sides: write and read failures degrade to
// "no cached position".
type Cache struct {
	client *redis.Client
}

func New(addr, password string) *Cache {
	return &Cache{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func key(orderID string) string { return "order:pos:" + orderID }

func (c *Cache) Store(ctx context.Context, orderID string, pos models.DriverPosition) {
	k := key(orderID)
	_ = c.client.HSet(ctx, k, map[string]interface{}{
		"lat": strconv.FormatFloat(pos.Lat, 'f', -1, 64),
		"lng": strconv.FormatFloat(pos.Lng, 'f', -1, 64),
		"at":  pos.ReceivedAt.Format(time.RFC3339Nano),
	}).Err()
	_ = c.client.Expire(ctx, k, cacheTTL).Err()
}

func (c *Cache) Load(ctx context.Context, orderID string) (models.DriverPosition, bool) {
	m, err := c.client.HGetAll(ctx, key(orderID)).Result()
	if err != nil || len(m) == 0 {
		return models.DriverPosition{}, false
	}
	lat, errLat := strconv.ParseFloat(m["lat"], 64)
	lng, errLng := strconv.ParseFloat(m["lng"], 64)
	if errLat != nil || errLng != nil {
		return models.DriverPosition{}, false
	}
	pos := models.DriverPosition{Lat: lat, Lng: lng}
	if at, err := time.Parse(time.RFC3339Nano, m["at"]); err == nil {
		pos.ReceivedAt = at
	}
	return pos, true
}

func (c *Cache) Close() error { return c.client.Close() }
