package feeds

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "feeds:cache:"

// Cache stores fetched feed batches so scheduled runs close together do not
// re-poll every source.
type Cache interface {
	Get(ctx context.Context, url string) ([]Item, bool)
	Set(ctx context.Context, url string, items []Item, ttl time.Duration)
}

// NopCache always misses.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]Item, bool) { return nil, false }

func (NopCache) Set(context.Context, string, []Item, time.Duration) {}

// RedisCache keeps feed batches in redis under a TTL.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, url string) ([]Item, bool) {
	val, err := c.client.Get(ctx, cacheKeyPrefix+url).Result()
	if err != nil {
		// redis.Nil or a transport error, either way a miss
		return nil, false
	}
	var items []Item
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return nil, false
	}
	if len(items) == 0 {
		return nil, false
	}
	return items, true
}

func (c *RedisCache) Set(ctx context.Context, url string, items []Item, ttl time.Duration) {
	if ttl <= 0 || len(items) == 0 {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKeyPrefix+url, data, ttl).Err()
}
