package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional Redis layer. A nil *Cache is valid and disables
// every operation; correctness never depends on it.
type Cache struct {
	rdb *redis.Client
}

func New(ctx context.Context, redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Cache{rdb: rdb}, nil
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// MarkEventSeen records a webhook delivery and reports whether this exact
// event was already seen within the TTL. Used for duplicate-delivery
// observability only; the upsert keeps redelivery correct either way.
func (c *Cache) MarkEventSeen(ctx context.Context, eventKey string, ttl time.Duration) (bool, error) {
	if c == nil {
		return false, nil
	}
	set, err := c.rdb.SetNX(ctx, "webhook:seen:"+eventKey, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}
