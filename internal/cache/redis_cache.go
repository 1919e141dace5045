package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const occupancyKey = "pesanaja:occupied_tables"

type RedisOccupancyCache struct {
	client *redis.Client
}

func NewRedisOccupancyCache(addr string, password string, db int) *RedisOccupancyCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisOccupancyCache{client: client}
}

func (c *RedisOccupancyCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisOccupancyCache) Close() error {
	return c.client.Close()
}

func (c *RedisOccupancyCache) Get(ctx context.Context) ([]string, bool, error) {
	val, err := c.client.Get(ctx, occupancyKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var tables []string
	if err := json.Unmarshal([]byte(val), &tables); err != nil {
		return nil, false, err
	}
	return tables, true, nil
}

func (c *RedisOccupancyCache) Set(ctx context.Context, tables []string, ttl time.Duration) error {
	payload, err := json.Marshal(tables)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, occupancyKey, payload, ttl).Err()
}

func (c *RedisOccupancyCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, occupancyKey).Err()
}
