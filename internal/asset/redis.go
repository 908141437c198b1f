package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "seasonal:rows:"

// RedisCache is a RowCache shared between processes through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the Redis server at url and verifies it with PING.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, asset string) ([]Row, bool, error) {
	val, err := c.client.Get(ctx, redisKeyPrefix+asset).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached rows: %w", err)
	}

	var rows []Row
	if err := json.Unmarshal(val, &rows); err != nil {
		return nil, false, fmt.Errorf("decoding cached rows: %w", err)
	}
	return rows, true, nil
}

func (c *RedisCache) Set(ctx context.Context, asset string, rows []Row) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding rows: %w", err)
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, redisKeyPrefix+asset, data, ttl).Err(); err != nil {
		return fmt.Errorf("caching rows: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, asset string) error {
	if err := c.client.Del(ctx, redisKeyPrefix+asset).Err(); err != nil {
		return fmt.Errorf("invalidating %s: %w", asset, err)
	}
	return nil
}

// Clear removes every cached asset.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning cached rows: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clearing cached rows: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
