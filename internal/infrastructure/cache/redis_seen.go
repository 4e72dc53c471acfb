package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"HeadlineBot/internal/ports"
)

const defaultKeyPrefix = "headlinebot:seen:"

// RedisSeenCache remembers processed URLs in Redis with a TTL.
type RedisSeenCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ ports.SeenCache = (*RedisSeenCache)(nil)

// NewRedisSeenCache wraps an existing client.
func NewRedisSeenCache(client *redis.Client, ttl time.Duration) *RedisSeenCache {
	return &RedisSeenCache{client: client, ttl: ttl, prefix: defaultKeyPrefix}
}

// Connect parses a redis:// URL, falling back to a plain address, and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (c *RedisSeenCache) Seen(ctx context.Context, url string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(url)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (c *RedisSeenCache) Remember(ctx context.Context, url string) error {
	if err := c.client.Set(ctx, c.key(url), "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisSeenCache) key(url string) string {
	sum := sha1.Sum([]byte(url))
	return c.prefix + hex.EncodeToString(sum[:])
}
