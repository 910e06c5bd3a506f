package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ticketform/backend/internal/models"
)

const (
	recentKeyPrefix = "tickets:recent:"
	// recentIndexKey tracks every recent-list key written so Invalidate can
	// drop them without a KEYS scan.
	recentIndexKey = "tickets:recent:index"
)

// RedisCache caches recent-ticket listings per limit.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return WrapRedisClient(client, ttl), nil
}

func WrapRedisClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

func recentKey(limit int) string {
	return fmt.Sprintf("%s%d", recentKeyPrefix, limit)
}

func (c *RedisCache) GetRecent(ctx context.Context, limit int) ([]models.Ticket, bool, error) {
	val, err := c.client.Get(ctx, recentKey(limit)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var out []models.Ticket
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *RedisCache) SetRecent(ctx context.Context, limit int, tickets []models.Ticket) error {
	data, err := json.Marshal(tickets)
	if err != nil {
		return err
	}
	key := recentKey(limit)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, recentIndexKey, key)
		pipe.Expire(ctx, recentIndexKey, c.ttl)
		return nil
	})
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	keys, err := c.client.SMembers(ctx, recentIndexKey).Result()
	if err != nil {
		return err
	}
	keys = append(keys, recentIndexKey)
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
