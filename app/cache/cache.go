package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const tagKeyPrefix = "tag:"

// RedisCache is a TTL'd key/value store with tag-based bulk invalidation.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Load returns "" without error when the key is absent.
func (c *RedisCache) Load(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (c *RedisCache) Save(ctx context.Context, key, value string, tags []string, ttl time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		for _, tag := range tags {
			tagKey := tagKeyPrefix + tag
			pipe.SAdd(ctx, tagKey, key)
			if ttl > 0 {
				pipe.Expire(ctx, tagKey, ttl)
			}
		}
		return nil
	})
	return err
}

// PurgeTag deletes every key saved under tag and returns how many were removed.
func (c *RedisCache) PurgeTag(ctx context.Context, tag string) (int64, error) {
	tagKey := tagKeyPrefix + tag
	keys, err := c.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return 0, err
	}

	var removed int64
	if len(keys) > 0 {
		removed, err = c.client.Del(ctx, keys...).Result()
		if err != nil {
			return 0, err
		}
	}
	if err := c.client.Del(ctx, tagKey).Err(); err != nil {
		return removed, err
	}

	return removed, nil
}
