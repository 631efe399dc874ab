package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/session-service/internal/config"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
)

// profileKeyVersion is bumped whenever the cached Profile shape changes.
const profileKeyVersion = "v1"

// RedisProfileCache stores profiles as JSON strings with a TTL.
type RedisProfileCache struct {
	client *redis.Client
	prefix string
}

// NewRedisProfileCache dials redis and checks the connection.
func NewRedisProfileCache(cfg config.RedisConfig, prefix string) (*RedisProfileCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisProfileCacheWithClient(client, prefix), nil
}

// NewRedisProfileCacheWithClient wraps an existing client.
func NewRedisProfileCacheWithClient(client *redis.Client, prefix string) *RedisProfileCache {
	return &RedisProfileCache{client: client, prefix: prefix}
}

// BuildKey returns the key of a participant's profile.
func (c *RedisProfileCache) BuildKey(participantID string) string {
	return fmt.Sprintf("%s:profile:%s:%s", c.prefix, profileKeyVersion, participantID)
}

// Get returns ErrCacheMiss for absent entries. Entries that no longer decode
// are dropped and reported as a miss.
func (c *RedisProfileCache) Get(ctx context.Context, key string) (*domain.Profile, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var p domain.Profile
	if err := json.Unmarshal(data, &p); err != nil || p.ParticipantID == "" {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str("key", key).Msg("dropping undecodable profile cache entry")
		c.client.Del(ctx, key)
		return nil, ErrCacheMiss
	}
	return &p, nil
}

// Set stores p under key for ttl.
func (c *RedisProfileCache) Set(ctx context.Context, key string, p *domain.Profile, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys; missing keys are not an error.
func (c *RedisProfileCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Unlink(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis unlink: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisProfileCache) Close() error {
	return c.client.Close()
}
