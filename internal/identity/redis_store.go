package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cadence/api/internal/store"
)

// bindingData is the cached form of a binding.
type bindingData struct {
	Credential string    `json:"credential"`
	ExternalID string    `json:"external_id,omitempty"`
	CachedAt   time.Time `json:"cached_at"`
}

// RedisCache holds recently used bindings in front of the durable store.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, prefix: "identity:", ttl: ttl}
}

func (c *RedisCache) key(userID, provider string) string {
	return c.prefix + provider + ":" + userID
}

func (c *RedisCache) Get(ctx context.Context, userID, provider string) (store.IdentityBinding, error) {
	raw, err := c.client.Get(ctx, c.key(userID, provider)).Result()
	if errors.Is(err, redis.Nil) {
		return store.IdentityBinding{}, store.ErrNotFound
	}
	if err != nil {
		return store.IdentityBinding{}, fmt.Errorf("lookup binding: %w", err)
	}

	var data bindingData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return store.IdentityBinding{}, fmt.Errorf("unmarshal binding: %w", err)
	}
	return store.IdentityBinding{
		UserID:     userID,
		Provider:   provider,
		Credential: data.Credential,
		ExternalID: data.ExternalID,
		UpdatedAt:  data.CachedAt,
	}, nil
}

func (c *RedisCache) Set(ctx context.Context, binding store.IdentityBinding) error {
	payload, err := json.Marshal(bindingData{
		Credential: binding.Credential,
		ExternalID: binding.ExternalID,
		CachedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal binding: %w", err)
	}
	if err := c.client.Set(ctx, c.key(binding.UserID, binding.Provider), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache binding: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, userID, provider string) error {
	if err := c.client.Del(ctx, c.key(userID, provider)).Err(); err != nil {
		return fmt.Errorf("evict binding: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
