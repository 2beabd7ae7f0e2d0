package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"rasoipos/backend/internal/domain"
)

type RedisTaxGroupCache struct {
	client *redis.Client
}

func NewRedisTaxGroupCache(addr string, password string, db int) *RedisTaxGroupCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTaxGroupCache{client: client}
}

func (c *RedisTaxGroupCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTaxGroupCache) Close() error {
	return c.client.Close()
}

func cacheKey(businessID string) string {
	return "taxgroups:active:" + businessID
}

func (c *RedisTaxGroupCache) Get(ctx context.Context, businessID string) ([]domain.TaxGroup, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(businessID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var groups []domain.TaxGroup
	if err := json.Unmarshal([]byte(val), &groups); err != nil {
		return nil, false, err
	}
	return groups, true, nil
}

func (c *RedisTaxGroupCache) Set(ctx context.Context, businessID string, groups []domain.TaxGroup, ttl time.Duration) error {
	if groups == nil {
		return nil
	}
	payload, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(businessID), payload, ttl).Err()
}

func (c *RedisTaxGroupCache) Invalidate(ctx context.Context, businessID string) error {
	return c.client.Del(ctx, cacheKey(businessID)).Err()
}
