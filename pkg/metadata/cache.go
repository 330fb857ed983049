package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache keeps engine inputs in redis so runs close together share one fetch
type Cache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewCache creates a cache. A zero ttl returns nil, disabling caching.
func NewCache(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if client == nil || ttl <= 0 {
		return nil
	}

	return &Cache{client: client, keyPrefix: prefix + ":engine_input:", ttl: ttl}
}

func (c *Cache) key(tenant string, entityTypeID int) string {
	return fmt.Sprintf("%s%s:%d", c.keyPrefix, tenant, entityTypeID)
}

// Get returns the cached engine input, nil on a miss
func (c *Cache) Get(ctx context.Context, tenant string, entityTypeID int) (*models.EngineInput, error) {
	data, err := c.client.Get(ctx, c.key(tenant, entityTypeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, err
	}

	var input models.EngineInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}

	return &input, nil
}

// Set stores an engine input
func (c *Cache) Set(ctx context.Context, tenant string, input *models.EngineInput) error {
	data, err := json.Marshal(input)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, c.key(tenant, input.EntityTypeID), data, c.ttl).Err()
}

// Invalidate drops the cached engine input of an entity type
func (c *Cache) Invalidate(ctx context.Context, tenant string, entityTypeID int) error {
	return c.client.Del(ctx, c.key(tenant, entityTypeID)).Err()
}
