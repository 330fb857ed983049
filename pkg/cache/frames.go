package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethpandaops/kpt/pkg/aggregation"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/sirupsen/logrus"
)

const (
	keyRoot   = "parquet"
	keyPrefix = "df_parquet__"
)

// FrameCache stores the aggregation inputs of one entity type
type FrameCache struct {
	log          logrus.FieldLogger
	store        Store
	tenant       string
	entityType   string
	entityTypeID int
}

var _ aggregation.Cache = (*FrameCache)(nil)

// NewFrameCache creates a frame cache for an entity type
func NewFrameCache(log logrus.FieldLogger, store Store, tenant, entityType string, entityTypeID int) *FrameCache {
	return &FrameCache{
		log:          log.WithFields(logrus.Fields{"component": "frame_cache", "entity_type": entityType}),
		store:        store,
		tenant:       tenant,
		entityType:   entityType,
		entityTypeID: entityTypeID,
	}
}

// Key returns the blob key of the dep grain to grain aggregation input. Legacy
// keys are scoped by entity type id instead of name.
func (c *FrameCache) Key(depGrain, grain *models.Granularity, legacy bool) string {
	scope := c.entityType
	if legacy {
		scope = strconv.Itoa(c.entityTypeID)
	}

	return fmt.Sprintf("%s/%s/%s/%s%s__%s", keyRoot, c.tenant, scope, keyPrefix, depGrain.Key(), grain.Key())
}

// Retrieve loads a cached frame, nil when absent
func (c *FrameCache) Retrieve(ctx context.Context, depGrain, grain *models.Granularity, legacy bool) (*frame.Frame, error) {
	key := c.Key(depGrain, grain, legacy)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.RecordCacheOperation("retrieve", "miss")
			return nil, nil
		}

		observability.RecordCacheOperation("retrieve", "error")

		return nil, fmt.Errorf("failed to retrieve %s: %w", key, err)
	}

	f, err := Decode(data)
	if err != nil {
		observability.RecordCacheOperation("retrieve", "error")
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}

	observability.RecordCacheOperation("retrieve", "hit")
	c.log.WithFields(logrus.Fields{"key": key, "rows": f.NumRows()}).Debug("Loaded cached frame")

	return f, nil
}

// Store saves f under the current key layout
func (c *FrameCache) Store(ctx context.Context, depGrain, grain *models.Granularity, f *frame.Frame) error {
	key := c.Key(depGrain, grain, false)

	data, err := Encode(f)
	if err != nil {
		observability.RecordCacheOperation("store", "error")
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	if err := c.store.Put(ctx, key, data); err != nil {
		observability.RecordCacheOperation("store", "error")
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	observability.RecordCacheOperation("store", "ok")
	c.log.WithFields(logrus.Fields{"key": key, "bytes": len(data)}).Debug("Stored frame")

	return nil
}

// Delete removes one cached frame
func (c *FrameCache) Delete(ctx context.Context, depGrain, grain *models.Granularity, legacy bool) error {
	return c.store.Delete(ctx, c.Key(depGrain, grain, legacy))
}

// DeleteAll removes every cached frame of the entity type
func (c *FrameCache) DeleteAll(ctx context.Context) (int, error) {
	prefix := fmt.Sprintf("%s/%s/%s/%s", keyRoot, c.tenant, c.entityType, keyPrefix)

	keys, err := c.store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}

	c.log.WithField("deleted", len(keys)).Info("Cleaned aggregation cache")

	return len(keys), nil
}
