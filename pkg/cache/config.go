package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend names
const (
	BackendRedis  = "redis"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config selects and configures the cache backend
type Config struct {
	Backend string        `yaml:"backend" default:"redis"`
	TTL     time.Duration `yaml:"ttl" default:"0s"`
	GCS     GCSConfig     `yaml:"gcs"`
}

// GCSConfig configures the gcs backend
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// Validate checks the configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendRedis, BackendMemory:
		return nil
	case BackendGCS:
		if c.GCS.Bucket == "" {
			return ErrBucketRequired
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownBackend, c.Backend)
	}
}

// NewStore creates the configured store. The redis client and prefix are
// only used by the redis backend.
func NewStore(ctx context.Context, cfg *Config, client *redis.Client, prefix string) (Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		return NewRedisStore(client, prefix, cfg.TTL), nil
	case BackendGCS:
		return NewGCSStore(ctx, cfg.GCS.Bucket, cfg.GCS.CredentialsFile)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
