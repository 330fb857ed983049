package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps blobs as redis strings under a key prefix
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a redis store. A zero ttl keeps blobs forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(k string) string {
	if r.prefix == "" {
		return k
	}

	return r.prefix + ":" + k
}

// Get returns the blob stored under key
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return data, nil
}

// Put stores data under key
func (r *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	return r.client.Set(ctx, r.key(key), data, r.ttl).Err()
}

// Delete removes key
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// List scans for keys starting with prefix
func (r *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	full := r.key(prefix)
	iter := r.client.Scan(ctx, 0, full+"*", 100).Iterator()

	for iter.Next(ctx) {
		k := iter.Val()
		if !strings.HasPrefix(k, full) {
			continue
		}

		if r.prefix != "" {
			k = strings.TrimPrefix(k, r.prefix+":")
		}

		keys = append(keys, k)
	}

	if err := iter.Err(); err != nil {
		return nil, err
	}

	sort.Strings(keys)

	return keys, nil
}
