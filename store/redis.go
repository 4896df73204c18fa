package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis key layout: one hash per store holding key -> snapshot bytes, plus a
// set with the names of all stores. The prefix keeps the worker's keys apart
// from anything else living in the same database.
const (
	redisNamesKey    = "always-offline:stores"
	redisStorePrefix = "always-offline:store"
)

// RedisProvider is a Provider backed by a Redis database, for setups where
// several gateway instances share one set of stores.
type RedisProvider struct {
	client *redis.Client
}

// NewRedisProvider creates a provider on top of the given client.
// The client is pinged first so that a misconfigured address surfaces at
// startup instead of on the first request.
func NewRedisProvider(ctx context.Context, client *redis.Client) (*RedisProvider, error) {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisProvider{client: client}, nil
}

func (p *RedisProvider) Open(ctx context.Context, name string) (Handle, error) {
	if err := p.client.SAdd(ctx, redisNamesKey, name).Err(); err != nil {
		return nil, err
	}
	return &redisHandle{client: p.client, name: name}, nil
}

func (p *RedisProvider) Names(ctx context.Context) ([]string, error) {
	names, err := p.client.SMembers(ctx, redisNamesKey).Result()
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (p *RedisProvider) Delete(ctx context.Context, name string) (bool, error) {
	removed, err := p.client.SRem(ctx, redisNamesKey, name).Result()
	if err != nil {
		return false, err
	}
	if err := p.client.Del(ctx, storeKey(name)).Err(); err != nil {
		return removed > 0, err
	}
	return removed > 0, nil
}

func storeKey(name string) string {
	return fmt.Sprintf("%s:%s", redisStorePrefix, name)
}

type redisHandle struct {
	client *redis.Client
	name   string
}

func (h *redisHandle) Name() string {
	return h.name
}

func (h *redisHandle) Put(ctx context.Context, key string, bytes []byte) error {
	return h.client.HSet(ctx, storeKey(h.name), key, bytes).Err()
}

func (h *redisHandle) Get(ctx context.Context, key string) ([]byte, bool, error) {
	bytes, err := h.client.HGet(ctx, storeKey(h.name), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (h *redisHandle) Keys(ctx context.Context) ([]string, error) {
	keys, err := h.client.HKeys(ctx, storeKey(h.name)).Result()
	if err != nil {
		return nil, err
	}
	return keys, nil
}
