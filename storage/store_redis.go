package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of *redis.Client the store and RedisNotifier need.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

const redisScanBatch = 200

// redisStore maps keys onto "<prefix>:<key>" and leans on native key
// expiry, so expired values never come back from GET.
type redisStore struct {
	client   RedisClient
	ns       keyspace
	lifetime time.Duration
}

func newRedisStore(client RedisClient, lifetime time.Duration, prefix string) *redisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &redisStore{client: client, ns: keyspace(prefix), lifetime: lifetime}
}

func (s *redisStore) Driver() Driver { return DriverRedis }

func (s *redisStore) ready(op string, keys ...string) error {
	if s.client == nil {
		return notConfigured(DriverRedis, op)
	}
	return checkKeys(DriverRedis, op, keys...)
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.ready("get", key); err != nil {
		return nil, false, err
	}
	body, err := s.client.Get(ctx, s.ns.wrap(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, backendErr(DriverRedis, "get", err)
	}
	return body, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.ready("set", key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.lifetime
	}
	if value == nil {
		value = []byte{}
	}
	return backendErr(DriverRedis, "set", s.client.Set(ctx, s.ns.wrap(key), value, ttl).Err())
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, key)
}

func (s *redisStore) DeleteMany(ctx context.Context, keys ...string) error {
	if err := s.ready("delete", keys...); err != nil || len(keys) == 0 {
		return err
	}
	scoped := make([]string, len(keys))
	for i, key := range keys {
		scoped[i] = s.ns.wrap(key)
	}
	return backendErr(DriverRedis, "delete", s.client.Del(ctx, scoped...).Err())
}

func (s *redisStore) Flush(ctx context.Context) error {
	if err := s.ready("flush"); err != nil {
		return err
	}
	return flushListed(ctx, s)
}

// Keys implements Lister by walking SCAN over the store's prefix.
func (s *redisStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.ready("keys"); err != nil {
		return nil, err
	}
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.ns.wrap("*"), redisScanBatch).Result()
		if err != nil {
			return nil, backendErr(DriverRedis, "keys", err)
		}
		for _, stored := range batch {
			if key, ok := s.ns.unwrap(stored); ok {
				keys = append(keys, key)
			}
		}
		if cursor = next; cursor == 0 {
			return sortedKeys(keys), nil
		}
	}
}
