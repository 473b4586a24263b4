package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

// RedisKeyPrefix namespaces verdict keys.
const RedisKeyPrefix = "mplpc:verdict:"

// RedisStore keeps verdicts as JSON strings with an optional TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps client. A zero ttl keeps entries forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(k Key) string { return RedisKeyPrefix + k.String() }

func (s *RedisStore) Get(ctx context.Context, key Key) (*verdict.Verdict, error) {
	b, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get %s: %w", key, err)
	}
	return decode(b)
}

func (s *RedisStore) Put(ctx context.Context, v *verdict.Verdict) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey(KeyOf(v)), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
