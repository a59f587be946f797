package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"oddsedge-gateway/internal/coalesce"
)

// RedisStore implements Store on a process-shared Redis backend.
//
// Redis has no native stale window, so stale-while-revalidate degrades
// to plain TTL expiry here: keys are written with ttl*staleMultiplier so
// they live as long as the memory store's stale window, and freshness is
// maintained by the tier timers rather than by read-triggered refresh.
// Coalescing stays process-local, which is fine for single-node edges.
type RedisStore struct {
	client          *redis.Client
	prefix          string
	staleMultiplier int
	co              *coalesce.Coalescer
}

type RedisConfig struct {
	Prefix          string
	StaleMultiplier int
}

func NewRedisStore(client *redis.Client, cfg RedisConfig, co *coalesce.Coalescer) *RedisStore {
	if cfg.StaleMultiplier < 1 {
		cfg.StaleMultiplier = 1
	}
	return &RedisStore{
		client:          client,
		prefix:          cfg.Prefix,
		staleMultiplier: cfg.StaleMultiplier,
		co:              co,
	}
}

// key builds the final Redis key with prefix.
func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) stripPrefix(k string) string {
	if s.prefix == "" {
		return k
	}
	return strings.TrimPrefix(k, s.prefix+":")
}

// Get retrieves a value from Redis.
// On Redis error it returns (nil, false, err) so the caller can log and
// treat it as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context error: %w", err)
	}

	res, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		// Key does not exist – a clean miss.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	return res, true, nil
}

// Set stores a value with expiry ttl*staleMultiplier. If ttl <= 0 the
// key is deleted.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if ttl <= 0 {
		return s.client.Del(ctx, s.key(key)).Err()
	}

	expiry := ttl * time.Duration(s.staleMultiplier)
	if err := s.client.Set(ctx, s.key(key), value, expiry).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Del(ctx, s.key(key)).Err()
}

// Exists checks if a key exists without retrieving the value.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context error: %w", err)
	}
	count, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return count > 0, nil
}

// KeysMatching walks the keyspace with SCAN MATCH under the store
// prefix. Redis MATCH speaks the same glob dialect (`*`, `?`) the
// memory store does.
func (s *RedisStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, s.key(pattern), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, s.stripPrefix(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return keys, nil
}

// GetOrSet returns the cached value or produces it under the coalescer.
// No stale serving: a present key is served as-is, an absent key blocks
// on the coalesced factory.
func (s *RedisStore) GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration) ([]byte, error) {
	// A backend error is treated as a miss; the fetch below answers.
	value, ok, err := s.Get(ctx, key)
	if err == nil && ok {
		return value, nil
	}

	return s.co.Do(key, func() ([]byte, error) {
		value, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, nil
		}
		if err := s.Set(ctx, key, value, ttl); err != nil {
			return nil, err
		}
		return value, nil
	})
}

func (s *RedisStore) SupportsSWR() bool { return false }

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Ping(ctx).Err()
}
