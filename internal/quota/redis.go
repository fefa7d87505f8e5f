package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowTTL outlives a day in any time zone so yesterday's window is never
// read again before it expires.
const windowTTL = 48 * time.Hour

// RedisStore shares counters across processes and tabs. INCR is atomic, so
// concurrent increments never lose a call.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "slidegen:quota"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreWithURL connects using a redis:// URL.
func NewRedisStoreWithURL(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), prefix), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) countKey(key, day string) string {
	return s.prefix + ":" + day + ":" + key
}

func (s *RedisStore) kindsKey(key, day string) string {
	return s.countKey(key, day) + ":kinds"
}

func (s *RedisStore) Count(ctx context.Context, key, day string) (int, error) {
	n, err := s.client.Get(ctx, s.countKey(key, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) Increment(ctx context.Context, key, day, kind string) (int, error) {
	ck := s.countKey(key, day)
	kk := s.kindsKey(key, day)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, ck)
	pipe.HIncrBy(ctx, kk, kind, 1)
	pipe.Expire(ctx, ck, windowTTL)
	pipe.Expire(ctx, kk, windowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

// Kinds returns the per-workflow breakdown for one window.
func (s *RedisStore) Kinds(ctx context.Context, key, day string) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, s.kindsKey(key, day)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		var n int
		if _, err := fmt.Sscan(v, &n); err == nil {
			out[k] = n
		}
	}
	return out, nil
}
