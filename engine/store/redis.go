package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareDeleteScript deletes key only if its value still equals the
// caller-supplied token, giving GetAndDeleteIf compare-and-delete
// semantics in a single round trip. This is the same pattern the Lock
// relies on to guarantee only the current owner can release.
const compareDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

// RedisStore is the broker-backed Store driver, grounded on the
// redis.Client wiring used by linkflow-go's execution orchestrator: a
// single shared client, operations mapped one-to-one onto Redis verbs, no
// additional indirection layer.
type RedisStore struct {
	client *redis.Client
	cmpDel *redis.Script
}

// NewRedisStore wraps an existing *redis.Client. The caller owns the
// client's lifecycle options (addr, pool size, TLS); RedisStore only adds
// the Store semantics on top.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, cmpDel: redis.NewScript(compareDeleteScript)}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) GetAndDeleteIf(ctx context.Context, key string, expectedValue []byte) (bool, error) {
	n, err := s.cmpDel.Run(ctx, s.client, []string{key}, expectedValue).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return s.client.HSet(ctx, key, field, value).Err()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	b, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) StreamAppend(ctx context.Context, key string, value []byte, maxLen int64) error {
	args := &redis.XAddArgs{Stream: key, Values: map[string]any{"v": value}}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}

func (s *RedisStore) StreamRange(ctx context.Context, key, cursor string, limit int64) ([][]byte, string, error) {
	start := cursor
	if start == "" {
		start = "-"
	} else {
		start = "(" + cursor
	}
	msgs, err := s.client.XRangeN(ctx, key, start, "+", limit).Result()
	if err != nil {
		return nil, cursor, err
	}
	out := make([][]byte, 0, len(msgs))
	next := cursor
	for _, m := range msgs {
		if v, ok := m.Values["v"]; ok {
			if s, ok := v.(string); ok {
				out = append(out, []byte(s))
			}
		}
		next = m.ID
	}
	return out, next, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) error {
	return s.client.SAdd(ctx, key, member).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key, member string) error {
	return s.client.SRem(ctx, key, member).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) DistributedSafe() bool { return true }

func (s *RedisStore) Close() error { return s.client.Close() }
