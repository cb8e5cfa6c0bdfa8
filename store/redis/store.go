// Package redis implements store.Store on Redis, the networked tier for
// production deployments. Counters use INCR with first-touch expiry,
// compare-and-swap runs as Lua scripts, and notifications ride Redis
// Pub/Sub.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// keyPrefix namespaces all DataExtract keys and channels to avoid
// collisions with other users of the same Redis instance.
const keyPrefix = "dataextract:"

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// incrScript increments KEYS[1] and applies ARGV[1] ms expiry only when
// the counter was just created, so a window's TTL is never extended by
// later requests.
var incrScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 and tonumber(ARGV[1]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// casSwapScript replaces KEYS[1] with ARGV[2] iff its current value is
// ARGV[1]. ARGV[3] is the new value's expiry in ms (0 = none).
var casSwapScript = goredis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false or cur ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// casDeleteScript deletes KEYS[1] iff its current value is ARGV[1].
var casDeleteScript = goredis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false or cur ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// Get returns the value at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, dataextract.ErrKeyNotFound
		}
		return nil, unavailable("get", err)
	}
	return val, nil
}

// Set writes value at key with the given ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Increment atomically increments the counter at key, applying ttl on
// first touch.
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrScript.Run(ctx, s.client, []string{keyPrefix + key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("increment", err)
	}
	return count, nil
}

// CompareAndSwap atomically replaces the value at key if it matches
// expected. See store.Store for the nil-expected and nil-next forms.
func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	pk := keyPrefix + key

	if expected == nil {
		// Set-if-absent: SET NX carries the claim-acquisition semantics.
		ok, err := s.client.SetNX(ctx, pk, next, ttl).Result()
		if err != nil {
			return false, unavailable("cas setnx", err)
		}
		return ok, nil
	}

	if next == nil {
		res, err := casDeleteScript.Run(ctx, s.client, []string{pk}, string(expected)).Int64()
		if err != nil {
			return false, unavailable("cas delete", err)
		}
		return res == 1, nil
	}

	res, err := casSwapScript.Run(ctx, s.client, []string{pk}, string(expected), string(next), ttl.Milliseconds()).Int64()
	if err != nil {
		return false, unavailable("cas swap", err)
	}
	return res == 1, nil
}

// Keys returns all live keys starting with prefix, via SCAN.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, keyPrefix+prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("keys scan", err)
	}
	return keys, nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// unavailable maps a Redis I/O failure onto the StoreUnavailable
// condition so callers can degrade with errors.Is.
func unavailable(op string, err error) error {
	return fmt.Errorf("dataextract/redis: %s: %w: %w", op, dataextract.ErrStoreUnavailable, err)
}
