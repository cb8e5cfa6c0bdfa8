// Package store defines the backing store adapter: a uniform contract over
// a durable key-value store supplying TTL'd get/set, atomic increment,
// compare-and-swap, prefix scans, and a notification channel.
//
// The backing store is the only mutable resource shared across process
// boundaries. All cross-process mutations go through Increment and
// CompareAndSwap; no implementation may require callers to hold a lock.
//
// Implementations map their own I/O failures to
// dataextract.ErrStoreUnavailable (detectable with errors.Is) so that
// callers can decide per-operation whether to degrade or fail fast.
package store

import (
	"context"
	"time"
)

// Subscription is a live feed of messages published on a topic.
type Subscription interface {
	// Messages returns the channel messages are delivered on. The channel
	// is closed when the subscription is closed or the store shuts down.
	Messages() <-chan []byte

	// Close tears down the subscription and releases its resources.
	Close() error
}

// Store is the backing store adapter contract.
type Store interface {
	// Get returns the value at key, or dataextract.ErrKeyNotFound if the
	// key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value at key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Increment atomically increments the integer counter at key and
	// returns the new count. The ttl is applied when the counter is
	// created (first increment); later increments leave it untouched.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// CompareAndSwap atomically replaces the value at key with next if
	// the current value equals expected. It reports whether the swap
	// happened. Two special forms:
	//
	//   - expected == nil: set next only if the key is absent (claim
	//     acquisition). Returns false if the key already exists.
	//   - next == nil: delete the key only if the current value equals
	//     expected (claim release).
	//
	// The ttl applies to the written value; zero means no expiry.
	CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error)

	// Keys returns all live keys starting with prefix. Used by the
	// reconciliation pass and stats; not on any hot path.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Publish delivers payload to all current subscribers of topic.
	// Delivery is best-effort: subscribers that joined late or missed a
	// message must fall back to polling.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe opens a subscription to topic.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the adapter.
	Close() error
}
