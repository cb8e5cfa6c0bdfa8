// Package memory implements store.Store fully in process. Safe for
// concurrent access. Intended for unit testing, development, and as the
// local fast path when no networked store is configured.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// subscriberBuffer is the per-subscription channel depth. Publishing to a
// full subscriber drops the message; waiters poll as a fallback.
const subscriberBuffer = 16

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	subs    map[string]map[*subscription]struct{}
	closed  bool

	stopJanitor chan struct{}
}

// New returns an empty Store with a background janitor evicting expired
// entries once per second.
func New() *Store {
	s := &Store{
		entries:     make(map[string]entry),
		subs:        make(map[string]map[*subscription]struct{}),
		stopJanitor: make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopJanitor:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// get returns the live entry at key, lazily evicting it if expired.
// Caller must hold s.mu.
func (s *Store) get(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

// Get returns the value at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, dataextract.ErrStoreClosed
	}

	e, ok := s.get(key)
	if !ok {
		return nil, dataextract.ErrKeyNotFound
	}

	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

// Set writes value at key with the given ttl.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dataextract.ErrStoreClosed
	}

	s.entries[key] = newEntry(value, ttl)
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dataextract.ErrStoreClosed
	}

	delete(s.entries, key)
	return nil
}

// Increment atomically increments the counter at key.
func (s *Store) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, dataextract.ErrStoreClosed
	}

	var count int64
	if e, ok := s.get(key); ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("memory: increment non-integer value at %q", key)
		}
		count = parsed + 1
		// Keep the existing expiry; ttl only applies on creation.
		e.value = []byte(strconv.FormatInt(count, 10))
		s.entries[key] = e
		return count, nil
	}

	count = 1
	s.entries[key] = newEntry([]byte("1"), ttl)
	return count, nil
}

// CompareAndSwap atomically replaces the value at key if it matches
// expected. See store.Store for the nil-expected and nil-next forms.
func (s *Store) CompareAndSwap(_ context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, dataextract.ErrStoreClosed
	}

	cur, exists := s.get(key)

	if expected == nil {
		if exists {
			return false, nil
		}
		s.entries[key] = newEntry(next, ttl)
		return true, nil
	}

	if !exists || string(cur.value) != string(expected) {
		return false, nil
	}

	if next == nil {
		delete(s.entries, key)
		return true, nil
	}

	s.entries[key] = newEntry(next, ttl)
	return true, nil
}

// Keys returns all live keys starting with prefix.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, dataextract.ErrStoreClosed
	}

	now := time.Now()
	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if e.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Ping always succeeds for an open memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dataextract.ErrStoreClosed
	}
	return nil
}

// Close stops the janitor and closes all subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopJanitor)

	for _, set := range s.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	s.subs = make(map[string]map[*subscription]struct{})
	return nil
}

func newEntry(value []byte, ttl time.Duration) entry {
	cp := make([]byte, len(value))
	copy(cp, value)

	e := entry{value: cp}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}
