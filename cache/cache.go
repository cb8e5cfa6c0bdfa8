// Package cache implements the content-addressed result cache: a bounded
// in-process tier in front of the networked backing store, plus the
// claim-marker protocol that guarantees at most one concurrent
// computation per fingerprint.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/extractor"
	"github.com/ConvoSphere/DataExtract/store"
)

// Key space used by the cache (see the persisted state layout).
func entryKey(fp string) string     { return "cache:" + fp }
func computingKey(fp string) string { return "computing:" + fp }
func hitsKey(fp string) string      { return "cachehits:" + fp }

// Topic carrying completion notifications for one fingerprint.
func doneTopic(fp string) string { return "cache:" + fp }

// Entry is one immutable cached extraction result.
type Entry struct {
	Fingerprint string            `json:"fingerprint"`
	Result      *extractor.Result `json:"result"`
	CreatedAt   time.Time         `json:"created_at"`
	Size        int64             `json:"size"`
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	LocalSize int   `json:"local_size"`
}

// Option configures the Cache.
type Option func(*Cache)

// WithTTL sets the networked-tier TTL for cached results.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClaimTTL sets the computing-marker lifetime. It bounds how long a
// crashed claimant can suppress duplicate work.
func WithClaimTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.claimTTL = ttl }
}

// WithLocalSize bounds the in-process tier (entries).
func WithLocalSize(n int) Option {
	return func(c *Cache) { c.local = newLRUTier(n) }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache is the two-tier content-addressed result cache. Safe for
// concurrent use. The local tier is private to this process; only the
// store tier is shared across pool instances.
type Cache struct {
	store    store.Store
	local    *lruTier
	ttl      time.Duration
	claimTTL time.Duration
	logger   *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// New creates a Cache over the given store.
func New(st store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:    st,
		local:    newLRUTier(1024),
		ttl:      time.Hour,
		claimTTL: 2 * time.Minute,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Lookup returns the cached entry for fp, or nil on a miss. The local
// tier is consulted first; a networked hit populates it. Store outages
// degrade to a miss — the caller recomputes rather than failing.
func (c *Cache) Lookup(ctx context.Context, fp string) *Entry {
	if entry, ok := c.local.get(fp); ok {
		c.hits.Add(1)
		c.bumpHitCount(ctx, fp)
		return entry
	}

	raw, err := c.store.Get(ctx, entryKey(fp))
	if err != nil {
		if !errors.Is(err, dataextract.ErrKeyNotFound) {
			c.logger.Warn("cache store lookup degraded to miss",
				slog.String("fingerprint", fp),
				slog.String("error", err.Error()),
			)
		}
		c.misses.Add(1)
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
		c.misses.Add(1)
		return nil
	}

	c.local.put(fp, &entry)
	c.hits.Add(1)
	c.bumpHitCount(ctx, fp)
	return &entry
}

// peek checks both tiers without touching the hit/miss counters or the
// per-entry hit tracker. The wait loop polls through it so blocked
// waiters do not skew Stats.
func (c *Cache) peek(ctx context.Context, fp string) *Entry {
	if entry, ok := c.local.get(fp); ok {
		return entry
	}
	raw, err := c.store.Get(ctx, entryKey(fp))
	if err != nil {
		return nil
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil
	}
	c.local.put(fp, &entry)
	return &entry
}

// Store writes the entry to both tiers. Entries are immutable once
// written; a recomputation overwrites wholesale.
func (c *Cache) Store(ctx context.Context, fp string, result *extractor.Result, size int64) (*Entry, error) {
	entry := &Entry{
		Fingerprint: fp,
		Result:      result,
		CreatedAt:   time.Now().UTC(),
		Size:        size,
	}

	c.local.put(fp, entry)
	c.sets.Add(1)

	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("cache: marshal entry: %w", err)
	}
	if err := c.store.Set(ctx, entryKey(fp), raw, c.ttl); err != nil {
		return entry, fmt.Errorf("cache: store entry: %w", err)
	}
	return entry, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		LocalSize: c.local.len(),
	}
}

// bumpHitCount tracks per-entry hits in the store, best-effort. The
// entry itself stays immutable.
func (c *Cache) bumpHitCount(ctx context.Context, fp string) {
	if _, err := c.store.Increment(ctx, hitsKey(fp), c.ttl); err != nil {
		c.logger.Debug("cache hit counter increment failed",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
	}
}
