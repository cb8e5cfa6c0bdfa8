// Package ratelimit implements the per-identity sliding-window request
// limiter. Counts live in the backing store under
// ratelimit:<identity>:<bucket> keys and are maintained with atomic
// increments, so enforcement is consistent across pool instances.
//
// When the store is unreachable the limiter fails open: it degrades to a
// per-identity in-process token bucket approximating the configured
// limit, preserving availability at the cost of global accuracy.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/store"
)

// counterKey builds the window-bucket counter key for an identity.
func counterKey(identity string, bucket int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", identity, bucket)
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithLimit overrides the accepted requests per window for one identity.
func WithLimit(identity string, limit int) Option {
	return func(l *Limiter) { l.overrides[identity] = limit }
}

// WithLogger sets a custom logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// Limiter is the sliding-window rate limiter. Safe for concurrent use.
type Limiter struct {
	store        store.Store
	window       time.Duration
	defaultLimit int
	overrides    map[string]int
	logger       *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	// mu guards overrides and the fallback buckets. Fallback buckets
	// are created lazily per identity on store outage; private to this
	// process and best-effort only.
	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

// New creates a Limiter enforcing defaultLimit requests per window.
func New(st store.Store, window time.Duration, defaultLimit int, opts ...Option) *Limiter {
	l := &Limiter{
		store:        st,
		window:       window,
		defaultLimit: defaultLimit,
		overrides:    make(map[string]int),
		logger:       slog.Default(),
		now:          time.Now,
		fallback:     make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Limit returns the configured requests-per-window for identity.
func (l *Limiter) Limit(identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if override, ok := l.overrides[identity]; ok {
		return override
	}
	return l.defaultLimit
}

// SetLimit installs a per-identity override at runtime.
func (l *Limiter) SetLimit(identity string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[identity] = limit
	delete(l.fallback, identity) // rebuilt with the new rate on demand
}

// Allow records one request for identity and reports whether it is
// within budget. Rejected requests return dataextract.ErrRateLimited;
// the counter is still charged so bursts cannot cycle the window.
func (l *Limiter) Allow(ctx context.Context, identity string) error {
	limit := l.Limit(identity)
	if limit <= 0 {
		return fmt.Errorf("%w: identity %q has no budget", dataextract.ErrRateLimited, identity)
	}

	now := l.now()
	windowMillis := l.window.Milliseconds()
	bucket := now.UnixMilli() / windowMillis

	// Counters must outlive their own window by one more so the next
	// window can weigh them in.
	current, err := l.store.Increment(ctx, counterKey(identity, bucket), 2*l.window)
	if err != nil {
		if errors.Is(err, dataextract.ErrStoreUnavailable) {
			return l.allowFallback(identity, limit)
		}
		return fmt.Errorf("ratelimit: %w", err)
	}

	// Weigh the previous bucket by how much of it still overlaps the
	// sliding window ending now.
	elapsed := now.UnixMilli() % windowMillis
	overlap := float64(windowMillis-elapsed) / float64(windowMillis)
	previous := l.previousCount(ctx, identity, bucket-1)

	total := float64(current) + float64(previous)*overlap
	if total > float64(limit) {
		return fmt.Errorf("%w: identity %q at %d/%d per %s",
			dataextract.ErrRateLimited, identity, current, limit, l.window)
	}
	return nil
}

// previousCount reads the prior window bucket, best-effort.
func (l *Limiter) previousCount(ctx context.Context, identity string, bucket int64) int64 {
	raw, err := l.store.Get(ctx, counterKey(identity, bucket))
	if err != nil {
		return 0
	}
	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return count
}

// allowFallback admits the request through the local token bucket for
// identity, creating it on first use. Fail-open posture: the store being
// down must not take submissions down with it.
func (l *Limiter) allowFallback(identity string, limit int) error {
	l.mu.Lock()
	lim, ok := l.fallback[identity]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit)/l.window.Seconds()), limit)
		l.fallback[identity] = lim
	}
	l.mu.Unlock()

	l.logger.Warn("rate limiter degraded to local approximation",
		slog.String("identity", identity),
	)

	if !lim.Allow() {
		return fmt.Errorf("%w: identity %q (local approximation)",
			dataextract.ErrRateLimited, identity)
	}
	return nil
}
