package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
)

// Claim marks fp as being computed by owner. It reports true when the
// claim was acquired and false when another worker already holds it.
// The marker carries a short TTL so a crashed claimant releases the
// fingerprint automatically; the next miss reclaims it.
func (c *Cache) Claim(ctx context.Context, fp, owner string) (bool, error) {
	ok, err := c.store.CompareAndSwap(ctx, computingKey(fp), nil, []byte(owner), c.claimTTL)
	if err != nil {
		return false, fmt.Errorf("cache: claim %s: %w", fp, err)
	}
	return ok, nil
}

// Renew re-arms the TTL on owner's live claim. The marker TTL exists so
// a crashed claimant stops suppressing duplicates; a healthy extraction
// renews at every checkpoint and keeps the claim for as long as it runs.
// Renewal reports false when the claim expired or changed hands — it
// never revives a lapsed claim.
func (c *Cache) Renew(ctx context.Context, fp, owner string) (bool, error) {
	ok, err := c.store.CompareAndSwap(ctx, computingKey(fp), []byte(owner), []byte(owner), c.claimTTL)
	if err != nil {
		return false, fmt.Errorf("cache: renew claim %s: %w", fp, err)
	}
	return ok, nil
}

// Release drops owner's claim on fp without publishing a result, used on
// failure paths so waiters fall back to recomputing. Releasing a claim
// someone else holds is a no-op.
func (c *Cache) Release(ctx context.Context, fp, owner string) {
	if _, err := c.store.CompareAndSwap(ctx, computingKey(fp), []byte(owner), nil, 0); err != nil {
		c.logger.Warn("claim release failed",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
	}
	// Wake waiters so they re-check instead of blocking out the TTL.
	if err := c.store.Publish(ctx, doneTopic(fp), []byte("released")); err != nil {
		c.logger.Debug("claim release notify failed",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
	}
}

// ReleaseWithResult drops owner's claim on fp and notifies subscribed
// waiters that the cache entry is now populated.
func (c *Cache) ReleaseWithResult(ctx context.Context, fp, owner string) {
	if _, err := c.store.CompareAndSwap(ctx, computingKey(fp), []byte(owner), nil, 0); err != nil {
		c.logger.Warn("claim release failed",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
	}
	if err := c.store.Publish(ctx, doneTopic(fp), []byte("completed")); err != nil {
		c.logger.Debug("claim completion notify failed",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
	}
}

// Claimed reports whether a computing marker currently exists for fp.
func (c *Cache) Claimed(ctx context.Context, fp string) (bool, error) {
	_, err := c.store.Get(ctx, computingKey(fp))
	if err != nil {
		if errors.Is(err, dataextract.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("cache: check claim %s: %w", fp, err)
	}
	return true, nil
}

// WaitForResult blocks until the entry for fp appears, the claim is
// released without a result, or the timeout elapses. It subscribes to
// the completion topic before checking the cache so a notification
// published in between cannot be missed, and polls as a fallback since
// store notifications are best-effort.
func (c *Cache) WaitForResult(ctx context.Context, fp string, timeout time.Duration) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub, err := c.store.Subscribe(ctx, doneTopic(fp))
	if err != nil {
		return nil, fmt.Errorf("cache: wait subscribe %s: %w", fp, err)
	}
	defer sub.Close()

	if entry := c.peek(ctx, fp); entry != nil {
		return entry, nil
	}

	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("cache: wait for %s: %w", fp, ctx.Err())

		case _, open := <-msgs:
			if !open {
				// Subscription torn down; poll until the deadline.
				msgs = nil
				continue
			}
			if entry := c.peek(ctx, fp); entry != nil {
				return entry, nil
			}
			// Claim released without a result: tell the caller to
			// recompute rather than waiting out the deadline.
			claimed, claimErr := c.Claimed(ctx, fp)
			if claimErr == nil && !claimed {
				return nil, dataextract.ErrKeyNotFound
			}

		case <-poll.C:
			if entry := c.peek(ctx, fp); entry != nil {
				return entry, nil
			}
			claimed, claimErr := c.Claimed(ctx, fp)
			if claimErr == nil && !claimed {
				return nil, dataextract.ErrKeyNotFound
			}
		}
	}
}
