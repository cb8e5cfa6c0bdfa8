package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	dataextract "github.com/ConvoSphere/DataExtract"
)

func stagedKey(fp string) string { return "staged:" + fp }

// ResultRef returns the store reference recorded on a completed job for
// the given fingerprint.
func ResultRef(fp string) string { return entryKey(fp) }

// FingerprintFromRef is the inverse of ResultRef. Returns false if ref
// is not a cache reference.
func FingerprintFromRef(ref string) (string, bool) {
	fp, ok := strings.CutPrefix(ref, "cache:")
	return fp, ok && fp != ""
}

// StageContent parks raw file bytes in the store so a worker on any
// instance can pick them up. Staged content is content-addressed, so
// concurrent identical submissions stage once and share.
func (c *Cache) StageContent(ctx context.Context, fp string, data []byte) error {
	if err := c.store.Set(ctx, stagedKey(fp), data, c.ttl); err != nil {
		return fmt.Errorf("cache: stage %s: %w", fp, err)
	}
	return nil
}

// StagedContent loads the staged bytes for a fingerprint. Returns
// ErrKeyNotFound if the staging TTL ran out before a worker got to the
// job.
func (c *Cache) StagedContent(ctx context.Context, fp string) ([]byte, error) {
	data, err := c.store.Get(ctx, stagedKey(fp))
	if err != nil {
		if errors.Is(err, dataextract.ErrKeyNotFound) {
			return nil, fmt.Errorf("cache: staged content %s: %w", fp, dataextract.ErrKeyNotFound)
		}
		return nil, fmt.Errorf("cache: staged content %s: %w", fp, err)
	}
	return data, nil
}

// Unstage drops staged bytes once the result is cached. Best-effort:
// the TTL collects anything missed here.
func (c *Cache) Unstage(ctx context.Context, fp string) {
	if err := c.store.Delete(ctx, stagedKey(fp)); err != nil {
		c.logger.Debug("unstage failed",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
	}
}
