package dataextract

import "time"

// Config holds configuration for the extraction Service.
type Config struct {
	// Concurrency is the maximum number of jobs extracted concurrently.
	// At most this many jobs are in running state per pool instance.
	Concurrency int

	// PollInterval is how often idle workers re-check for queued jobs
	// when no submission notification arrives.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs renew their heartbeat.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long a running job may go without a
	// heartbeat before the reconciliation pass re-queues it.
	StaleJobThreshold time.Duration

	// MaxRequeues bounds how often a stale job is re-queued before it
	// is failed with a WorkerLost error.
	MaxRequeues int

	// JobTimeout is the default wall-clock budget per job. A job that
	// exceeds it is failed with a Timeout error.
	JobTimeout time.Duration

	// TimeoutGrace is how long after the budget expires the dispatcher
	// waits for the worker to checkpoint before force-failing the job.
	TimeoutGrace time.Duration

	// CacheTTL is the time-to-live for cached extraction results.
	CacheTTL time.Duration

	// CacheLocalSize bounds the in-process cache tier (entries).
	CacheLocalSize int

	// ClaimTTL is the lifetime of a computing claim marker. It bounds
	// how long a crashed claimant can block duplicate suppression.
	ClaimTTL time.Duration

	// RateLimit is the default accepted submissions per window per
	// identity. Per-identity overrides are configured on the limiter.
	RateLimit int

	// RateWindow is the sliding-window length for rate limiting.
	RateWindow time.Duration

	// JobRetention is how long terminal jobs are kept before eviction.
	JobRetention time.Duration

	// MaxFileSize rejects submissions larger than this many bytes.
	MaxFileSize int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
		MaxRequeues:       3,
		JobTimeout:        5 * time.Minute,
		TimeoutGrace:      10 * time.Second,
		CacheTTL:          time.Hour,
		CacheLocalSize:    1024,
		ClaimTTL:          2 * time.Minute,
		RateLimit:         100,
		RateWindow:        time.Minute,
		JobRetention:      24 * time.Hour,
		MaxFileSize:       100 << 20,
	}
}
