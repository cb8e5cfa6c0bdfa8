// Package engine wires all DataExtract subsystems together: backing
// store, content cache, rate limiter, job registry, middleware chain,
// and worker pool. It exposes the submission, status, cancellation, and
// lifecycle operations the API layer builds on.
//
// This package exists to break the import cycle: the root dataextract
// package defines Entity and Config (imported by job, cache, etc.) so
// it cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/cache"
	"github.com/ConvoSphere/DataExtract/extractor"
	"github.com/ConvoSphere/DataExtract/id"
	"github.com/ConvoSphere/DataExtract/job"
	mw "github.com/ConvoSphere/DataExtract/middleware"
	"github.com/ConvoSphere/DataExtract/ratelimit"
	"github.com/ConvoSphere/DataExtract/store"
	"github.com/ConvoSphere/DataExtract/worker"
)

// Engine is the extraction service facade.
type Engine struct {
	cfg    dataextract.Config
	store  store.Store
	logger *slog.Logger

	registry   *job.Registry
	results    *cache.Cache
	limiter    *ratelimit.Limiter
	extractors *extractor.Registry
	pool       *worker.Pool
	sweeper    *cronlib.Cron

	mws          []mw.Middleware
	extraFormats []extractor.Extractor
	callerLimits map[string]int

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the backing store. Build fails without one: every
// subsystem persists through it.
func WithStore(st store.Store) Option {
	return func(e *Engine) { e.store = st }
}

// WithLogger sets a custom logger.
func WithLogger(lg *slog.Logger) Option {
	return func(e *Engine) { e.logger = lg }
}

// WithMiddleware appends middleware to the execution chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithExtractor registers an additional format adapter.
func WithExtractor(x extractor.Extractor) Option {
	return func(e *Engine) { e.extraFormats = append(e.extraFormats, x) }
}

// WithCallerLimit overrides the rate limit for one caller identity.
func WithCallerLimit(identity string, limit int) Option {
	return func(e *Engine) { e.callerLimits[identity] = limit }
}

// WithTracerProvider sets a custom OTel TracerProvider. If not set, the
// global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. If not set, the
// global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// Build creates an Engine from a configuration and a backing store.
func Build(cfg dataextract.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:          cfg,
		logger:       slog.Default(),
		callerLimits: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, dataextract.ErrNoStore
	}

	e.registry = job.NewRegistry(e.store,
		job.WithLogger(e.logger),
		job.WithRetention(cfg.JobRetention),
	)
	e.results = cache.New(e.store,
		cache.WithTTL(cfg.CacheTTL),
		cache.WithClaimTTL(cfg.ClaimTTL),
		cache.WithLocalSize(cfg.CacheLocalSize),
		cache.WithLogger(e.logger),
	)

	limiterOpts := []ratelimit.Option{ratelimit.WithLogger(e.logger)}
	for identity, limit := range e.callerLimits {
		limiterOpts = append(limiterOpts, ratelimit.WithLimit(identity, limit))
	}
	e.limiter = ratelimit.New(e.store, cfg.RateWindow, cfg.RateLimit, limiterOpts...)

	formats := append([]extractor.Extractor{
		extractor.NewTextExtractor(),
		extractor.NewCSVExtractor(),
		extractor.NewXLSXExtractor(),
	}, e.extraFormats...)
	e.extractors = extractor.NewRegistry(formats...)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer("github.com/ConvoSphere/DataExtract"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter("github.com/ConvoSphere/DataExtract"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → timeout.
	allMws := append([]mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
		mw.Timeout(e.logger),
	}, e.mws...)

	executor := worker.NewExecutor(e.registry, e.results, e.extractors, e.logger, allMws,
		worker.WithGrace(cfg.TimeoutGrace),
	)
	e.pool = worker.NewPool(e.registry, e.store, executor, e.logger,
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleThreshold(cfg.StaleJobThreshold),
		worker.WithMaxRequeues(cfg.MaxRequeues),
	)

	// Retention sweeper: the store's TTLs do the real eviction; the
	// sweeper clears terminal records whose TTL was lost (e.g. after a
	// backup restore).
	e.sweeper = cronlib.New()
	if _, err := e.sweeper.AddFunc("@hourly", e.sweepExpired); err != nil {
		return nil, fmt.Errorf("engine: schedule retention sweep: %w", err)
	}

	return e, nil
}

// Start launches the worker pool and the retention sweeper.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("engine: start pool: %w", err)
	}
	e.sweeper.Start()
	return nil
}

// Stop shuts the engine down, waiting up to the configured shutdown
// timeout for in-flight extractions.
func (e *Engine) Stop(ctx context.Context) error {
	sweepDone := e.sweeper.Stop()
	select {
	case <-sweepDone.Done():
	case <-ctx.Done():
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}
	return e.pool.Stop(ctx)
}

// Health reports whether the backing store is reachable.
func (e *Engine) Health(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("engine: %w: %w", dataextract.ErrStoreUnavailable, err)
	}
	return nil
}

// sweepExpired deletes terminal records that outlived the retention
// window.
func (e *Engine) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	jobs, err := e.registry.List(ctx)
	if err != nil {
		e.logger.Warn("retention sweep failed", slog.String("error", err.Error()))
		return
	}

	cutoff := time.Now().Add(-e.cfg.JobRetention)
	swept := 0
	for _, j := range jobs {
		if !j.Status.Terminal() || j.CompletedAt == nil || j.CompletedAt.After(cutoff) {
			continue
		}
		if err := e.registry.Delete(ctx, j.ID); err != nil {
			e.logger.Warn("retention delete failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		swept++
	}
	if swept > 0 {
		e.logger.Info("retention sweep evicted jobs", slog.Int("count", swept))
	}
}

// Registry exposes the job registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Cache exposes the content cache.
func (e *Engine) Cache() *cache.Cache { return e.results }

// Limiter exposes the rate limiter so the API layer can install
// per-key overrides resolved at authentication time.
func (e *Engine) Limiter() *ratelimit.Limiter { return e.limiter }

// WorkerID returns the pool's worker identity.
func (e *Engine) WorkerID() id.WorkerID { return e.pool.WorkerID() }
