// Package worker provides the extraction execution engine — an Executor
// that runs one job through middleware and the format adapter, and a
// Pool that manages the concurrent goroutines drawing from the priority
// queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/cache"
	"github.com/ConvoSphere/DataExtract/extractor"
	"github.com/ConvoSphere/DataExtract/id"
	"github.com/ConvoSphere/DataExtract/job"
	"github.com/ConvoSphere/DataExtract/middleware"
)

// Executor runs a single job: claim the record, dedup against the
// content cache, extract with cooperative checkpoints, and settle the
// record with a classified outcome. Errors never propagate past
// Execute's classification — a broken extraction fails one job, not the
// pool.
type Executor struct {
	registry   *job.Registry
	cache      *cache.Cache
	extractors *extractor.Registry
	workerID   id.WorkerID
	mw         middleware.Middleware
	logger     *slog.Logger

	// waitBudget bounds how long a job with no wall-clock budget of its
	// own rides on a peer's in-flight computation before giving up.
	waitBudget time.Duration
	// grace is how long past the wall-clock budget an uncooperative
	// extraction is tolerated before the job is failed regardless.
	grace time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithWaitBudget sets the maximum time to wait on a peer's computation
// claim.
func WithWaitBudget(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.waitBudget = d }
}

// WithGrace sets the tolerance past the wall-clock budget before an
// uncooperative extraction is abandoned.
func WithGrace(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.grace = d }
}

// NewExecutor creates an Executor with a fresh worker identity.
func NewExecutor(
	registry *job.Registry,
	results *cache.Cache,
	extractors *extractor.Registry,
	logger *slog.Logger,
	mws []middleware.Middleware,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		registry:   registry,
		cache:      results,
		extractors: extractors,
		workerID:   id.NewWorkerID(),
		mw:         middleware.Chain(mws...),
		logger:     logger,
		waitBudget: 2 * time.Minute,
		grace:      dataextract.DefaultConfig().TimeoutGrace,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// WorkerID returns the executor's worker identity, used for heartbeat
// leases and claim ownership.
func (e *Executor) WorkerID() id.WorkerID { return e.workerID }

// Execute claims and runs one dequeued job to a terminal state. The
// returned error reports infrastructure trouble only; extraction
// failures are recorded on the job and return nil.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	claimed, err := e.registry.MarkRunning(ctx, j.ID, e.workerID)
	if err != nil {
		if errors.Is(err, dataextract.ErrJobNotFound) {
			return nil // evicted while queued
		}
		return err
	}
	if claimed.Status != job.StatusRunning || claimed.WorkerID.String() != e.workerID.String() {
		// Cancelled while queued, or a peer got there first.
		return nil
	}
	j = claimed

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	terminal := func(ctx context.Context) error { return e.run(ctx, j) }

	done := make(chan error, 1)
	go func() { done <- e.mw(ctx, j, terminal) }()

	var execErr error
	if j.Timeout > 0 {
		// The Timeout middleware cancels the context at the budget; the
		// grace timer catches an adapter that ignores cancellation. The
		// abandoned goroutine's late writes land on a settled record
		// and drop as no-ops.
		select {
		case execErr = <-done:
		case <-time.After(j.Timeout + e.grace):
			cancel()
			execErr = fmt.Errorf("%w: no checkpoint within grace period", dataextract.ErrTimeout)
		}
	} else {
		execErr = <-done
	}

	return e.settle(ctx, j, execErr)
}

// settle maps the execution outcome onto the job record.
func (e *Executor) settle(ctx context.Context, j *job.Job, execErr error) error {
	// The record write must go through even when the execution context
	// was cancelled by timeout or shutdown.
	ctx = context.WithoutCancel(ctx)

	switch {
	case execErr == nil:
		return nil // run settled the record itself
	case errors.Is(execErr, dataextract.ErrCancelled):
		return e.registry.MarkCancelled(ctx, j.ID)
	case errors.Is(execErr, context.Canceled):
		// Shutdown cut the run short — not a cancel request and not an
		// extraction fault. Leave the record running with its lease; the
		// reaper on a surviving instance re-queues it once the heartbeat
		// goes stale.
		e.logger.Info("job interrupted, leaving for lease recovery",
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", e.workerID.String()),
		)
		return nil
	case errors.Is(execErr, dataextract.ErrTimeout), errors.Is(execErr, context.DeadlineExceeded):
		return e.registry.Fail(ctx, j.ID, job.KindTimeout, execErr.Error())
	case errors.Is(execErr, dataextract.ErrStoreUnavailable):
		return e.registry.Fail(ctx, j.ID, job.KindStoreUnavailable, execErr.Error())
	default:
		return e.registry.Fail(ctx, j.ID, job.KindExtraction, execErr.Error())
	}
}

// run is the terminal handler under the middleware chain. A nil return
// means the job record was completed; any error is classified by
// settle.
func (e *Executor) run(ctx context.Context, j *job.Job) error {
	fp := j.Fingerprint
	owner := e.workerID.String()

	// A concurrent duplicate may have finished while this job sat
	// queued.
	if hit := e.cache.Lookup(ctx, fp); hit != nil {
		return e.registry.Complete(ctx, j.ID, cache.ResultRef(fp))
	}

	acquired, err := e.cache.Claim(ctx, fp, owner)
	if err != nil {
		return err
	}
	if !acquired {
		// A peer is computing the same content. Ride on its result
		// instead of duplicating the work, waiting as long as this job
		// would have been allowed to compute itself.
		wait := e.waitBudget
		if j.Timeout > 0 {
			wait = j.Timeout
		}
		_, waitErr := e.cache.WaitForResult(ctx, fp, wait)
		switch {
		case waitErr == nil:
			return e.registry.Complete(ctx, j.ID, cache.ResultRef(fp))
		case errors.Is(waitErr, dataextract.ErrKeyNotFound):
			// The peer gave up without producing a result; take over.
			if acquired, err = e.cache.Claim(ctx, fp, owner); err != nil {
				return err
			}
			if !acquired {
				return fmt.Errorf("fingerprint %s: %w", fp, dataextract.ErrClaimHeld)
			}
		default:
			return waitErr
		}
	}

	released := false
	defer func() {
		if !released {
			// Every exit path gives the claim back so the next miss can
			// recompute, even when ctx is already dead.
			e.cache.Release(context.WithoutCancel(ctx), fp, owner)
		}
	}()

	data, err := e.cache.StagedContent(ctx, fp)
	if err != nil {
		return err
	}

	ext, err := e.extractors.Lookup(j.Filename, "")
	if err != nil {
		return err
	}

	cp := e.checkpoint(ctx, j)
	result, err := ext.Extract(ctx, j.Filename, data, j.Options, cp)
	if err != nil {
		return err
	}

	if _, err := e.cache.Store(ctx, fp, result, int64(len(data))); err != nil {
		return err
	}
	e.cache.ReleaseWithResult(ctx, fp, owner)
	released = true
	e.cache.Unstage(context.WithoutCancel(ctx), fp)

	return e.registry.Complete(ctx, j.ID, cache.ResultRef(fp))
}

// checkpoint builds the CheckpointFunc handed to the format adapter:
// renew the computation claim, persist progress, then re-read the
// sticky cancel flag. The adapter stops at the next checkpoint after a
// cancel request — that bound is the maximum cancel latency.
func (e *Executor) checkpoint(ctx context.Context, j *job.Job) extractor.CheckpointFunc {
	return func(percent int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		// The claim TTL only covers crashed claimants; a live extraction
		// re-arms it here so a long run keeps suppressing duplicates.
		if ok, err := e.cache.Renew(ctx, j.Fingerprint, e.workerID.String()); err != nil || !ok {
			e.logger.Debug("claim renewal failed",
				slog.String("job_id", j.ID.String()),
				slog.String("fingerprint", j.Fingerprint),
			)
		}
		if err := e.registry.UpdateProgress(ctx, j.ID, percent); err != nil {
			e.logger.Debug("progress write failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		rec, err := e.registry.Get(ctx, j.ID)
		if err != nil {
			return nil // record trouble is not a reason to stop extracting
		}
		if rec.CancelRequested {
			return dataextract.ErrCancelled
		}
		return nil
	}
}
