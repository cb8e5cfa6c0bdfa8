package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/cache"
	"github.com/ConvoSphere/DataExtract/extractor"
	"github.com/ConvoSphere/DataExtract/id"
	"github.com/ConvoSphere/DataExtract/job"
)

// SubmitRequest describes one extraction submission.
type SubmitRequest struct {
	// Owner is the caller identity. It scopes rate limiting and
	// heartbeat ownership checks.
	Owner string

	// Filename and MimeType select the format adapter.
	Filename string
	MimeType string

	// Content is the raw file payload.
	Content []byte

	// Options is the extraction option bag. Nil means defaults.
	Options extractor.Options

	// Priority orders the job against other queued work. Zero value
	// means normal.
	Priority job.Priority

	// Timeout overrides the configured wall-clock budget when positive.
	Timeout time.Duration
}

// SubmitResult is the outcome of a submission: either an inline cached
// result (Cached non-nil, no job created) or a queued job with a rough
// completion estimate.
type SubmitResult struct {
	Job    *job.Job
	Cached *cache.Entry

	// EstimatedCompletion is a coarse, priority-based hint; it makes no
	// promise about actual queue depth.
	EstimatedCompletion *time.Time
}

// estimateCompletion returns the priority-based completion hint.
func estimateCompletion(p job.Priority, now time.Time) *time.Time {
	var wait time.Duration
	switch p {
	case job.PriorityHigh:
		wait = 5 * time.Minute
	case job.PriorityLow:
		wait = 30 * time.Minute
	default:
		wait = 15 * time.Minute
	}
	eta := now.Add(wait)
	return &eta
}

// Submit validates a request, consults the content cache, and either
// returns the cached result inline or queues a job. Cache hits are
// served before rate limiting and are never charged against the
// caller's budget.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("%w: empty content", dataextract.ErrValidation)
	}
	if e.cfg.MaxFileSize > 0 && int64(len(req.Content)) > e.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d",
			dataextract.ErrFileTooLarge, len(req.Content), e.cfg.MaxFileSize)
	}
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.extractors.Lookup(req.Filename, req.MimeType); err != nil {
		return nil, err
	}

	fp, err := cache.Fingerprint(req.Content, req.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dataextract.ErrValidation, err)
	}

	if entry := e.results.Lookup(ctx, fp); entry != nil {
		return &SubmitResult{Cached: entry}, nil
	}

	if err := e.limiter.Allow(ctx, req.Owner); err != nil {
		return nil, err
	}

	if err := e.results.StageContent(ctx, fp, req.Content); err != nil {
		return nil, err
	}

	j := job.New(req.Owner, req.Filename, fp, req.Options, req.Priority)
	j.Timeout = e.cfg.JobTimeout
	if req.Timeout > 0 {
		j.Timeout = req.Timeout
	}

	if err := e.registry.Submit(ctx, j); err != nil {
		return nil, err
	}
	e.pool.Enqueue(j)

	return &SubmitResult{
		Job:                 j,
		EstimatedCompletion: estimateCompletion(j.Priority, time.Now().UTC()),
	}, nil
}

// Status returns the current record for a job.
func (e *Engine) Status(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.registry.Get(ctx, jobID)
}

// Result resolves the extraction result for a completed job. It returns
// ErrJobNotFound for unknown jobs, an error for non-completed ones, and
// ErrKeyNotFound when the cached result has already expired.
func (e *Engine) Result(ctx context.Context, jobID id.JobID) (*cache.Entry, error) {
	j, err := e.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusCompleted {
		return nil, fmt.Errorf("engine: job %s is %s, not completed", jobID, j.Status)
	}

	fp, ok := cache.FingerprintFromRef(j.ResultRef)
	if !ok {
		return nil, fmt.Errorf("engine: job %s carries malformed result reference %q", jobID, j.ResultRef)
	}
	entry := e.results.Lookup(ctx, fp)
	if entry == nil {
		return nil, fmt.Errorf("engine: result for job %s: %w", jobID, dataextract.ErrKeyNotFound)
	}
	return entry, nil
}

// Cancel requests cancellation of a job. Queued jobs settle cancelled
// immediately; running jobs are flagged and stop at their next
// checkpoint. The returned bool reports whether the request was
// accepted (false when the job is already terminal).
func (e *Engine) Cancel(ctx context.Context, jobID id.JobID) (bool, error) {
	return e.registry.RequestCancel(ctx, jobID)
}

// Await blocks until the job reaches a terminal state, the timeout
// elapses, or ctx is cancelled. It subscribes to the job's notification
// topic before the initial read so the terminal transition cannot slip
// between check and wait, and polls as a safety net against dropped
// notifications.
func (e *Engine) Await(ctx context.Context, jobID id.JobID, timeout time.Duration) (*job.Job, error) {
	sub, err := e.registry.Watch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer sub.Close() //nolint:errcheck // best-effort teardown

	j, err := e.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return j, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("engine: await job %s: %w", jobID, dataextract.ErrTimeout)
		case _, ok := <-sub.Messages():
			if !ok {
				// Subscription torn down (store closing); fall back to
				// one final read.
				return e.registry.Get(ctx, jobID)
			}
			if j, err := e.registry.Get(ctx, jobID); err == nil && j.Status.Terminal() {
				return j, nil
			}
		case <-poll.C:
			j, err := e.registry.Get(ctx, jobID)
			if err != nil {
				if errors.Is(err, dataextract.ErrJobNotFound) {
					return nil, err
				}
				continue // transient store trouble; keep waiting
			}
			if j.Status.Terminal() {
				return j, nil
			}
		}
	}
}

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	Cache cache.Stats        `json:"cache"`
	Jobs  map[job.Status]int `json:"jobs"`
	Total int                `json:"total_jobs"`
}

// Stats reports cache counters and job counts by status.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	jobs, err := e.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[job.Status]int)
	for _, j := range jobs {
		counts[j.Status]++
	}
	return &Stats{
		Cache: e.results.Stats(),
		Jobs:  counts,
		Total: len(jobs),
	}, nil
}
