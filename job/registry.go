package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/id"
	"github.com/ConvoSphere/DataExtract/store"
)

const (
	// keyPrefix namespaces job records in the backing store.
	keyPrefix = "job:"

	// TopicSubmissions carries job IDs as they become runnable, both on
	// first submission and on requeue after a lost worker.
	TopicSubmissions = "jobs"

	// casRetries bounds optimistic-concurrency retries on one record.
	casRetries = 5
)

// Key returns the store key holding the record for jobID.
func Key(jobID id.JobID) string { return keyPrefix + jobID.String() }

// Topic returns the pub/sub topic carrying terminal-state notifications
// for jobID.
func Topic(jobID id.JobID) string { return "job:" + jobID.String() }

// Option configures the Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(lg *slog.Logger) Option {
	return func(r *Registry) { r.logger = lg }
}

// WithRetention sets how long terminal records stay readable before the
// store evicts them.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

// Registry owns all job-record writes. Every transition goes through a
// compare-and-swap against the record's prior bytes, so concurrent
// writers (a cancelling client racing a completing worker, two reapers)
// cannot corrupt a record: whichever transition lands first wins and the
// loser re-reads and degrades to a no-op.
type Registry struct {
	store     store.Store
	retention time.Duration
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry creates a Registry over st.
func NewRegistry(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:     st,
		retention: dataextract.DefaultConfig().JobRetention,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Submit persists a new queued job and announces it on TopicSubmissions.
func (r *Registry) Submit(ctx context.Context, j *Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("job: marshal %s: %w", j.ID, err)
	}

	// Active records carry no TTL; retention starts at the terminal
	// transition.
	swapped, err := r.store.CompareAndSwap(ctx, Key(j.ID), nil, raw, 0)
	if err != nil {
		return fmt.Errorf("job: submit %s: %w", j.ID, err)
	}
	if !swapped {
		return fmt.Errorf("job: submit %s: %w", j.ID, dataextract.ErrJobAlreadyExists)
	}

	r.announce(ctx, j.ID)
	return nil
}

// Get retrieves the record for jobID.
func (r *Registry) Get(ctx context.Context, jobID id.JobID) (*Job, error) {
	raw, err := r.store.Get(ctx, Key(jobID))
	if err != nil {
		if errors.Is(err, dataextract.ErrKeyNotFound) {
			return nil, fmt.Errorf("job: %s: %w", jobID, dataextract.ErrJobNotFound)
		}
		return nil, fmt.Errorf("job: get %s: %w", jobID, err)
	}

	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("job: unmarshal %s: %w", jobID, err)
	}
	return &j, nil
}

// List returns all live job records. Records that expire mid-scan are
// skipped.
func (r *Registry) List(ctx context.Context) ([]*Job, error) {
	keys, err := r.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}

	jobs := make([]*Job, 0, len(keys))
	for _, key := range keys {
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, dataextract.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("job: list: %w", err)
		}
		var j Job
		if err := json.Unmarshal(raw, &j); err != nil {
			r.logger.Warn("skipping undecodable job record", slog.String("key", key))
			continue
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

// ListByStatus returns all live records in the given state.
func (r *Registry) ListByStatus(ctx context.Context, status Status) ([]*Job, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, j := range all {
		if j.Status == status {
			filtered = append(filtered, j)
		}
	}
	return filtered, nil
}

// Stale returns running jobs whose heartbeat is older than threshold,
// meaning their worker has likely died.
func (r *Registry) Stale(ctx context.Context, threshold time.Duration) ([]*Job, error) {
	running, err := r.ListByStatus(ctx, StatusRunning)
	if err != nil {
		return nil, err
	}
	cutoff := r.now().Add(-threshold)
	stale := running[:0]
	for _, j := range running {
		if j.HeartbeatAt == nil || j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// Delete removes a record outright. Normal eviction happens via the
// retention TTL; Delete exists for administrative cleanup.
func (r *Registry) Delete(ctx context.Context, jobID id.JobID) error {
	if err := r.store.Delete(ctx, Key(jobID)); err != nil {
		return fmt.Errorf("job: delete %s: %w", jobID, err)
	}
	return nil
}

// Watch subscribes to terminal-state notifications for jobID. The
// caller must Close the subscription.
func (r *Registry) Watch(ctx context.Context, jobID id.JobID) (store.Subscription, error) {
	sub, err := r.store.Subscribe(ctx, Topic(jobID))
	if err != nil {
		return nil, fmt.Errorf("job: watch %s: %w", jobID, err)
	}
	return sub, nil
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// MarkRunning claims a queued job for workerID. The returned record
// reflects the outcome: callers must check Status == StatusRunning and
// WorkerID before executing, since the job may have been cancelled or
// claimed by a peer in the meantime. A pending cancel on a still-queued
// job resolves to cancelled here, before any work starts.
func (r *Registry) MarkRunning(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (*Job, error) {
	return r.update(ctx, jobID, func(j *Job) bool {
		if j.Status != StatusQueued {
			return false
		}
		if j.CancelRequested {
			r.settleCancelled(j)
			return true
		}
		now := r.now()
		zero := 0
		j.Status = StatusRunning
		j.WorkerID = workerID
		j.StartedAt = &now
		j.HeartbeatAt = &now
		j.Progress = &zero
		return true
	})
}

// UpdateProgress records a progress checkpoint. Regressions and writes
// against non-running jobs are dropped silently: progress reads must be
// monotonic across polls, and a worker racing a cancel must not revive
// a settled record.
func (r *Registry) UpdateProgress(ctx context.Context, jobID id.JobID, percent int) error {
	percent = min(max(percent, 0), 100)
	_, err := r.update(ctx, jobID, func(j *Job) bool {
		if j.Status != StatusRunning {
			r.logger.Debug("dropping progress for non-running job",
				slog.String("job_id", jobID.String()),
				slog.String("status", string(j.Status)),
			)
			return false
		}
		if j.Progress != nil && percent < *j.Progress {
			r.logger.Debug("dropping out-of-order progress",
				slog.String("job_id", jobID.String()),
				slog.Int("recorded", *j.Progress),
				slog.Int("reported", percent),
			)
			return false
		}
		j.Progress = &percent
		return true
	})
	return err
}

// Heartbeat renews workerID's lease on a running job. A heartbeat from
// a worker that no longer owns the job is dropped.
func (r *Registry) Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	_, err := r.update(ctx, jobID, func(j *Job) bool {
		if j.Status != StatusRunning || j.WorkerID.String() != workerID.String() {
			return false
		}
		now := r.now()
		j.HeartbeatAt = &now
		return true
	})
	return err
}

// Complete settles a running job with its result reference.
func (r *Registry) Complete(ctx context.Context, jobID id.JobID, resultRef string) error {
	_, err := r.update(ctx, jobID, func(j *Job) bool {
		if j.Status != StatusRunning {
			return false
		}
		now := r.now()
		full := 100
		j.Status = StatusCompleted
		j.Progress = &full
		j.ResultRef = resultRef
		j.Error = nil
		j.CompletedAt = &now
		return true
	})
	return err
}

// Fail settles a job with a classified error. Applies from queued or
// running; a job already settled stays as it is.
func (r *Registry) Fail(ctx context.Context, jobID id.JobID, kind ErrorKind, message string) error {
	_, err := r.update(ctx, jobID, func(j *Job) bool {
		if j.Status.Terminal() {
			return false
		}
		now := r.now()
		j.Status = StatusFailed
		j.Progress = nil
		j.ResultRef = ""
		j.Error = &ErrorDetail{Kind: kind, Message: message}
		j.CompletedAt = &now
		return true
	})
	return err
}

// RequestCancel asks for a job to stop. Queued jobs settle to cancelled
// immediately, never entering running. Running jobs get the sticky
// cancel flag, honored by the worker at its next checkpoint. Reports
// whether the request was accepted, i.e. the job was still cancellable.
func (r *Registry) RequestCancel(ctx context.Context, jobID id.JobID) (bool, error) {
	accepted := false
	_, err := r.update(ctx, jobID, func(j *Job) bool {
		if j.Status.Terminal() {
			accepted = false
			return false
		}
		accepted = true
		if j.Status == StatusQueued {
			r.settleCancelled(j)
			return true
		}
		if j.CancelRequested {
			return false
		}
		j.CancelRequested = true
		return true
	})
	return accepted, err
}

// MarkCancelled settles a running job whose worker observed the cancel
// flag at a checkpoint.
func (r *Registry) MarkCancelled(ctx context.Context, jobID id.JobID) error {
	_, err := r.update(ctx, jobID, func(j *Job) bool {
		if j.Status != StatusRunning {
			return false
		}
		r.settleCancelled(j)
		return true
	})
	return err
}

// Requeue returns a running job to the queue after its worker went
// silent, charging one attempt. The caller decides beforehand whether
// the attempt budget allows it. The job is re-announced so an idle
// worker picks it up promptly.
func (r *Registry) Requeue(ctx context.Context, jobID id.JobID) (*Job, error) {
	j, err := r.update(ctx, jobID, func(j *Job) bool {
		if j.Status != StatusRunning {
			return false
		}
		j.Status = StatusQueued
		j.WorkerID = id.Nil
		j.Progress = nil
		j.StartedAt = nil
		j.HeartbeatAt = nil
		j.Attempts++
		return true
	})
	if err != nil {
		return nil, err
	}
	if j.Status == StatusQueued {
		r.announce(ctx, jobID)
	}
	return j, nil
}

// settleCancelled rewrites j in place to the cancelled terminal state.
func (r *Registry) settleCancelled(j *Job) {
	now := r.now()
	j.Status = StatusCancelled
	j.CancelRequested = true
	j.Progress = nil
	j.CompletedAt = &now
}

// update runs one optimistic-concurrency round-trip: read the record,
// apply mutate, and CAS the new bytes against the old. mutate returns
// false to signal a no-op, which ends the loop without writing. A lost
// CAS re-reads and re-applies, so a transition that raced a competing
// write resolves against the fresh record.
func (r *Registry) update(ctx context.Context, jobID id.JobID, mutate func(*Job) bool) (*Job, error) {
	for range casRetries {
		raw, err := r.store.Get(ctx, Key(jobID))
		if err != nil {
			if errors.Is(err, dataextract.ErrKeyNotFound) {
				return nil, fmt.Errorf("job: %s: %w", jobID, dataextract.ErrJobNotFound)
			}
			return nil, fmt.Errorf("job: update %s: %w", jobID, err)
		}

		var j Job
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, fmt.Errorf("job: unmarshal %s: %w", jobID, err)
		}

		wasTerminal := j.Status.Terminal()
		if !mutate(&j) {
			return &j, nil
		}
		j.Touch()

		next, err := json.Marshal(&j)
		if err != nil {
			return nil, fmt.Errorf("job: marshal %s: %w", jobID, err)
		}

		var ttl time.Duration
		if j.Status.Terminal() {
			ttl = r.retention
		}

		swapped, err := r.store.CompareAndSwap(ctx, Key(jobID), raw, next, ttl)
		if err != nil {
			return nil, fmt.Errorf("job: update %s: %w", jobID, err)
		}
		if swapped {
			if !wasTerminal && j.Status.Terminal() {
				r.notifyTerminal(ctx, &j)
			}
			return &j, nil
		}
		// Lost the race; re-read and let mutate decide against the
		// winner's record.
	}
	return nil, fmt.Errorf("job: update %s: contention exceeded %d attempts", jobID, casRetries)
}

// announce publishes jobID on the submissions topic, best-effort. A
// dropped announcement only delays pickup until the next poll cycle.
func (r *Registry) announce(ctx context.Context, jobID id.JobID) {
	if err := r.store.Publish(ctx, TopicSubmissions, []byte(jobID.String())); err != nil {
		r.logger.Debug("submission announce failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// notifyTerminal publishes the settled status on the job's own topic so
// waiting clients wake without polling.
func (r *Registry) notifyTerminal(ctx context.Context, j *Job) {
	if err := r.store.Publish(ctx, Topic(j.ID), []byte(j.Status)); err != nil {
		r.logger.Debug("terminal notify failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
