package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ConvoSphere/DataExtract/backoff"
	"github.com/ConvoSphere/DataExtract/id"
	"github.com/ConvoSphere/DataExtract/job"
	"github.com/ConvoSphere/DataExtract/store"
)

// Pool manages the executor goroutines that drain the priority queue,
// plus the heartbeat and reaper loops that keep the lease protocol
// honest. At most `concurrency` extractions run at once per instance.
type Pool struct {
	registry *job.Registry
	store    store.Store
	executor *Executor
	logger   *slog.Logger

	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	staleThreshold    time.Duration
	maxRequeues       int
	retryBackoff      backoff.Strategy

	queue  *queue
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	// activeMu guards the set of jobs currently executing on this
	// instance, kept for heartbeats and shutdown cancellation.
	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent executor goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle executors and the reconciliation
// scan re-check the store for queued work.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool renews leases for its
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleThreshold sets how long a running job may go without a
// heartbeat before the reaper reclaims it. A zero value disables
// reaping.
func WithStaleThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleThreshold = d }
}

// WithMaxRequeues bounds how many times a job lost to a dead worker is
// re-queued before it fails for good.
func WithMaxRequeues(n int) PoolOption {
	return func(p *Pool) { p.maxRequeues = n }
}

// WithRetryBackoff sets the delay strategy applied between dequeues
// after store-level execution failures.
func WithRetryBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.retryBackoff = s }
}

// NewPool creates a worker pool around the given executor.
func NewPool(
	registry *job.Registry,
	st store.Store,
	executor *Executor,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		registry:          registry,
		store:             st,
		executor:          executor,
		logger:            logger,
		concurrency:       10,
		pollInterval:      time.Second,
		heartbeatInterval: 10 * time.Second,
		staleThreshold:    30 * time.Second,
		maxRequeues:       3,
		retryBackoff:      backoff.DefaultStrategy(),
		queue:             newQueue(),
		stopCh:            make(chan struct{}),
		active:            make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's worker identity.
func (p *Pool) WorkerID() id.WorkerID { return p.executor.WorkerID() }

// Start launches the executor, feed, heartbeat, and reaper goroutines.
// It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.WorkerID().String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.executeLoop()
	}

	p.wg.Add(1)
	go p.feedLoop()

	p.wg.Add(1)
	go p.reconcileLoop()

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all loops to finish and waits for them. If the context
// expires first, active jobs are cancelled; the reaper on a surviving
// instance re-queues whatever was cut off.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.WorkerID().String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// Enqueue hands a job directly to this instance's queue, skipping the
// pub/sub round trip for locally submitted work.
func (p *Pool) Enqueue(j *job.Job) {
	p.queue.push(j)
}

// executeLoop is run by each executor goroutine.
func (p *Pool) executeLoop() {
	defer p.wg.Done()

	failStreak := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j := p.queue.pop()
		if j == nil {
			p.idle()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.track(j.ID.String(), cancel)

		err := p.executor.Execute(ctx, j)
		if err != nil {
			p.logger.Error("job execution error",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}

		p.untrack(j.ID.String())
		cancel()

		// Execute only errors on store trouble. Back off before the
		// next dequeue so a flapping store is not hammered, with
		// jitter so parallel executors spread out.
		if err != nil {
			failStreak++
			p.pause(p.retryBackoff.Delay(failStreak))
		} else {
			failStreak = 0
		}
	}
}

// pause sleeps for d unless the pool stops first.
func (p *Pool) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.stopCh:
	}
}

// idle blocks until new work is signalled, the poll interval elapses,
// or the pool stops.
func (p *Pool) idle() {
	select {
	case <-p.queue.wake:
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

// feedLoop pushes announced submissions into the queue as they arrive.
// Announcements are best-effort; the reconciliation scan backstops any
// that get dropped.
func (p *Pool) feedLoop() {
	defer p.wg.Done()

	for {
		sub, err := p.store.Subscribe(context.Background(), job.TopicSubmissions)
		if err != nil {
			p.logger.Warn("submissions subscribe failed", slog.String("error", err.Error()))
			select {
			case <-time.After(p.pollInterval):
				continue
			case <-p.stopCh:
				return
			}
		}

		if !p.consume(sub) {
			return
		}
	}
}

// consume drains one subscription until it closes or the pool stops.
// Reports whether the feed loop should resubscribe.
func (p *Pool) consume(sub store.Subscription) bool {
	defer sub.Close() //nolint:errcheck // best-effort cleanup

	for {
		select {
		case <-p.stopCh:
			return false
		case msg, ok := <-sub.Messages():
			if !ok {
				return true // subscription lost, resubscribe
			}
			p.admit(string(msg))
		}
	}
}

// admit loads an announced job and queues it if still runnable.
func (p *Pool) admit(rawID string) {
	jobID, err := id.ParseJobID(rawID)
	if err != nil {
		p.logger.Warn("ignoring malformed submission announcement", slog.String("raw", rawID))
		return
	}

	j, err := p.registry.Get(context.Background(), jobID)
	if err != nil {
		return // evicted or store hiccup; reconciliation will catch it
	}
	if j.Status == job.StatusQueued {
		p.queue.push(j)
	}
}

// reconcileLoop periodically re-scans the store for queued jobs this
// instance has not seen — missed announcements, work submitted while
// the pool was down, or jobs re-queued by a peer's reaper.
func (p *Pool) reconcileLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reconcile()
		}
	}
}

func (p *Pool) reconcile() {
	queued, err := p.registry.ListByStatus(context.Background(), job.StatusQueued)
	if err != nil {
		p.logger.Warn("reconciliation scan failed", slog.String("error", err.Error()))
		return
	}
	for _, j := range queued {
		p.queue.push(j)
	}
}

// heartbeatLoop renews the lease on every job this instance is
// executing.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.active))
	for jobID := range p.active {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, raw := range jobIDs {
		jobID, err := id.ParseJobID(raw)
		if err != nil {
			continue
		}
		if err := p.registry.Heartbeat(context.Background(), jobID, p.WorkerID()); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", raw),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop recovers jobs whose worker stopped heartbeating: back to
// the queue while the requeue budget lasts, failed with WorkerLost once
// it is spent.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStale()
		}
	}
}

func (p *Pool) reapStale() {
	ctx := context.Background()

	stale, err := p.registry.Stale(ctx, p.staleThreshold)
	if err != nil {
		p.logger.Error("stale job scan failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		if p.isActive(j.ID.String()) {
			// Our own job — the heartbeat loop just fell behind.
			continue
		}

		if j.Attempts >= p.maxRequeues {
			if failErr := p.registry.Fail(ctx, j.ID, job.KindWorkerLost,
				"worker heartbeat lost and requeue budget exhausted"); failErr != nil {
				p.logger.Error("failed to settle lost job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", failErr.Error()),
				)
			}
			continue
		}

		requeued, requeueErr := p.registry.Requeue(ctx, j.ID)
		if requeueErr != nil {
			p.logger.Error("requeue of stale job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", requeueErr.Error()),
			)
			continue
		}
		if requeued.Status == job.StatusQueued {
			p.queue.push(requeued)
			p.logger.Info("re-queued stale job",
				slog.String("job_id", j.ID.String()),
				slog.Int("attempts", requeued.Attempts),
			)
		}
	}
}

func (p *Pool) track(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(jobID string) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) isActive(jobID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.active[jobID]
	return ok
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
