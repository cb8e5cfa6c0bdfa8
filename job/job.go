package job

import (
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/extractor"
	"github.com/ConvoSphere/DataExtract/id"
)

// Status represents the lifecycle state of an extraction job.
type Status string

const (
	// StatusQueued means the job is waiting to be picked up by a worker.
	StatusQueued Status = "queued"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished and its result is available.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed and will not be retried.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled before it completed.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Priority orders jobs within the dispatch queue. Higher runs first;
// jobs of equal priority run in submission order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Weight returns the numeric rank of p for queue ordering. Unknown
// values rank as normal.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is a known priority tier.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// ErrorKind classifies a terminal job failure. Clients use the kind to
// decide whether resubmitting the same request can succeed.
type ErrorKind string

const (
	// KindValidation means the request was malformed or the format is
	// unsupported. Resubmitting the same request will fail again.
	KindValidation ErrorKind = "validation"
	// KindExtraction means the format adapter failed on this content.
	KindExtraction ErrorKind = "extraction"
	// KindStoreUnavailable means the backing store was unreachable.
	KindStoreUnavailable ErrorKind = "store_unavailable"
	// KindWorkerLost means the executing worker stopped heartbeating and
	// the job exhausted its requeue budget.
	KindWorkerLost ErrorKind = "worker_lost"
	// KindTimeout means the job exceeded its wall-clock budget.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited means the caller was over budget at submission.
	KindRateLimited ErrorKind = "rate_limited"
)

// Retryable reports whether a failure of this kind is transient, i.e.
// resubmitting the identical request may succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindStoreUnavailable || k == KindWorkerLost
}

// ErrorDetail records why a job failed. Present on a record if and only
// if the job is in the failed state.
type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job is one extraction request tracked through its lifecycle. Records
// are persisted as JSON in the backing store under job:<id>.
type Job struct {
	dataextract.Entity

	ID              id.JobID          `json:"id"`
	Owner           string            `json:"owner"`
	Filename        string            `json:"filename,omitempty"`
	Fingerprint     string            `json:"fingerprint"`
	Options         extractor.Options `json:"options,omitempty"`
	Priority        Priority          `json:"priority"`
	Status          Status            `json:"status"`
	Progress        *int              `json:"progress,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	ResultRef       string            `json:"result_ref,omitempty"`
	Error           *ErrorDetail      `json:"error,omitempty"`
	WorkerID        id.WorkerID       `json:"worker_id,omitempty"`
	Attempts        int               `json:"attempts"`
	Timeout         time.Duration     `json:"timeout,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	HeartbeatAt     *time.Time        `json:"heartbeat_at,omitempty"`
}

// New creates a queued job with a fresh ID and initialized timestamps.
func New(owner, filename, fingerprint string, opts extractor.Options, priority Priority) *Job {
	if !priority.Valid() {
		priority = PriorityNormal
	}
	return &Job{
		Entity:      dataextract.NewEntity(),
		ID:          id.NewJobID(),
		Owner:       owner,
		Filename:    filename,
		Fingerprint: fingerprint,
		Options:     opts,
		Priority:    priority,
		Status:      StatusQueued,
	}
}
