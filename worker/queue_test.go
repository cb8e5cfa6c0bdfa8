package worker

import (
	"testing"

	"github.com/ConvoSphere/DataExtract/extractor"
	"github.com/ConvoSphere/DataExtract/job"
)

func queuedJob(priority job.Priority) *job.Job {
	return job.New("caller-a", "f.txt", "fp", extractor.DefaultOptions(), priority)
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	t.Parallel()

	q := newQueue()
	first := queuedJob(job.PriorityNormal)
	low := queuedJob(job.PriorityLow)
	high := queuedJob(job.PriorityHigh)
	second := queuedJob(job.PriorityNormal)

	for _, j := range []*job.Job{first, low, high, second} {
		if !q.push(j) {
			t.Fatalf("push %s rejected", j.ID)
		}
	}

	want := []*job.Job{high, first, second, low}
	for i, expected := range want {
		got := q.pop()
		if got == nil || got.ID.String() != expected.ID.String() {
			t.Fatalf("pop %d = %v, want %s (%s)", i, got, expected.ID, expected.Priority)
		}
	}
	if q.pop() != nil {
		t.Fatal("queue not drained")
	}
}

func TestQueue_DeduplicatesPending(t *testing.T) {
	t.Parallel()

	q := newQueue()
	j := queuedJob(job.PriorityNormal)

	if !q.push(j) {
		t.Fatal("first push rejected")
	}
	if q.push(j) {
		t.Fatal("duplicate push accepted while pending")
	}
	if q.len() != 1 {
		t.Fatalf("len = %d, want 1", q.len())
	}

	// Once popped, the job may be pushed again (e.g. after a requeue).
	if q.pop() == nil {
		t.Fatal("pop returned nil")
	}
	if !q.push(j) {
		t.Fatal("re-push after pop rejected")
	}
}

func TestQueue_WakeSignal(t *testing.T) {
	t.Parallel()

	q := newQueue()
	q.push(queuedJob(job.PriorityNormal))

	select {
	case <-q.wake:
	default:
		t.Fatal("push did not signal wake")
	}
}
