package worker

import (
	"container/heap"
	"sync"

	"github.com/ConvoSphere/DataExtract/job"
)

// queue is the in-process priority queue feeding executor goroutines.
// Higher priority tiers run first; within a tier, jobs run in arrival
// order. Push deduplicates by job ID so the submissions subscription
// and the reconciliation scan can overlap without double-dispatching.
type queue struct {
	mu      sync.Mutex
	heap    entries
	pending map[string]struct{}
	seq     uint64

	// wake nudges an idle executor after a push. Capacity 1: executors
	// drain the queue fully on each wakeup, so one pending signal is
	// enough.
	wake chan struct{}
}

type entry struct {
	j   *job.Job
	seq uint64
}

type entries []entry

func (s entries) Len() int { return len(s) }

func (s entries) Less(a, b int) bool {
	if wa, wb := s[a].j.Priority.Weight(), s[b].j.Priority.Weight(); wa != wb {
		return wa > wb
	}
	return s[a].seq < s[b].seq
}

func (s entries) Swap(a, b int) { s[a], s[b] = s[b], s[a] }

func (s *entries) Push(x any) { *s = append(*s, x.(entry)) }

func (s *entries) Pop() any {
	old := *s
	n := len(old)
	e := old[n-1]
	*s = old[:n-1]
	return e
}

func newQueue() *queue {
	return &queue{
		pending: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// push enqueues j unless it is already pending. Reports whether the job
// was added.
func (q *queue) push(j *job.Job) bool {
	q.mu.Lock()
	key := j.ID.String()
	if _, dup := q.pending[key]; dup {
		q.mu.Unlock()
		return false
	}
	q.pending[key] = struct{}{}
	q.seq++
	heap.Push(&q.heap, entry{j: j, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// pop removes and returns the highest-priority job, or nil when empty.
func (q *queue) pop() *job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return nil
	}
	e := heap.Pop(&q.heap).(entry)
	delete(q.pending, e.j.ID.String())
	return e.j
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
