// Package queue implements admission control for run requests: named
// priority lanes with independent concurrency ceilings, plus global
// concurrency-tag limits enforced across all lanes.
package queue

import (
	"container/heap"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
)

var (
	// ErrQueueFull is returned when queued+running would exceed max_queued.
	ErrQueueFull = errors.New("queue is full")
	// ErrUnknownQueue is returned for operations on a queue that was never created.
	ErrUnknownQueue = errors.New("unknown queue")
	// ErrQueueExists is returned by CreateQueue for a duplicate name.
	ErrQueueExists = errors.New("queue already exists")
	// ErrUnknownRun is returned by Complete for a run id that is not running.
	ErrUnknownRun = errors.New("run is not running")
	// ErrInvalidPriority is returned when a request's priority is outside [1,9].
	ErrInvalidPriority = errors.New("priority must be between 1 and 9")
)

// item is a heap entry. seq breaks ties between requests enqueued at the
// same instant and keeps ordering stable across give-backs: a request
// returned to the queue after a tag-limit block re-enters at its
// original position, not at the tail.
type item struct {
	req *domain.RunRequest
	seq uint64
}

// runHeap is a max-heap keyed on (priority desc, enqueued_at asc, seq asc).
type runHeap []*item

func (h runHeap) Len() int { return len(h) }

func (h runHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.req.Priority != b.req.Priority {
		return a.req.Priority > b.req.Priority
	}
	if !a.req.EnqueuedAt.Equal(b.req.EnqueuedAt) {
		return a.req.EnqueuedAt.Before(b.req.EnqueuedAt)
	}
	return a.seq < b.seq
}

func (h runHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *runHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// RunQueue is one named lane. All fields are guarded by the owning
// Manager's lock; RunQueue has no locking of its own.
type RunQueue struct {
	name          string
	maxConcurrent int
	maxQueued     int
	enabled       bool

	waiting runHeap
	running map[uuid.UUID]*domain.RunRequest
}

func newRunQueue(name string, maxConcurrent, maxQueued int) *RunQueue {
	return &RunQueue{
		name:          name,
		maxConcurrent: maxConcurrent,
		maxQueued:     maxQueued,
		enabled:       true,
		running:       make(map[uuid.UUID]*domain.RunRequest),
	}
}

// depth is queued plus running, the quantity bounded by maxQueued.
func (q *RunQueue) depth() int {
	return q.waiting.Len() + len(q.running)
}

func (q *RunQueue) push(it *item) {
	heap.Push(&q.waiting, it)
}

func (q *RunQueue) pop() *item {
	return heap.Pop(&q.waiting).(*item)
}

// snapshot returns the waiting requests in dequeue order without
// mutating the heap.
func (q *RunQueue) snapshot() []*domain.RunRequest {
	items := make([]*item, len(q.waiting))
	copy(items, q.waiting)
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.req.Priority != b.req.Priority {
			return a.req.Priority > b.req.Priority
		}
		if !a.req.EnqueuedAt.Equal(b.req.EnqueuedAt) {
			return a.req.EnqueuedAt.Before(b.req.EnqueuedAt)
		}
		return a.seq < b.seq
	})
	reqs := make([]*domain.RunRequest, len(items))
	for i, it := range items {
		reqs[i] = it.req
	}
	return reqs
}

// Stats is a point-in-time view of one queue.
type Stats struct {
	Name          string `json:"name"`
	Queued        int    `json:"queued"`
	Running       int    `json:"running"`
	MaxConcurrent int    `json:"max_concurrent"`
	MaxQueued     int    `json:"max_queued"`
	Enabled       bool   `json:"enabled"`
}
