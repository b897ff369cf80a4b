package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
)

// completionWindow is how long completion timestamps are retained for
// throughput reporting.
const completionWindow = 24 * time.Hour

// MetricsSink defines the interface for recording queue metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EnqueueCompleted(queue, outcome string)
	DequeueAdmitted(queue string)
	TagBlocked(tag string)
	QueueDepthUpdate(queue string, depth int)
	RunCompleted(queue string)
}

// Manager is the sole arbiter of what may execute right now. It owns
// the named queues, the concurrency-tag counters, and a rolling window
// of completion timestamps.
//
// All public methods are short, non-blocking critical sections; no I/O
// happens while the lock is held.
type Manager struct {
	mu sync.Mutex

	queues map[string]*RunQueue
	order  []string // creation order, iterated by DequeueNext

	tagLimits map[string]int
	tagCounts map[string]int

	completions []time.Time
	peakDepth   int
	seq         uint64

	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// NewManager creates an empty queue manager.
func NewManager() *Manager {
	return &Manager{
		queues:    make(map[string]*RunQueue),
		tagLimits: make(map[string]int),
		tagCounts: make(map[string]int),
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the manager.
func (m *Manager) WithMetrics(sink MetricsSink) *Manager {
	m.metrics = sink
	return m
}

// CreateQueue registers a new named lane. It fails on a duplicate name:
// re-creating must never silently change an existing queue's limits.
func (m *Manager) CreateQueue(name string, maxConcurrent, maxQueued int) error {
	if name == "" {
		return fmt.Errorf("queue name is required")
	}
	if maxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", maxConcurrent)
	}
	if maxQueued < 1 {
		return fmt.Errorf("max_queued must be >= 1, got %d", maxQueued)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[name]; ok {
		return fmt.Errorf("%w: %s", ErrQueueExists, name)
	}
	m.queues[name] = newRunQueue(name, maxConcurrent, maxQueued)
	m.order = append(m.order, name)
	return nil
}

// Enqueue admits a request into the named queue's waiting set. It fills
// request defaults (id, priority, attempt, enqueued_at), never blocks,
// and fails with ErrQueueFull when queued+running has reached
// max_queued. On success it returns the run id.
func (m *Manager) Enqueue(queueName string, req *domain.RunRequest) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueName]
	if !ok {
		m.observeEnqueue(queueName, "unknown_queue")
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
	}
	if q.depth() >= q.maxQueued {
		m.observeEnqueue(queueName, "full")
		return uuid.Nil, fmt.Errorf("%w: %s (max_queued=%d)", ErrQueueFull, queueName, q.maxQueued)
	}

	if req.Priority == 0 {
		req.Priority = domain.PriorityDefault
	}
	if req.Priority < domain.PriorityMin || req.Priority > domain.PriorityMax {
		m.observeEnqueue(queueName, "invalid")
		return uuid.Nil, fmt.Errorf("%w: got %d", ErrInvalidPriority, req.Priority)
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Attempt < 1 {
		req.Attempt = 1
	}
	req.Queue = queueName
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = m.clock().UTC()
	}

	m.seq++
	q.push(&item{req: req, seq: m.seq})

	if d := q.depth(); d > m.peakDepth {
		m.peakDepth = d
	}
	m.observeEnqueue(queueName, "accepted")
	m.observeDepth(q)
	return req.ID, nil
}

// DequeueNext returns the next admissible request, or nil if nothing is
// admissible. Queues are visited in creation order; within a queue the
// highest-priority, oldest request wins. A request blocked by its
// concurrency tag (or by a NotBefore timestamp still in the future) is
// set aside and restored to its original heap position afterwards, so
// FIFO-within-priority survives repeated blocked attempts and each
// blocked request is considered at most once per call.
func (m *Manager) DequeueNext() *domain.RunRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()

	for _, name := range m.order {
		q := m.queues[name]
		if !q.enabled || len(q.running) >= q.maxConcurrent {
			continue
		}

		var skipped []*item
		var admitted *item
		for q.waiting.Len() > 0 {
			it := q.pop()
			req := it.req

			if req.NotBefore.After(now) {
				skipped = append(skipped, it)
				continue
			}
			if tag := req.ConcurrencyTag; tag != "" {
				if limit, ok := m.tagLimits[tag]; ok && m.tagCounts[tag] >= limit {
					if m.metrics != nil {
						m.metrics.TagBlocked(tag)
					}
					skipped = append(skipped, it)
					continue
				}
			}

			admitted = it
			break
		}

		// Give back everything we passed over. seq and enqueued_at are
		// untouched, so the heap ordering is exactly what it was.
		for _, it := range skipped {
			q.push(it)
		}

		if admitted == nil {
			continue
		}

		req := admitted.req
		q.running[req.ID] = req
		if req.ConcurrencyTag != "" {
			m.tagCounts[req.ConcurrencyTag]++
		}
		started := now
		req.StartedAt = &started

		if m.metrics != nil {
			m.metrics.DequeueAdmitted(name)
		}
		m.observeDepth(q)
		return req
	}

	return nil
}

// Complete releases a running slot. It decrements the owning queue's
// running count and the request's tag counter (floored at zero), and
// records a completion timestamp for the rolling throughput window.
func (m *Manager) Complete(runID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		q := m.queues[name]
		req, ok := q.running[runID]
		if !ok {
			continue
		}
		delete(q.running, runID)

		if tag := req.ConcurrencyTag; tag != "" {
			if m.tagCounts[tag] > 0 {
				m.tagCounts[tag]--
			}
		}

		now := m.clock().UTC()
		m.completions = append(m.completions, now)
		m.pruneCompletions(now)

		if m.metrics != nil {
			m.metrics.RunCompleted(name)
		}
		m.observeDepth(q)
		return nil
	}

	return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
}

// SetTagLimit caps how many requests sharing tag may run concurrently.
// A limit < 1 removes the cap (tags default to unlimited).
func (m *Manager) SetTagLimit(tag string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit < 1 {
		delete(m.tagLimits, tag)
		return
	}
	m.tagLimits[tag] = limit
}

// GetTagLimit returns the tag's limit, or 0 if the tag is unlimited.
func (m *Manager) GetTagLimit(tag string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tagLimits[tag]
}

// PauseQueue stops future admissions from the queue. Waiting requests
// stay queued and in-flight runs are unaffected; Complete still works.
func (m *Manager) PauseQueue(name string) error {
	return m.setEnabled(name, false)
}

// ResumeQueue re-enables admissions from a paused queue.
func (m *Manager) ResumeQueue(name string) error {
	return m.setEnabled(name, true)
}

func (m *Manager) setEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	q.enabled = enabled
	return nil
}

// ListQueued returns the waiting requests of a queue in dequeue order
// without disturbing the queue.
func (m *Manager) ListQueued(name string) ([]*domain.RunRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return q.snapshot(), nil
}

// QueueStats returns a point-in-time view of one queue.
func (m *Manager) QueueStats(name string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return Stats{
		Name:          q.name,
		Queued:        q.waiting.Len(),
		Running:       len(q.running),
		MaxConcurrent: q.maxConcurrent,
		MaxQueued:     q.maxQueued,
		Enabled:       q.enabled,
	}, nil
}

// Queues returns all queue names in creation order.
func (m *Manager) Queues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// CompletedInWindow reports how many runs completed in the last 24h.
func (m *Manager) CompletedInWindow() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneCompletions(m.clock().UTC())
	return len(m.completions)
}

// PeakDepth reports the highest queued+running depth seen on any queue.
func (m *Manager) PeakDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakDepth
}

// pruneCompletions drops timestamps outside the rolling window.
// Caller must hold m.mu.
func (m *Manager) pruneCompletions(now time.Time) {
	cutoff := now.Add(-completionWindow)
	i := 0
	for i < len(m.completions) && m.completions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.completions = append([]time.Time(nil), m.completions[i:]...)
	}
}

func (m *Manager) observeEnqueue(queue, outcome string) {
	if m.metrics != nil {
		m.metrics.EnqueueCompleted(queue, outcome)
	}
}

func (m *Manager) observeDepth(q *RunQueue) {
	if m.metrics != nil {
		m.metrics.QueueDepthUpdate(q.name, q.depth())
	}
}
