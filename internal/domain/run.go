package domain

import (
	"time"

	"github.com/google/uuid"
)

// Priority bounds for run requests. A zero priority is treated as
// PriorityDefault at enqueue time.
const (
	PriorityMin     = 1
	PriorityMax     = 9
	PriorityDefault = 5
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAbandoned RunStatus = "abandoned"
)

// RetryConfig controls whether and how failed runs are re-attempted.
// Zero-valued fields fall back to the retry manager's defaults.
type RetryConfig struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	OnlyIdempotent bool
}

// RunRequest is the canonical unit of schedulable work. Every trigger
// source (scheduler, watcher, webhook, manual API) normalizes into one
// of these before admission.
//
// ID is unique per attempt; OriginalRunID links retry attempts back to
// the first attempt of the lineage and is zero for first attempts.
type RunRequest struct {
	ID            uuid.UUID
	OriginalRunID uuid.UUID

	Template  string
	Steps     []string // template step action names, used for retry classification
	Variables map[string]any

	Queue          string
	Priority       int
	ConcurrencyTag string

	Retry *RetryConfig

	Attempt     int
	Source      string
	UserID      string
	RetryReason string

	EnqueuedAt time.Time
	StartedAt  *time.Time

	// NotBefore makes a request ineligible for admission until the given
	// time. The retry manager uses it to honor backoff delays without
	// anyone having to sleep.
	NotBefore time.Time
}

// Lineage returns the id of the first attempt in this request's retry chain.
func (r *RunRequest) Lineage() uuid.UUID {
	if r.OriginalRunID != uuid.Nil {
		return r.OriginalRunID
	}
	return r.ID
}

// Clone returns a deep copy of the request. Variables and Steps are
// copied so the clone can be mutated independently.
func (r *RunRequest) Clone() *RunRequest {
	c := *r
	if r.Variables != nil {
		c.Variables = make(map[string]any, len(r.Variables))
		for k, v := range r.Variables {
			c.Variables[k] = v
		}
	}
	if r.Steps != nil {
		c.Steps = append([]string(nil), r.Steps...)
	}
	if r.Retry != nil {
		rc := *r.Retry
		c.Retry = &rc
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	return &c
}

// RunRecord is the persisted view of a run's lifecycle, written by the
// dispatcher and swept by the reconciler.
type RunRecord struct {
	ID            uuid.UUID
	OriginalRunID uuid.UUID

	Template string
	Queue    string
	Source   string
	Attempt  int

	Status RunStatus
	Error  string

	StartedAt  time.Time
	FinishedAt *time.Time
}

// RetryAttempt is an append-only log entry used for retry-rate metrics.
// RunID is the lineage id, shared across all attempts of a run.
type RetryAttempt struct {
	RunID     uuid.UUID
	Attempt   int
	Timestamp time.Time
	Success   bool
	Error     string
}
