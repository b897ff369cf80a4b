// Package retry decides, after a failed run, whether a next attempt
// should exist and with what delay.
package retry

import (
	"log"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
)

// Defaults applied when a request's RetryConfig leaves fields zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 1 * time.Second
	DefaultMaxBackoff  = 5 * time.Minute
	DefaultMultiplier  = 2.0
)

// attemptWindow is how long attempt log entries are retained for the
// retry-rate metric.
const attemptWindow = 24 * time.Hour

// permanentErrorPatterns short-circuit retries: errors matching any of
// these (case-insensitive substring) never get another attempt, no
// matter how many remain.
var permanentErrorPatterns = []string{
	"template not found",
	"invalid yaml",
	"permission denied",
	"authentication failed",
	"file not found",
	"validation error",
}

// IsPermanentError reports whether the error message matches a
// permanent-error pattern.
func IsPermanentError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range permanentErrorPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Manager implements the failure-handling policy. It never sleeps:
// delays are communicated via the NotBefore field on the next attempt,
// which the queue manager honors at admission time.
type Manager struct {
	mu       sync.Mutex
	attempts []domain.RetryAttempt

	clock  func() time.Time
	jitter func() float64 // returns a factor in [0.8, 1.2]
}

// NewManager creates a retry manager with randomized jitter.
func NewManager() *Manager {
	return &Manager{
		clock: time.Now,
		jitter: func() float64 {
			return 0.8 + rand.Float64()*0.4
		},
	}
}

// ShouldRetry reports whether a failed request deserves another attempt.
func (m *Manager) ShouldRetry(req *domain.RunRequest, runErr error) bool {
	if req.Retry == nil || runErr == nil {
		return false
	}

	maxAttempts := req.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if req.Attempt >= maxAttempts {
		return false
	}

	if IsPermanentError(runErr.Error()) {
		return false
	}

	if req.Retry.OnlyIdempotent && !AllStepsIdempotent(req.Steps) {
		return false
	}

	return true
}

// CalculateDelay computes the backoff before nextAttempt:
// base * multiplier^(nextAttempt-1), capped at the max, then scaled by
// a uniform jitter factor in [0.8, 1.2].
func (m *Manager) CalculateDelay(req *domain.RunRequest, nextAttempt int) time.Duration {
	base := DefaultBaseBackoff
	max := DefaultMaxBackoff
	multiplier := DefaultMultiplier
	if req.Retry != nil {
		if req.Retry.BaseBackoff > 0 {
			base = req.Retry.BaseBackoff
		}
		if req.Retry.MaxBackoff > 0 {
			max = req.Retry.MaxBackoff
		}
		if req.Retry.Multiplier > 0 {
			multiplier = req.Retry.Multiplier
		}
	}
	if nextAttempt < 1 {
		nextAttempt = 1
	}

	delay := float64(base) * math.Pow(multiplier, float64(nextAttempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay * m.jitter())
}

// HandleFailure returns the next attempt for a failed request, or nil
// if the failure is terminal. The next attempt carries a fresh id, an
// incremented attempt count, the lineage id, the triggering error as
// RetryReason, and a NotBefore timestamp honoring the backoff delay.
// The caller is responsible for enqueueing it.
func (m *Manager) HandleFailure(req *domain.RunRequest, runErr error) *domain.RunRequest {
	if !m.ShouldRetry(req, runErr) {
		return nil
	}

	next := req.Clone()
	next.ID = uuid.New()
	next.OriginalRunID = req.Lineage()
	next.Attempt = req.Attempt + 1
	next.RetryReason = runErr.Error()
	next.EnqueuedAt = time.Time{}
	next.StartedAt = nil

	delay := m.CalculateDelay(req, next.Attempt)
	next.NotBefore = m.clock().UTC().Add(delay)

	log.Printf("retry: run=%s attempt=%d delay=%s reason=%q",
		next.Lineage(), next.Attempt, delay.Round(time.Millisecond), runErr.Error())
	return next
}

// RecordAttempt appends to the rolling attempt log. runID is the
// lineage id shared by all attempts of a run.
func (m *Manager) RecordAttempt(runID uuid.UUID, attempt int, success bool, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	m.attempts = append(m.attempts, domain.RetryAttempt{
		RunID:     runID,
		Attempt:   attempt,
		Timestamp: now,
		Success:   success,
		Error:     errMsg,
	})
	m.prune(now)
}

// RetryRate reports the fraction of distinct runs in the window that
// needed more than one attempt.
func (m *Manager) RetryRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(m.clock().UTC())

	maxAttempt := make(map[uuid.UUID]int)
	for _, a := range m.attempts {
		if a.Attempt > maxAttempt[a.RunID] {
			maxAttempt[a.RunID] = a.Attempt
		}
	}
	if len(maxAttempt) == 0 {
		return 0
	}

	retried := 0
	for _, attempt := range maxAttempt {
		if attempt > 1 {
			retried++
		}
	}
	return float64(retried) / float64(len(maxAttempt))
}

// prune drops attempt entries outside the window. Caller must hold m.mu.
func (m *Manager) prune(now time.Time) {
	cutoff := now.Add(-attemptWindow)
	i := 0
	for i < len(m.attempts) && m.attempts[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.attempts = append([]domain.RetryAttempt(nil), m.attempts[i:]...)
	}
}
