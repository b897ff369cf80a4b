// Package circuitbreaker suppresses trigger sources that keep failing,
// so a broken schedule or endpoint does not flood the queues with
// doomed runs.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type keyState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks failure streaks per key. A key's circuit opens after
// threshold consecutive failures and stays open for the cooldown; the
// first Allow after cooldown half-opens it for a single probe.
type Breaker struct {
	mu        sync.Mutex
	states    map[string]*keyState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		states:    make(map[string]*keyState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (cb *Breaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		// One probe at a time.
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *Breaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *Breaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		s = &keyState{}
		cb.states[key] = s
	}

	s.consecutiveFailures++
	// A failed half-open probe re-opens immediately, without waiting for
	// the streak to rebuild.
	if s.state == stateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.clock()
	}
}

// State reports the current state string for key, for status endpoints.
func (cb *Breaker) State(key string) string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		return stateClosed.String()
	}
	return s.state.String()
}
