// Package scheduler runs the cron trigger: a tick loop that fires
// enabled schedules whose next_run has arrived and enqueues the
// resulting run requests.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
)

type Store interface {
	ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error)
	// UpdateScheduleRun persists last_run/next_run after a firing.
	// A nil lastRun leaves the stored last_run untouched.
	UpdateScheduleRun(ctx context.Context, id uuid.UUID, lastRun *time.Time, nextRun time.Time) error
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

type Enqueuer interface {
	Enqueue(queue string, req *domain.RunRequest) (uuid.UUID, error)
}

// Breaker suppresses schedules whose enqueues keep failing.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
}

type Config struct {
	// TickInterval is how often due schedules are evaluated.
	// Default: 60s.
	TickInterval time.Duration
}

type Scheduler struct {
	config   Config
	store    Store
	parser   CronParser
	enqueuer Enqueuer
	breaker  Breaker     // optional, nil = disabled
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

func New(config Config, store Store, parser CronParser, enqueuer Enqueuer) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = 60 * time.Second
	}
	return &Scheduler{
		config:   config,
		store:    store,
		parser:   parser,
		enqueuer: enqueuer,
		clock:    time.Now,
	}
}

// WithBreaker attaches a circuit breaker consulted per schedule.
func (s *Scheduler) WithBreaker(b Breaker) *Scheduler {
	s.breaker = b
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Run executes the tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

// processTick evaluates every enabled schedule once. A misbehaving
// schedule never stops the others: per-schedule errors are logged and
// the loop continues.
func (s *Scheduler) processTick(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.TickStarted()
	}
	start := s.clock()
	now := start.UTC()
	fired := 0

	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.TickCompleted(s.clock().Sub(start), 0, err)
		}
		return fmt.Errorf("list schedules: %w", err)
	}

	for _, sched := range schedules {
		didFire, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			log.Printf("scheduler: schedule %s error: %v", sched.ID, err)
		}
		if didFire {
			fired++
		}
	}

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), fired, nil)
	}
	return nil
}

// processSchedule fires one schedule if due. next_run is recomputed and
// persisted after every firing, on enqueue success and failure alike,
// so a full queue can never stall the schedule.
func (s *Scheduler) processSchedule(ctx context.Context, sched domain.Schedule, now time.Time) (bool, error) {
	cronSched, err := s.parser.Parse(sched.CronExpression, sched.Timezone)
	if err != nil {
		return false, fmt.Errorf("parse cron %q: %w", sched.CronExpression, err)
	}

	// First sighting: compute next_run and wait for it.
	if sched.NextRun == nil {
		next := cronSched.Next(now)
		if err := s.store.UpdateScheduleRun(ctx, sched.ID, nil, next); err != nil {
			return false, fmt.Errorf("init next_run: %w", err)
		}
		return false, nil
	}

	if now.Before(*sched.NextRun) {
		return false, nil
	}

	fired := false
	key := "schedule:" + sched.ID.String()
	if s.breaker != nil && s.breaker.Allow(key) != nil {
		log.Printf("scheduler: schedule %s suppressed by circuit breaker", sched.ID)
	} else {
		req := s.buildRequest(sched)
		if _, err := s.enqueuer.Enqueue(req.Queue, req); err != nil {
			log.Printf("scheduler: schedule %s enqueue failed: %v", sched.ID, err)
			if s.breaker != nil {
				s.breaker.RecordFailure(key)
			}
		} else {
			fired = true
			if s.breaker != nil {
				s.breaker.RecordSuccess(key)
			}
			log.Printf("scheduler: fired schedule=%s template=%s queue=%s", sched.ID, sched.Template, req.Queue)
		}
	}

	// Always advance: next_run must end up strictly after now.
	next := cronSched.Next(now)
	lastRun := now
	if err := s.store.UpdateScheduleRun(ctx, sched.ID, &lastRun, next); err != nil {
		return fired, fmt.Errorf("update next_run: %w", err)
	}
	return fired, nil
}

func (s *Scheduler) buildRequest(sched domain.Schedule) *domain.RunRequest {
	vars := make(map[string]any, len(sched.Variables))
	for k, v := range sched.Variables {
		vars[k] = v
	}

	queue := sched.Queue
	if queue == "" {
		queue = "default"
	}

	return &domain.RunRequest{
		Template:       sched.Template,
		Variables:      vars,
		Queue:          queue,
		Priority:       sched.Priority,
		ConcurrencyTag: "schedule_" + sched.ID.String(),
		Source:         "scheduler:" + sched.ID.String(),
	}
}
