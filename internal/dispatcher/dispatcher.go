// Package dispatcher is the consumer loop of the queue manager: a
// poller drains admitted requests onto the run bus, and workers execute
// them through a Runner, routing failures through the retry manager.
package dispatcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
	"github.com/runmill/runmill/internal/transport/channel"
)

// Runner executes one run request. The actual step runner is an
// external collaborator; the dispatcher only cares about the error.
type Runner interface {
	Run(ctx context.Context, req *domain.RunRequest) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req *domain.RunRequest) error

func (f RunnerFunc) Run(ctx context.Context, req *domain.RunRequest) error {
	return f(ctx, req)
}

// Queue is the slice of the queue manager the dispatcher needs.
type Queue interface {
	DequeueNext() *domain.RunRequest
	Complete(runID uuid.UUID) error
	Enqueue(queue string, req *domain.RunRequest) (uuid.UUID, error)
}

// Retryer is the slice of the retry manager the dispatcher needs.
type Retryer interface {
	HandleFailure(req *domain.RunRequest, runErr error) *domain.RunRequest
	RecordAttempt(runID uuid.UUID, attempt int, success bool, errMsg string)
	RetryRate() float64
}

// RunStore persists run lifecycle records.
type RunStore interface {
	InsertRun(ctx context.Context, rec domain.RunRecord) error
	FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, errMsg string, finishedAt time.Time) error
	InsertRetryAttempt(ctx context.Context, attempt domain.RetryAttempt) error
}

// AnalyticsSink records per-run analytics as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, req *domain.RunRequest)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RunsInFlightIncr()
	RunsInFlightDecr()
	RunFinished(outcome string, duration time.Duration)
	RetryAttempt(retryable bool)
	RetryRateUpdate(rate float64)
}

// Outcome labels for the RunFinished metric.
const (
	OutcomeSuccess = "success"
	OutcomeRetried = "retried"
	OutcomeFailed  = "failed"
)

type Config struct {
	// Workers is the number of concurrent run executors. Default: 4.
	Workers int
	// PollInterval is the idle sleep between admission sweeps.
	// Default: 250ms.
	PollInterval time.Duration
	// DrainTimeout bounds how long buffered runs are processed during
	// shutdown. Default: 30s.
	DrainTimeout time.Duration
}

type Dispatcher struct {
	config    Config
	queues    Queue
	runner    Runner
	retries   Retryer
	store     RunStore      // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	clock     func() time.Time
}

func New(config Config, queues Queue, runner Runner, retries Retryer) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 30 * time.Second
	}
	return &Dispatcher{
		config:  config,
		queues:  queues,
		runner:  runner,
		retries: retries,
		clock:   time.Now,
	}
}

// WithStore attaches a run record store to the dispatcher.
func (d *Dispatcher) WithStore(store RunStore) *Dispatcher {
	d.store = store
	return d
}

// WithAnalytics attaches an analytics sink to the dispatcher.
func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Run starts the admission poller and worker pool and blocks until ctx
// is cancelled. After cancellation the workers drain buffered runs with
// a bounded timeout.
func (d *Dispatcher) Run(ctx context.Context, bus *channel.RunBus) {
	var wg sync.WaitGroup

	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.worker(ctx, id, bus)
		}(i)
	}

	log.Printf("dispatcher: started (workers=%d, poll=%s)", d.config.Workers, d.config.PollInterval)
	d.poll(ctx, bus)
	wg.Wait()
	log.Println("dispatcher: stopped")
}

// poll sweeps the queue manager for admissible requests and emits them
// onto the bus, sleeping between empty sweeps.
func (d *Dispatcher) poll(ctx context.Context, bus *channel.RunBus) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				req := d.queues.DequeueNext()
				if req == nil {
					break
				}
				if err := bus.Emit(ctx, req); err != nil {
					// Shutdown while emitting: the run was admitted but
					// never executed. Release its slot so the
					// reconciler is not needed for a clean stop.
					if cerr := d.queues.Complete(req.ID); cerr != nil {
						log.Printf("dispatcher: release on shutdown failed: %v", cerr)
					}
					return
				}
			}
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int, bus *channel.RunBus) {
	for {
		select {
		case <-ctx.Done():
			d.drain(id, bus)
			return
		case req := <-bus.Channel():
			d.execute(ctx, req)
		}
	}
}

// drain processes remaining buffered runs after the shutdown signal.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(id int, bus *channel.RunBus) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.config.DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatcher: worker %d drain timeout, processed %d runs", id, count)
			}
			return
		case req := <-bus.Channel():
			d.execute(drainCtx, req)
			count++
		default:
			if count > 0 {
				log.Printf("dispatcher: worker %d drain complete, processed %d runs", id, count)
			}
			return
		}
	}
}

// execute runs one request end to end: record, run, release the queue
// slot, and either finish or hand the failure to the retry manager.
func (d *Dispatcher) execute(ctx context.Context, req *domain.RunRequest) {
	if d.metrics != nil {
		d.metrics.RunsInFlightIncr()
		defer d.metrics.RunsInFlightDecr()
	}

	started := d.clock().UTC()
	d.recordStart(ctx, req, started)
	if d.analytics != nil {
		d.analytics.Record(ctx, req)
	}

	runErr := d.runner.Run(ctx, req)
	duration := d.clock().Sub(started)

	if err := d.queues.Complete(req.ID); err != nil {
		log.Printf("dispatcher: complete run=%s: %v", req.ID, err)
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	d.retries.RecordAttempt(req.Lineage(), req.Attempt, runErr == nil, errMsg)
	d.recordRetryAttempt(ctx, req, runErr == nil, errMsg)
	if d.metrics != nil {
		d.metrics.RetryRateUpdate(d.retries.RetryRate())
	}

	if runErr == nil {
		d.finishRun(ctx, req.ID, domain.RunStatusCompleted, "")
		if d.metrics != nil {
			d.metrics.RunFinished(OutcomeSuccess, duration)
		}
		log.Printf("dispatcher: run=%s template=%s completed attempt=%d in %s",
			req.ID, req.Template, req.Attempt, duration.Round(time.Millisecond))
		return
	}

	// The failed attempt is terminal for its own record either way; the
	// retry, if any, is a new run with its own id.
	d.finishRun(ctx, req.ID, domain.RunStatusFailed, errMsg)

	next := d.retries.HandleFailure(req, runErr)
	if next == nil {
		if d.metrics != nil {
			d.metrics.RunFinished(OutcomeFailed, duration)
		}
		log.Printf("dispatcher: run=%s template=%s failed terminally attempt=%d: %v",
			req.ID, req.Template, req.Attempt, runErr)
		return
	}

	if d.metrics != nil {
		d.metrics.RetryAttempt(true)
	}
	if _, err := d.queues.Enqueue(next.Queue, next); err != nil {
		log.Printf("dispatcher: run=%s retry enqueue failed: %v", next.Lineage(), err)
		if d.metrics != nil {
			d.metrics.RunFinished(OutcomeFailed, duration)
		}
		return
	}
	if d.metrics != nil {
		d.metrics.RunFinished(OutcomeRetried, duration)
	}
	log.Printf("dispatcher: run=%s attempt=%d requeued (not before %s)",
		next.Lineage(), next.Attempt, next.NotBefore.Format(time.RFC3339))
}

func (d *Dispatcher) recordStart(ctx context.Context, req *domain.RunRequest, started time.Time) {
	if d.store == nil {
		return
	}
	rec := domain.RunRecord{
		ID:            req.ID,
		OriginalRunID: req.OriginalRunID,
		Template:      req.Template,
		Queue:         req.Queue,
		Source:        req.Source,
		Attempt:       req.Attempt,
		Status:        domain.RunStatusRunning,
		StartedAt:     started,
	}
	if err := d.store.InsertRun(ctx, rec); err != nil {
		log.Printf("dispatcher: failed to record run start: %v", err)
	}
}

func (d *Dispatcher) finishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, errMsg string) {
	if d.store == nil {
		return
	}
	if err := d.store.FinishRun(ctx, id, status, errMsg, d.clock().UTC()); err != nil {
		log.Printf("dispatcher: failed to record run finish: %v", err)
	}
}

func (d *Dispatcher) recordRetryAttempt(ctx context.Context, req *domain.RunRequest, success bool, errMsg string) {
	if d.store == nil {
		return
	}
	attempt := domain.RetryAttempt{
		RunID:     req.Lineage(),
		Attempt:   req.Attempt,
		Timestamp: d.clock().UTC(),
		Success:   success,
		Error:     errMsg,
	}
	if err := d.store.InsertRetryAttempt(ctx, attempt); err != nil {
		log.Printf("dispatcher: failed to record attempt: %v", err)
	}
}
