package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal         prometheus.Counter
	tickErrorsTotal    prometheus.Counter
	schedulesFired     prometheus.Counter
	tickDuration       prometheus.Histogram

	// Queue manager metrics
	enqueuesTotal   *prometheus.CounterVec
	admissionsTotal *prometheus.CounterVec
	tagBlockedTotal *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	completedTotal  *prometheus.CounterVec

	// Dispatcher metrics
	runsInFlight       prometheus.Gauge
	runOutcomesTotal   *prometheus.CounterVec
	runDuration        prometheus.Histogram
	retryAttemptsTotal *prometheus.CounterVec
	retryRate          prometheus.Gauge

	// Trigger metrics
	watchEventsTotal     *prometheus.CounterVec
	webhookRequestsTotal *prometheus.CounterVec

	// RunBus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Reconciler metrics
	orphanedRuns prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initQueueMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initTriggerMetrics(reg)
	s.initBusMetrics(reg)
	s.initReconcilerMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runmill_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runmill_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.schedulesFired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runmill_scheduler_schedules_fired_total",
		Help: "Total number of schedules fired (run requests emitted).",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "runmill_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.ticksTotal, "runmill_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "runmill_scheduler_tick_errors_total")
	s.register(reg, s.schedulesFired, "runmill_scheduler_schedules_fired_total")
	s.register(reg, s.tickDuration, "runmill_scheduler_tick_duration_seconds")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.enqueuesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmill_queue_enqueues_total",
		Help: "Total number of enqueue attempts per queue and outcome.",
	}, []string{"queue", "outcome"})

	s.admissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmill_queue_admissions_total",
		Help: "Total number of requests admitted to execution per queue.",
	}, []string{"queue"})

	s.tagBlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmill_queue_tag_blocked_total",
		Help: "Total number of admissions deferred by a concurrency tag limit.",
	}, []string{"tag"})

	s.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "runmill_queue_depth",
		Help: "Current queued plus running count per queue.",
	}, []string{"queue"})

	s.completedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmill_queue_completions_total",
		Help: "Total number of completed runs per queue.",
	}, []string{"queue"})

	s.register(reg, s.enqueuesTotal, "runmill_queue_enqueues_total")
	s.register(reg, s.admissionsTotal, "runmill_queue_admissions_total")
	s.register(reg, s.tagBlockedTotal, "runmill_queue_tag_blocked_total")
	s.register(reg, s.queueDepth, "runmill_queue_depth")
	s.register(reg, s.completedTotal, "runmill_queue_completions_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "runmill_dispatcher_runs_in_flight",
		Help: "Number of runs currently executing.",
	})

	s.runOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmill_dispatcher_run_outcomes_total",
		Help: "Total number of finished run attempts per outcome.",
	}, []string{"outcome"})

	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "runmill_dispatcher_run_duration_seconds",
		Help:    "Run execution latency in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmill_dispatcher_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.retryRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "runmill_dispatcher_retry_rate",
		Help: "Fraction of run lineages in the last 24h that needed more than one attempt.",
	})

	s.register(reg, s.runsInFlight, "runmill_dispatcher_runs_in_flight")
	s.register(reg, s.runOutcomesTotal, "runmill_dispatcher_run_outcomes_total")
	s.register(reg, s.runDuration, "runmill_dispatcher_run_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "runmill_dispatcher_retry_attempts_total")
	s.register(reg, s.retryRate, "runmill_dispatcher_retry_rate")
}

func (s *PrometheusSink) initTriggerMetrics(reg prometheus.Registerer) {
	s.watchEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmill_watcher_events_total",
		Help: "Total number of filesystem events per outcome.",
	}, []string{"outcome"})

	s.webhookRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmill_webhook_requests_total",
		Help: "Total number of inbound webhook requests per outcome.",
	}, []string{"outcome"})

	s.register(reg, s.watchEventsTotal, "runmill_watcher_events_total")
	s.register(reg, s.webhookRequestsTotal, "runmill_webhook_requests_total")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "runmill_runbus_buffer_size",
		Help: "Current number of requests in the run bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runmill_runbus_emit_errors_total",
		Help: "Total number of emit errors (cancelled while buffer full).",
	})

	s.register(reg, s.bufferSize, "runmill_runbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "runmill_runbus_emit_errors_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.orphanedRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "runmill_reconciler_orphaned_runs",
		Help: "Number of stale running runs found in the last sweep.",
	})

	s.register(reg, s.orphanedRuns, "runmill_reconciler_orphaned_runs")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, fired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.schedulesFired.Add(float64(fired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

// Queue manager metrics implementation

func (s *PrometheusSink) EnqueueCompleted(queue, outcome string) {
	s.enqueuesTotal.WithLabelValues(queue, outcome).Inc()
}

func (s *PrometheusSink) DequeueAdmitted(queue string) {
	s.admissionsTotal.WithLabelValues(queue).Inc()
}

func (s *PrometheusSink) TagBlocked(tag string) {
	s.tagBlockedTotal.WithLabelValues(tag).Inc()
}

func (s *PrometheusSink) QueueDepthUpdate(queue string, depth int) {
	s.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (s *PrometheusSink) RunCompleted(queue string) {
	s.completedTotal.WithLabelValues(queue).Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) RunsInFlightIncr() {
	s.runsInFlight.Inc()
}

func (s *PrometheusSink) RunsInFlightDecr() {
	s.runsInFlight.Dec()
}

func (s *PrometheusSink) RunFinished(outcome string, duration time.Duration) {
	s.runOutcomesTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

func (s *PrometheusSink) RetryRateUpdate(rate float64) {
	s.retryRate.Set(rate)
}

// Trigger metrics implementation

func (s *PrometheusSink) WatchEvent(outcome string) {
	s.watchEventsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) WebhookRequest(outcome string) {
	s.webhookRequestsTotal.WithLabelValues(outcome).Inc()
}

// RunBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Reconciler metrics implementation

func (s *PrometheusSink) OrphanedRunsUpdate(count int) {
	s.orphanedRuns.Set(float64(count))
}
