package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)

	// Queue manager metrics
	EnqueueCompleted(queue, outcome string)
	DequeueAdmitted(queue string)
	TagBlocked(tag string)
	QueueDepthUpdate(queue string, depth int)
	RunCompleted(queue string)

	// Dispatcher metrics
	RunsInFlightIncr()
	RunsInFlightDecr()
	RunFinished(outcome string, duration time.Duration)
	RetryAttempt(retryable bool)
	RetryRateUpdate(rate float64)

	// Trigger metrics
	WatchEvent(outcome string)
	WebhookRequest(outcome string)

	// RunBus metrics
	BufferSizeUpdate(size int)
	EmitError()

	// Reconciler metrics
	OrphanedRunsUpdate(count int)
}

// Outcome constants for the EnqueueCompleted metric.
const (
	EnqueueAccepted     = "accepted"
	EnqueueFull         = "full"
	EnqueueUnknownQueue = "unknown_queue"
	EnqueueInvalid      = "invalid"
)
