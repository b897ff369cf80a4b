package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Scheduler metrics
	s.TickStarted()
	s.TickCompleted(100*time.Millisecond, 5, nil)
	s.TickCompleted(100*time.Millisecond, 0, errors.New("list failed"))

	// Queue manager metrics
	s.EnqueueCompleted("default", EnqueueAccepted)
	s.EnqueueCompleted("default", EnqueueFull)
	s.DequeueAdmitted("default")
	s.TagBlocked("browser")
	s.QueueDepthUpdate("default", 7)
	s.RunCompleted("default")

	// Dispatcher metrics
	s.RunsInFlightIncr()
	s.RunsInFlightDecr()
	s.RunFinished("completed", 2*time.Second)
	s.RunFinished("failed", 2*time.Second)
	s.RetryAttempt(true)
	s.RetryAttempt(false)
	s.RetryRateUpdate(0.25)

	// Trigger metrics
	s.WatchEvent("triggered")
	s.WebhookRequest("accepted")

	// RunBus metrics
	s.BufferSizeUpdate(10)
	s.EmitError()

	// Reconciler metrics
	s.OrphanedRunsUpdate(3)
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
