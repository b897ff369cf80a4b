package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                           {}
func (n *NoopSink) TickCompleted(duration time.Duration, fired int, err error) {}
func (n *NoopSink) EnqueueCompleted(queue, outcome string)                 {}
func (n *NoopSink) DequeueAdmitted(queue string)                           {}
func (n *NoopSink) TagBlocked(tag string)                                  {}
func (n *NoopSink) QueueDepthUpdate(queue string, depth int)               {}
func (n *NoopSink) RunCompleted(queue string)                              {}
func (n *NoopSink) RunsInFlightIncr()                                      {}
func (n *NoopSink) RunsInFlightDecr()                                      {}
func (n *NoopSink) RunFinished(outcome string, duration time.Duration)     {}
func (n *NoopSink) RetryAttempt(retryable bool)                            {}
func (n *NoopSink) RetryRateUpdate(rate float64)                           {}
func (n *NoopSink) WatchEvent(outcome string)                              {}
func (n *NoopSink) WebhookRequest(outcome string)                          {}
func (n *NoopSink) BufferSizeUpdate(size int)                              {}
func (n *NoopSink) EmitError()                                             {}
func (n *NoopSink) OrphanedRunsUpdate(count int)                           {}
