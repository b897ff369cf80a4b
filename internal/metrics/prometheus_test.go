package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_TickStarted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickStarted()
	sink.TickStarted()

	val := getCounterValue(t, reg, "runmill_scheduler_ticks_total")
	if val != 2 {
		t.Errorf("ticks_total = %v, want 2", val)
	}
}

func TestPrometheusSink_TickCompleted_WithError(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickCompleted(100*time.Millisecond, 5, nil)
	errCount := getCounterValue(t, reg, "runmill_scheduler_tick_errors_total")
	if errCount != 0 {
		t.Errorf("tick_errors_total = %v after success, want 0", errCount)
	}
	fired := getCounterValue(t, reg, "runmill_scheduler_schedules_fired_total")
	if fired != 5 {
		t.Errorf("schedules_fired_total = %v, want 5", fired)
	}

	sink.TickCompleted(100*time.Millisecond, 0, errors.New("db error"))
	errCount = getCounterValue(t, reg, "runmill_scheduler_tick_errors_total")
	if errCount != 1 {
		t.Errorf("tick_errors_total = %v after error, want 1", errCount)
	}
}

func TestPrometheusSink_EnqueueOutcomeLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.EnqueueCompleted("default", EnqueueAccepted)
	sink.EnqueueCompleted("default", EnqueueAccepted)
	sink.EnqueueCompleted("default", EnqueueFull)
	sink.EnqueueCompleted("bulk", EnqueueUnknownQueue)

	accepted := getCounterVecValue(t, reg, "runmill_queue_enqueues_total",
		map[string]string{"queue": "default", "outcome": "accepted"})
	if accepted != 2 {
		t.Errorf("queue=default,outcome=accepted = %v, want 2", accepted)
	}

	full := getCounterVecValue(t, reg, "runmill_queue_enqueues_total",
		map[string]string{"queue": "default", "outcome": "full"})
	if full != 1 {
		t.Errorf("queue=default,outcome=full = %v, want 1", full)
	}

	unknown := getCounterVecValue(t, reg, "runmill_queue_enqueues_total",
		map[string]string{"queue": "bulk", "outcome": "unknown_queue"})
	if unknown != 1 {
		t.Errorf("queue=bulk,outcome=unknown_queue = %v, want 1", unknown)
	}
}

func TestPrometheusSink_TagBlocked(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TagBlocked("browser")
	sink.TagBlocked("browser")
	sink.TagBlocked("desktop")

	browser := getCounterVecValue(t, reg, "runmill_queue_tag_blocked_total",
		map[string]string{"tag": "browser"})
	if browser != 2 {
		t.Errorf("tag=browser = %v, want 2", browser)
	}
}

func TestPrometheusSink_RunOutcomes(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunFinished("completed", time.Second)
	sink.RunFinished("failed", time.Second)
	sink.RunFinished("completed", time.Second)

	completed := getCounterVecValue(t, reg, "runmill_dispatcher_run_outcomes_total",
		map[string]string{"outcome": "completed"})
	if completed != 2 {
		t.Errorf("outcome=completed = %v, want 2", completed)
	}

	failed := getCounterVecValue(t, reg, "runmill_dispatcher_run_outcomes_total",
		map[string]string{"outcome": "failed"})
	if failed != 1 {
		t.Errorf("outcome=failed = %v, want 1", failed)
	}
}

func TestPrometheusSink_RunsInFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunsInFlightIncr()
	sink.RunsInFlightIncr()
	sink.RunsInFlightDecr()

	val := getGaugeValue(t, reg, "runmill_dispatcher_runs_in_flight")
	if val != 1 {
		t.Errorf("runs_in_flight = %v, want 1", val)
	}
}

func TestPrometheusSink_QueueDepthAndRetryRate(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.QueueDepthUpdate("default", 7)
	sink.RetryRateUpdate(0.25)

	// GaugeVec values surface through the same gather path as plain gauges.
	depth := getGaugeValue(t, reg, "runmill_queue_depth")
	if depth != 7 {
		t.Errorf("queue_depth = %v, want 7", depth)
	}

	rate := getGaugeValue(t, reg, "runmill_dispatcher_retry_rate")
	if rate != 0.25 {
		t.Errorf("retry_rate = %v, want 0.25", rate)
	}
}

func TestPrometheusSink_BusMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BufferSizeUpdate(42)
	sink.EmitError()

	size := getGaugeValue(t, reg, "runmill_runbus_buffer_size")
	if size != 42 {
		t.Errorf("buffer_size = %v, want 42", size)
	}

	emitErrs := getCounterValue(t, reg, "runmill_runbus_emit_errors_total")
	if emitErrs != 1 {
		t.Errorf("emit_errors_total = %v, want 1", emitErrs)
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	// The second registration fails for every metric but must be handled
	// gracefully, leaving a functional sink behind.
	reg := prometheus.NewRegistry()

	sink1 := NewPrometheusSink(reg)
	if sink1 == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}

	sink2 := NewPrometheusSink(reg)
	if sink2 == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
	sink2.TickStarted()
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
