package main

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/runmill/runmill/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

func TestLogConfigWarnings_NoReconciler(t *testing.T) {
	cfg := config.Config{
		ReconcileEnabled:        false,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
		RunnerSecret:            "s3cret",
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: RECONCILE_ENABLED=false") {
		t.Error("expected no-reconciler P0 warning, got:", output)
	}
	if strings.Contains(output, "METRICS_ENABLED=false") {
		t.Error("did not expect metrics warning when metrics enabled, got:", output)
	}
	if strings.Contains(output, "CIRCUIT_BREAKER_THRESHOLD=0") {
		t.Error("did not expect breaker warning when breaker enabled, got:", output)
	}
	if strings.Contains(output, "RUNNER_SECRET") {
		t.Error("did not expect secret warning when secret set, got:", output)
	}
}

func TestLogConfigWarnings_AllClear(t *testing.T) {
	cfg := config.Config{
		ReconcileEnabled:        true,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
		RunnerSecret:            "s3cret",
	}
	output := captureLogOutput(cfg)

	if strings.Contains(output, "WARNING") {
		t.Error("expected no warnings for a production-shaped config, got:", output)
	}
}

func TestLogConfigWarnings_UnsignedRunner(t *testing.T) {
	cfg := config.Config{
		ReconcileEnabled:        true,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: RUNNER_SECRET not set") {
		t.Error("expected unsigned-runner warning, got:", output)
	}
}

func TestLogConfigWarnings_BreakerDisabled(t *testing.T) {
	cfg := config.Config{
		ReconcileEnabled:        true,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 0,
		RunnerSecret:            "s3cret",
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0") {
		t.Error("expected breaker-disabled warning, got:", output)
	}
}
