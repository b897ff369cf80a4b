package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRunStatus_Values(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusRunning, "running"},
		{RunStatusCompleted, "completed"},
		{RunStatusFailed, "failed"},
		{RunStatusAbandoned, "abandoned"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("RunStatus = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestRunRequest_Lineage(t *testing.T) {
	first := &RunRequest{ID: uuid.New()}
	if first.Lineage() != first.ID {
		t.Error("first attempt lineage should be its own id")
	}

	retry := &RunRequest{ID: uuid.New(), OriginalRunID: first.ID}
	if retry.Lineage() != first.ID {
		t.Error("retry lineage should be the first attempt's id")
	}
}

func TestRunRequest_Clone_Independence(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := &RunRequest{
		ID:        uuid.New(),
		Template:  "invoice_import",
		Steps:     []string{"screenshot", "click_by_text"},
		Variables: map[string]any{"path": "/inbox/a.csv"},
		Retry:     &RetryConfig{MaxAttempts: 3},
		StartedAt: &started,
	}

	c := orig.Clone()
	c.Variables["path"] = "/inbox/b.csv"
	c.Steps[0] = "assert_text"
	c.Retry.MaxAttempts = 9
	*c.StartedAt = started.Add(time.Hour)

	if orig.Variables["path"] != "/inbox/a.csv" {
		t.Error("clone mutation leaked into original Variables")
	}
	if orig.Steps[0] != "screenshot" {
		t.Error("clone mutation leaked into original Steps")
	}
	if orig.Retry.MaxAttempts != 3 {
		t.Error("clone mutation leaked into original Retry")
	}
	if !orig.StartedAt.Equal(started) {
		t.Error("clone mutation leaked into original StartedAt")
	}
}

func TestRunRequest_Clone_NilFields(t *testing.T) {
	orig := &RunRequest{ID: uuid.New(), Template: "t"}
	c := orig.Clone()

	if c.Variables != nil || c.Steps != nil || c.Retry != nil || c.StartedAt != nil {
		t.Error("clone of nil fields should stay nil")
	}
}
