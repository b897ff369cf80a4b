package watcher

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
	"github.com/runmill/runmill/internal/testutil"
)

type fakeEnqueuer struct {
	requests []*domain.RunRequest
}

func (e *fakeEnqueuer) Enqueue(_ string, req *domain.RunRequest) (uuid.UUID, error) {
	e.requests = append(e.requests, req)
	return uuid.New(), nil
}

func newTestTrigger(t *testing.T, enq *fakeEnqueuer, cfg domain.WatchConfig) (*Trigger, *testutil.FakeClock) {
	t.Helper()

	trigger, err := New(enq)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { trigger.Stop() })

	clock := testutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	trigger.clock = clock.Now

	if err := trigger.Reload([]domain.WatchConfig{cfg}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	return trigger, clock
}

func watchConfig(dir string) domain.WatchConfig {
	return domain.WatchConfig{
		ID:        uuid.New(),
		Name:      "csv-import",
		WatchPath: dir,
		Patterns:  []string{"*.csv"},
		Events:    []domain.WatchEventType{domain.WatchEventCreated},
		Debounce:  5 * time.Second,
		Template:  "import-csv",
		Queue:     "default",
		Enabled:   true,
	}
}

func TestDispatchEvent_MatchTriggers(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	trigger, _ := newTestTrigger(t, enq, watchConfig(dir))

	path := filepath.Join(dir, "invoices.csv")
	trigger.dispatchEvent(domain.WatchEventCreated, path)

	if len(enq.requests) != 1 {
		t.Fatalf("enqueued %d requests, want 1", len(enq.requests))
	}
	req := enq.requests[0]
	if req.Template != "import-csv" {
		t.Errorf("Template = %q", req.Template)
	}
	if req.Variables["trigger_file"] != path {
		t.Errorf("trigger_file = %v, want %s", req.Variables["trigger_file"], path)
	}
	if req.Variables["trigger_event"] != "created" {
		t.Errorf("trigger_event = %v", req.Variables["trigger_event"])
	}
	if req.Variables["trigger_filename"] != "invoices.csv" {
		t.Errorf("trigger_filename = %v", req.Variables["trigger_filename"])
	}
}

func TestDispatchEvent_PatternMismatch(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	trigger, _ := newTestTrigger(t, enq, watchConfig(dir))

	trigger.dispatchEvent(domain.WatchEventCreated, filepath.Join(dir, "notes.txt"))

	if len(enq.requests) != 0 {
		t.Errorf("enqueued %d requests for non-matching file, want 0", len(enq.requests))
	}
}

func TestDispatchEvent_EventTypeFilter(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	trigger, _ := newTestTrigger(t, enq, watchConfig(dir))

	// Config only subscribes to created events.
	trigger.dispatchEvent(domain.WatchEventDeleted, filepath.Join(dir, "invoices.csv"))

	if len(enq.requests) != 0 {
		t.Errorf("enqueued %d requests for unsubscribed event type, want 0", len(enq.requests))
	}
}

func TestDispatchEvent_PathOutsideRoot(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	trigger, _ := newTestTrigger(t, enq, watchConfig(dir))

	trigger.dispatchEvent(domain.WatchEventCreated, "/elsewhere/invoices.csv")

	if len(enq.requests) != 0 {
		t.Errorf("enqueued %d requests for a path outside the root, want 0", len(enq.requests))
	}
}

func TestDispatchEvent_Debounce(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	trigger, clock := newTestTrigger(t, enq, watchConfig(dir))

	path := filepath.Join(dir, "invoices.csv")
	trigger.dispatchEvent(domain.WatchEventCreated, path)
	clock.Advance(2 * time.Second)
	trigger.dispatchEvent(domain.WatchEventCreated, path)

	if len(enq.requests) != 1 {
		t.Fatalf("enqueued %d requests within debounce window, want 1", len(enq.requests))
	}

	clock.Advance(4 * time.Second)
	trigger.dispatchEvent(domain.WatchEventCreated, path)

	if len(enq.requests) != 2 {
		t.Errorf("enqueued %d requests after window elapsed, want 2", len(enq.requests))
	}
}

func TestDispatchEvent_DebouncePerPath(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	trigger, _ := newTestTrigger(t, enq, watchConfig(dir))

	trigger.dispatchEvent(domain.WatchEventCreated, filepath.Join(dir, "a.csv"))
	trigger.dispatchEvent(domain.WatchEventCreated, filepath.Join(dir, "b.csv"))

	// Different paths debounce independently.
	if len(enq.requests) != 2 {
		t.Errorf("enqueued %d requests for distinct paths, want 2", len(enq.requests))
	}
}

func TestReload_SkipsDisabledConfigs(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	cfg := watchConfig(dir)
	cfg.Enabled = false
	trigger, _ := newTestTrigger(t, enq, cfg)

	trigger.dispatchEvent(domain.WatchEventCreated, filepath.Join(dir, "invoices.csv"))

	if len(enq.requests) != 0 {
		t.Errorf("disabled config triggered %d requests, want 0", len(enq.requests))
	}
}

func TestReload_DefaultEvents(t *testing.T) {
	dir := t.TempDir()
	enq := &fakeEnqueuer{}
	cfg := watchConfig(dir)
	cfg.Events = nil
	trigger, _ := newTestTrigger(t, enq, cfg)

	// With no events configured, created and modified both trigger.
	trigger.dispatchEvent(domain.WatchEventCreated, filepath.Join(dir, "a.csv"))
	trigger.dispatchEvent(domain.WatchEventModified, filepath.Join(dir, "b.csv"))
	trigger.dispatchEvent(domain.WatchEventDeleted, filepath.Join(dir, "c.csv"))

	if len(enq.requests) != 2 {
		t.Errorf("enqueued %d requests under default events, want 2", len(enq.requests))
	}
}

func TestPathUnder(t *testing.T) {
	tests := []struct {
		root, path string
		want       bool
	}{
		{"/data", "/data", true},
		{"/data", "/data/file.csv", true},
		{"/data", "/data/sub/file.csv", true},
		{"/data", "/database/file.csv", false},
		{"/data", "/other", false},
	}
	for _, tt := range tests {
		if got := pathUnder(tt.root, tt.path); got != tt.want {
			t.Errorf("pathUnder(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}
