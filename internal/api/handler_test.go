package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
	"github.com/runmill/runmill/internal/queue"
)

type fakeStore struct {
	schedules []domain.Schedule
	watches   []domain.WatchConfig
	webhooks  []domain.WebhookConfig
	runs      []domain.RunRecord

	deleteErr error
}

func (s *fakeStore) CreateSchedule(_ context.Context, sched domain.Schedule) error {
	s.schedules = append(s.schedules, sched)
	return nil
}

func (s *fakeStore) ListSchedules(_ context.Context, _, _ int) ([]domain.Schedule, error) {
	return s.schedules, nil
}

func (s *fakeStore) DeleteSchedule(_ context.Context, _ uuid.UUID) error { return s.deleteErr }

func (s *fakeStore) CreateWatchConfig(_ context.Context, cfg domain.WatchConfig) error {
	s.watches = append(s.watches, cfg)
	return nil
}

func (s *fakeStore) ListWatchConfigs(_ context.Context, _, _ int) ([]domain.WatchConfig, error) {
	return s.watches, nil
}

func (s *fakeStore) DeleteWatchConfig(_ context.Context, _ uuid.UUID) error { return s.deleteErr }

func (s *fakeStore) ListEnabledWatchConfigs(_ context.Context) ([]domain.WatchConfig, error) {
	return s.watches, nil
}

func (s *fakeStore) CreateWebhookConfig(_ context.Context, cfg domain.WebhookConfig) error {
	s.webhooks = append(s.webhooks, cfg)
	return nil
}

func (s *fakeStore) ListWebhookConfigs(_ context.Context, _, _ int) ([]domain.WebhookConfig, error) {
	return s.webhooks, nil
}

func (s *fakeStore) DeleteWebhookConfig(_ context.Context, _ uuid.UUID) error { return s.deleteErr }

func (s *fakeStore) ListEnabledWebhookConfigs(_ context.Context) ([]domain.WebhookConfig, error) {
	return s.webhooks, nil
}

func (s *fakeStore) ListRuns(_ context.Context, _, _ int) ([]domain.RunRecord, error) {
	return s.runs, nil
}

type fakeWatchReloader struct {
	reloads int
}

func (r *fakeWatchReloader) Reload(_ []domain.WatchConfig) error {
	r.reloads++
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeStore, *queue.Manager) {
	t.Helper()
	store := &fakeStore{}
	queues := queue.NewManager()
	if err := queues.CreateQueue("default", 4, 100); err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}
	return NewHandler(store, queues), store, queues
}

func do(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCreateSchedule(t *testing.T) {
	h, store, _ := newTestHandler(t)

	body := `{"name":"nightly","cron_expression":"0 2 * * *","template":"backup"}`
	rec := do(h, http.MethodPost, "/schedules", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if len(store.schedules) != 1 {
		t.Fatalf("stored %d schedules, want 1", len(store.schedules))
	}
	if !store.schedules[0].Enabled {
		t.Error("new schedules should be enabled")
	}
}

func TestCreateSchedule_InvalidCron(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"name":"bad","cron_expression":"not a cron","template":"backup"}`
	rec := do(h, http.MethodPost, "/schedules", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateSchedule_MissingFields(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, http.MethodPost, "/schedules", `{"name":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteSchedule_NotFound(t *testing.T) {
	h, store, _ := newTestHandler(t)
	store.deleteErr = sql.ErrNoRows

	rec := do(h, http.MethodDelete, "/schedules/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteSchedule_InvalidID(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, http.MethodDelete, "/schedules/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateWatch_ReloadsTrigger(t *testing.T) {
	h, _, _ := newTestHandler(t)
	reloader := &fakeWatchReloader{}
	h.WithWatchReloader(reloader)

	body := `{"name":"inbox","watch_path":"/data/inbox","patterns":["*.csv"],"template":"import"}`
	rec := do(h, http.MethodPost, "/watches", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if reloader.reloads != 1 {
		t.Errorf("reloads = %d, want 1", reloader.reloads)
	}
}

func TestCreateWatch_BadEvent(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"name":"inbox","watch_path":"/data/inbox","events":["renamed"],"template":"import"}`
	rec := do(h, http.MethodPost, "/watches", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateWebhook(t *testing.T) {
	h, store, _ := newTestHandler(t)

	body := `{"name":"deploy","endpoint":"/deploy","template":"deploy","secret":"s3cret"}`
	rec := do(h, http.MethodPost, "/webhooks", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	// The secret itself never appears in a response.
	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Error("secret leaked in response")
	}
	if !strings.Contains(rec.Body.String(), `"has_secret":true`) {
		t.Errorf("body = %s, want has_secret true", rec.Body.String())
	}
	if len(store.webhooks) != 1 {
		t.Fatalf("stored %d webhooks, want 1", len(store.webhooks))
	}
}

func TestCreateWebhook_BadEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"name":"deploy","endpoint":"deploy","template":"deploy"}`
	rec := do(h, http.MethodPost, "/webhooks", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unrooted endpoint", rec.Code)
	}
}

func TestEnqueueRun(t *testing.T) {
	h, _, queues := newTestHandler(t)

	body := `{"template":"backup","priority":7}`
	rec := do(h, http.MethodPost, "/runs", body)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}

	var resp EnqueueRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Queue != "default" {
		t.Errorf("queue = %q, want default", resp.Queue)
	}

	admitted := queues.DequeueNext()
	if admitted == nil || admitted.Template != "backup" || admitted.Priority != 7 {
		t.Errorf("admitted = %+v", admitted)
	}
	if admitted.Source != "manual" {
		t.Errorf("Source = %q, want manual", admitted.Source)
	}
}

func TestEnqueueRun_QueueFull(t *testing.T) {
	store := &fakeStore{}
	queues := queue.NewManager()
	queues.CreateQueue("tiny", 1, 1)
	h := NewHandler(store, queues)

	do(h, http.MethodPost, "/runs", `{"template":"a","queue":"tiny"}`)
	rec := do(h, http.MethodPost, "/runs", `{"template":"b","queue":"tiny"}`)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestEnqueueRun_UnknownQueue(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, http.MethodPost, "/runs", `{"template":"a","queue":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEnqueueRun_WithRetryConfig(t *testing.T) {
	h, _, queues := newTestHandler(t)

	body := `{"template":"backup","retry":{"max_attempts":5,"base_backoff_ms":2000,"only_idempotent":true}}`
	rec := do(h, http.MethodPost, "/runs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	admitted := queues.DequeueNext()
	if admitted.Retry == nil {
		t.Fatal("retry config not carried")
	}
	if admitted.Retry.MaxAttempts != 5 || !admitted.Retry.OnlyIdempotent {
		t.Errorf("retry = %+v", admitted.Retry)
	}
}

func TestQueueAdmin(t *testing.T) {
	h, _, queues := newTestHandler(t)

	rec := do(h, http.MethodPost, "/queues", `{"name":"bulk","max_concurrent":2,"max_queued":50}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create queue status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(h, http.MethodGet, "/queues", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "bulk") {
		t.Errorf("list queues = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(h, http.MethodPost, "/queues/bulk/pause", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("pause status = %d, want 204", rec.Code)
	}

	queues.Enqueue("bulk", &domain.RunRequest{Template: "job", Source: "manual"})
	if queues.DequeueNext() != nil {
		t.Error("paused queue must not admit")
	}

	rec = do(h, http.MethodPost, "/queues/bulk/resume", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("resume status = %d, want 204", rec.Code)
	}
	if queues.DequeueNext() == nil {
		t.Error("resumed queue should admit")
	}

	rec = do(h, http.MethodPost, "/queues/missing/pause", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("pause missing queue = %d, want 404", rec.Code)
	}
}

func TestListQueuedRuns(t *testing.T) {
	h, _, queues := newTestHandler(t)
	queues.Enqueue("default", &domain.RunRequest{Template: "job", Source: "manual"})

	rec := do(h, http.MethodGet, "/queues/default/queued", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "job") {
		t.Errorf("queued = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSetTagLimit(t *testing.T) {
	h, _, queues := newTestHandler(t)

	rec := do(h, http.MethodPut, "/tags/desktop/limit", `{"limit":2}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if queues.GetTagLimit("desktop") != 2 {
		t.Errorf("tag limit = %d, want 2", queues.GetTagLimit("desktop"))
	}
}

func TestStats(t *testing.T) {
	h, _, queues := newTestHandler(t)

	id, _ := queues.Enqueue("default", &domain.RunRequest{Template: "job", Source: "manual"})
	queues.DequeueNext()
	queues.Complete(id)

	rec := do(h, http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.CompletedLast24h != 1 {
		t.Errorf("completed_last_24h = %d, want 1", resp.CompletedLast24h)
	}
	if resp.PeakQueueDepth != 1 {
		t.Errorf("peak_queue_depth = %d, want 1", resp.PeakQueueDepth)
	}
}

func TestPagination(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, http.MethodGet, "/runs?limit=5000", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("over-limit status = %d, want 400", rec.Code)
	}

	rec = do(h, http.MethodGet, "/runs?offset=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative offset status = %d, want 400", rec.Code)
	}

	rec = do(h, http.MethodGet, "/runs?limit=10&offset=20", "")
	if rec.Code != http.StatusOK {
		t.Errorf("valid pagination status = %d, want 200", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestInvalidJSON(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, http.MethodPost, "/runs", `{broken`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
