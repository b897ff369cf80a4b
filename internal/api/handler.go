// Package api serves the admin HTTP surface: trigger config CRUD,
// manual run submission, queue administration, and health.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
	"github.com/runmill/runmill/internal/queue"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type Store interface {
	CreateSchedule(ctx context.Context, sched domain.Schedule) error
	ListSchedules(ctx context.Context, limit, offset int) ([]domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id uuid.UUID) error

	CreateWatchConfig(ctx context.Context, cfg domain.WatchConfig) error
	ListWatchConfigs(ctx context.Context, limit, offset int) ([]domain.WatchConfig, error)
	DeleteWatchConfig(ctx context.Context, id uuid.UUID) error
	ListEnabledWatchConfigs(ctx context.Context) ([]domain.WatchConfig, error)

	CreateWebhookConfig(ctx context.Context, cfg domain.WebhookConfig) error
	ListWebhookConfigs(ctx context.Context, limit, offset int) ([]domain.WebhookConfig, error)
	DeleteWebhookConfig(ctx context.Context, id uuid.UUID) error
	ListEnabledWebhookConfigs(ctx context.Context) ([]domain.WebhookConfig, error)

	ListRuns(ctx context.Context, limit, offset int) ([]domain.RunRecord, error)
}

// QueueAdmin is the slice of the queue manager the API needs.
type QueueAdmin interface {
	CreateQueue(name string, maxConcurrent, maxQueued int) error
	Enqueue(queueName string, req *domain.RunRequest) (uuid.UUID, error)
	PauseQueue(name string) error
	ResumeQueue(name string) error
	ListQueued(name string) ([]*domain.RunRequest, error)
	QueueStats(name string) (queue.Stats, error)
	Queues() []string
	SetTagLimit(tag string, limit int)
	CompletedInWindow() int
	PeakDepth() int
}

// WatchReloader receives the enabled watch configs after a mutation.
type WatchReloader interface {
	Reload(configs []domain.WatchConfig) error
}

// WebhookReloader receives the enabled webhook configs after a mutation.
type WebhookReloader interface {
	Reload(configs []domain.WebhookConfig)
}

// RetryStats exposes the rolling retry rate for the stats endpoint.
type RetryStats interface {
	RetryRate() float64
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store    Store
	queues   QueueAdmin
	watches  WatchReloader   // optional, nil = no live reload
	webhooks WebhookReloader // optional, nil = no live reload
	retries  RetryStats      // optional, nil = stats omit retry rate
	db       HealthChecker   // optional, nil = simple health only
}

func NewHandler(store Store, queues QueueAdmin) *Handler {
	return &Handler{store: store, queues: queues}
}

// WithWatchReloader wires live watcher reloads after watch mutations.
func (h *Handler) WithWatchReloader(r WatchReloader) *Handler {
	h.watches = r
	return h
}

// WithWebhookReloader wires live registry reloads after webhook mutations.
func (h *Handler) WithWebhookReloader(r WebhookReloader) *Handler {
	h.webhooks = r
	return h
}

// WithRetryStats adds the retry rate to the /stats response.
func (h *Handler) WithRetryStats(r RetryStats) *Handler {
	h.retries = r
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/schedules" && r.Method == http.MethodPost:
		h.createSchedule(w, r)
	case path == "/schedules" && r.Method == http.MethodGet:
		h.listSchedules(w, r)
	case strings.HasPrefix(path, "/schedules/") && r.Method == http.MethodDelete:
		h.deleteSchedule(w, r)

	case path == "/watches" && r.Method == http.MethodPost:
		h.createWatch(w, r)
	case path == "/watches" && r.Method == http.MethodGet:
		h.listWatches(w, r)
	case strings.HasPrefix(path, "/watches/") && r.Method == http.MethodDelete:
		h.deleteWatch(w, r)

	case path == "/webhooks" && r.Method == http.MethodPost:
		h.createWebhook(w, r)
	case path == "/webhooks" && r.Method == http.MethodGet:
		h.listWebhooks(w, r)
	case strings.HasPrefix(path, "/webhooks/") && r.Method == http.MethodDelete:
		h.deleteWebhook(w, r)

	case path == "/runs" && r.Method == http.MethodPost:
		h.enqueueRun(w, r)
	case path == "/runs" && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case path == "/queues" && r.Method == http.MethodPost:
		h.createQueue(w, r)
	case path == "/queues" && r.Method == http.MethodGet:
		h.listQueues(w, r)
	case strings.HasSuffix(path, "/pause") && strings.HasPrefix(path, "/queues/") && r.Method == http.MethodPost:
		h.setQueuePaused(w, r, true)
	case strings.HasSuffix(path, "/resume") && strings.HasPrefix(path, "/queues/") && r.Method == http.MethodPost:
		h.setQueuePaused(w, r, false)
	case strings.HasSuffix(path, "/queued") && strings.HasPrefix(path, "/queues/") && r.Method == http.MethodGet:
		h.listQueuedRuns(w, r)

	case strings.HasSuffix(path, "/limit") && strings.HasPrefix(path, "/tags/") && r.Method == http.MethodPut:
		h.setTagLimit(w, r)

	case path == "/stats" && r.Method == http.MethodGet:
		h.stats(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateCreateSchedule(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	sched := domain.Schedule{
		ID:             uuid.New(),
		Name:           req.Name,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Template:       req.Template,
		Queue:          req.Queue,
		Priority:       req.Priority,
		Enabled:        true,
		Variables:      req.Variables,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.store.CreateSchedule(r.Context(), sched); err != nil {
		log.Printf("api: create schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	writeJSON(w, http.StatusCreated, scheduleResponse(sched))
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedules, err := h.store.ListSchedules(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list schedules error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}

	resp := ListSchedulesResponse{Schedules: make([]ScheduleResponse, len(schedules))}
	for i, sched := range schedules {
		resp.Schedules[i] = scheduleResponse(sched)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "schedules")
	if !ok {
		return
	}
	if err := h.store.DeleteSchedule(r.Context(), id); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		log.Printf("api: delete schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createWatch(w http.ResponseWriter, r *http.Request) {
	var req CreateWatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateCreateWatch(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := make([]domain.WatchEventType, len(req.Events))
	for i, e := range req.Events {
		events[i] = domain.WatchEventType(e)
	}
	debounce := time.Duration(req.DebounceMs) * time.Millisecond
	if debounce == 0 {
		debounce = domain.DefaultDebounce
	}

	now := time.Now().UTC()
	cfg := domain.WatchConfig{
		ID:             uuid.New(),
		Name:           req.Name,
		WatchPath:      req.WatchPath,
		Patterns:       req.Patterns,
		IgnorePatterns: req.IgnorePatterns,
		Events:         events,
		Debounce:       debounce,
		Template:       req.Template,
		Queue:          req.Queue,
		Priority:       req.Priority,
		Enabled:        true,
		Variables:      req.Variables,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.store.CreateWatchConfig(r.Context(), cfg); err != nil {
		log.Printf("api: create watch error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create watch")
		return
	}
	h.reloadWatches(r.Context())

	writeJSON(w, http.StatusCreated, watchResponse(cfg))
}

func (h *Handler) listWatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	configs, err := h.store.ListWatchConfigs(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list watches error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list watches")
		return
	}

	resp := ListWatchesResponse{Watches: make([]WatchResponse, len(configs))}
	for i, cfg := range configs {
		resp.Watches[i] = watchResponse(cfg)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "watches")
	if !ok {
		return
	}
	if err := h.store.DeleteWatchConfig(r.Context(), id); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "watch not found")
			return
		}
		log.Printf("api: delete watch error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete watch")
		return
	}
	h.reloadWatches(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateCreateWebhook(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	cfg := domain.WebhookConfig{
		ID:               uuid.New(),
		Name:             req.Name,
		Endpoint:         req.Endpoint,
		Template:         req.Template,
		Secret:           req.Secret,
		AllowedIPs:       req.AllowedIPs,
		ExtractVariables: req.ExtractVariables,
		Queue:            req.Queue,
		Priority:         req.Priority,
		Enabled:          true,
		Variables:        req.Variables,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.store.CreateWebhookConfig(r.Context(), cfg); err != nil {
		log.Printf("api: create webhook error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}
	h.reloadWebhooks(r.Context())

	writeJSON(w, http.StatusCreated, webhookResponse(cfg))
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	configs, err := h.store.ListWebhookConfigs(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list webhooks error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}

	resp := ListWebhooksResponse{Webhooks: make([]WebhookResponse, len(configs))}
	for i, cfg := range configs {
		resp.Webhooks[i] = webhookResponse(cfg)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "webhooks")
	if !ok {
		return
	}
	if err := h.store.DeleteWebhookConfig(r.Context(), id); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		log.Printf("api: delete webhook error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	h.reloadWebhooks(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enqueueRun(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateEnqueueRun(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	queueName := req.Queue
	if queueName == "" {
		queueName = "default"
	}

	run := &domain.RunRequest{
		Template:       req.Template,
		Steps:          req.Steps,
		Variables:      req.Variables,
		Queue:          queueName,
		Priority:       req.Priority,
		ConcurrencyTag: req.ConcurrencyTag,
		Source:         "manual",
		UserID:         req.UserID,
	}
	if req.Retry != nil {
		run.Retry = &domain.RetryConfig{
			MaxAttempts:    req.Retry.MaxAttempts,
			BaseBackoff:    time.Duration(req.Retry.BaseBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(req.Retry.MaxBackoffMs) * time.Millisecond,
			Multiplier:     req.Retry.Multiplier,
			OnlyIdempotent: req.Retry.OnlyIdempotent,
		}
	}

	runID, err := h.queues.Enqueue(queueName, run)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, EnqueueRunResponse{
		RunID: runID.String(),
		Queue: queueName,
	})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list runs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunRecordResponse, len(runs))}
	for i, rec := range runs {
		rr := RunRecordResponse{
			ID:        rec.ID.String(),
			Template:  rec.Template,
			Queue:     rec.Queue,
			Source:    rec.Source,
			Attempt:   rec.Attempt,
			Status:    string(rec.Status),
			Error:     rec.Error,
			StartedAt: formatTime(rec.StartedAt),
		}
		if rec.OriginalRunID != uuid.Nil {
			rr.OriginalRunID = rec.OriginalRunID.String()
		}
		if rec.FinishedAt != nil {
			rr.FinishedAt = formatTime(*rec.FinishedAt)
		}
		resp.Runs[i] = rr
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createQueue(w http.ResponseWriter, r *http.Request) {
	var req CreateQueueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.queues.CreateQueue(req.Name, req.MaxConcurrent, req.MaxQueued); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) listQueues(w http.ResponseWriter, r *http.Request) {
	names := h.queues.Queues()
	stats := make([]queue.Stats, 0, len(names))
	for _, name := range names {
		st, err := h.queues.QueueStats(name)
		if err != nil {
			continue
		}
		stats = append(stats, st)
	}
	writeJSON(w, http.StatusOK, map[string][]queue.Stats{"queues": stats})
}

func (h *Handler) setQueuePaused(w http.ResponseWriter, r *http.Request, paused bool) {
	// Path: /queues/{name}/pause or /queues/{name}/resume
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	name := parts[1]

	var err error
	if paused {
		err = h.queues.PauseQueue(name)
	} else {
		err = h.queues.ResumeQueue(name)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listQueuedRuns(w http.ResponseWriter, r *http.Request) {
	// Path: /queues/{name}/queued
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	queued, err := h.queues.ListQueued(parts[1])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	resp := make([]QueuedRunResponse, len(queued))
	for i, req := range queued {
		resp[i] = QueuedRunResponse{
			RunID:      req.ID.String(),
			Template:   req.Template,
			Priority:   req.Priority,
			Source:     req.Source,
			EnqueuedAt: formatTime(req.EnqueuedAt),
		}
	}
	writeJSON(w, http.StatusOK, map[string][]QueuedRunResponse{"queued": resp})
}

func (h *Handler) setTagLimit(w http.ResponseWriter, r *http.Request) {
	// Path: /tags/{tag}/limit
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req TagLimitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	h.queues.SetTagLimit(parts[1], req.Limit)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		CompletedLast24h: h.queues.CompletedInWindow(),
		PeakQueueDepth:   h.queues.PeakDepth(),
	}
	if h.retries != nil {
		resp.RetryRate = h.retries.RetryRate()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) reloadWatches(ctx context.Context) {
	if h.watches == nil {
		return
	}
	configs, err := h.store.ListEnabledWatchConfigs(ctx)
	if err != nil {
		log.Printf("api: reload watches: %v", err)
		return
	}
	if err := h.watches.Reload(configs); err != nil {
		log.Printf("api: reload watches: %v", err)
	}
}

func (h *Handler) reloadWebhooks(ctx context.Context) {
	if h.webhooks == nil {
		return
	}
	configs, err := h.store.ListEnabledWebhookConfigs(ctx)
	if err != nil {
		log.Printf("api: reload webhooks: %v", err)
		return
	}
	h.webhooks.Reload(configs)
}

// pathID extracts the UUID from a /{resource}/{id} path.
func pathID(w http.ResponseWriter, r *http.Request, resource string) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != resource {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes a size-limited JSON body, writing the error
// response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func scheduleResponse(sched domain.Schedule) ScheduleResponse {
	resp := ScheduleResponse{
		ID:             sched.ID.String(),
		Name:           sched.Name,
		CronExpression: sched.CronExpression,
		Timezone:       sched.Timezone,
		Template:       sched.Template,
		Queue:          sched.Queue,
		Priority:       sched.Priority,
		Enabled:        sched.Enabled,
		CreatedAt:      formatTime(sched.CreatedAt),
	}
	if sched.LastRun != nil {
		resp.LastRun = formatTime(*sched.LastRun)
	}
	if sched.NextRun != nil {
		resp.NextRun = formatTime(*sched.NextRun)
	}
	return resp
}

func watchResponse(cfg domain.WatchConfig) WatchResponse {
	events := make([]string, len(cfg.Events))
	for i, e := range cfg.Events {
		events[i] = string(e)
	}
	return WatchResponse{
		ID:         cfg.ID.String(),
		Name:       cfg.Name,
		WatchPath:  cfg.WatchPath,
		Patterns:   cfg.Patterns,
		Events:     events,
		DebounceMs: int(cfg.Debounce / time.Millisecond),
		Template:   cfg.Template,
		Queue:      cfg.Queue,
		Priority:   cfg.Priority,
		Enabled:    cfg.Enabled,
		CreatedAt:  formatTime(cfg.CreatedAt),
	}
}

func webhookResponse(cfg domain.WebhookConfig) WebhookResponse {
	return WebhookResponse{
		ID:        cfg.ID.String(),
		Name:      cfg.Name,
		Endpoint:  cfg.Endpoint,
		Template:  cfg.Template,
		HasSecret: cfg.Secret != "",
		Queue:     cfg.Queue,
		Priority:  cfg.Priority,
		Enabled:   cfg.Enabled,
		CreatedAt: formatTime(cfg.CreatedAt),
	}
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
