package api

import "time"

type CreateScheduleRequest struct {
	Name           string         `json:"name"`
	CronExpression string         `json:"cron_expression"`
	Timezone       string         `json:"timezone"`
	Template       string         `json:"template"`
	Queue          string         `json:"queue,omitempty"`
	Priority       int            `json:"priority,omitempty"` // 1..9, default 5
	Variables      map[string]any `json:"variables,omitempty"`
}

type ScheduleResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
	Template       string `json:"template"`
	Queue          string `json:"queue"`
	Priority       int    `json:"priority"`
	Enabled        bool   `json:"enabled"`
	LastRun        string `json:"last_run,omitempty"`
	NextRun        string `json:"next_run,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type CreateWatchRequest struct {
	Name           string         `json:"name"`
	WatchPath      string         `json:"watch_path"`
	Patterns       []string       `json:"patterns,omitempty"`
	IgnorePatterns []string       `json:"ignore_patterns,omitempty"`
	Events         []string       `json:"events,omitempty"` // created/modified/deleted/moved
	DebounceMs     int            `json:"debounce_ms,omitempty"`
	Template       string         `json:"template"`
	Queue          string         `json:"queue,omitempty"`
	Priority       int            `json:"priority,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
}

type WatchResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	WatchPath  string   `json:"watch_path"`
	Patterns   []string `json:"patterns,omitempty"`
	Events     []string `json:"events"`
	DebounceMs int      `json:"debounce_ms"`
	Template   string   `json:"template"`
	Queue      string   `json:"queue"`
	Priority   int      `json:"priority"`
	Enabled    bool     `json:"enabled"`
	CreatedAt  string   `json:"created_at"`
}

type CreateWebhookRequest struct {
	Name             string         `json:"name"`
	Endpoint         string         `json:"endpoint"`
	Template         string         `json:"template"`
	Secret           string         `json:"secret,omitempty"`
	AllowedIPs       []string       `json:"allowed_ips,omitempty"`
	ExtractVariables []string       `json:"extract_variables,omitempty"`
	Queue            string         `json:"queue,omitempty"`
	Priority         int            `json:"priority,omitempty"`
	Variables        map[string]any `json:"variables,omitempty"`
}

type WebhookResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint"`
	Template  string `json:"template"`
	HasSecret bool   `json:"has_secret"`
	Queue     string `json:"queue"`
	Priority  int    `json:"priority"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
}

// RetryRequest enables retries for a manually enqueued run.
// Zero-valued fields fall back to the retry manager's defaults.
type RetryRequest struct {
	MaxAttempts    int     `json:"max_attempts,omitempty"`
	BaseBackoffMs  int     `json:"base_backoff_ms,omitempty"`
	MaxBackoffMs   int     `json:"max_backoff_ms,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty"`
	OnlyIdempotent bool    `json:"only_idempotent,omitempty"`
}

type EnqueueRunRequest struct {
	Template       string         `json:"template"`
	Steps          []string       `json:"steps,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
	Queue          string         `json:"queue,omitempty"`
	Priority       int            `json:"priority,omitempty"`
	ConcurrencyTag string         `json:"concurrency_tag,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Retry          *RetryRequest  `json:"retry,omitempty"`
}

type EnqueueRunResponse struct {
	RunID string `json:"run_id"`
	Queue string `json:"queue"`
}

type RunRecordResponse struct {
	ID            string `json:"id"`
	OriginalRunID string `json:"original_run_id,omitempty"`
	Template      string `json:"template"`
	Queue         string `json:"queue"`
	Source        string `json:"source"`
	Attempt       int    `json:"attempt"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at,omitempty"`
}

type CreateQueueRequest struct {
	Name          string `json:"name"`
	MaxConcurrent int    `json:"max_concurrent"`
	MaxQueued     int    `json:"max_queued"`
}

type TagLimitRequest struct {
	Limit int `json:"limit"` // < 1 removes the cap
}

type QueuedRunResponse struct {
	RunID      string `json:"run_id"`
	Template   string `json:"template"`
	Priority   int    `json:"priority"`
	Source     string `json:"source"`
	EnqueuedAt string `json:"enqueued_at"`
}

type StatsResponse struct {
	CompletedLast24h int     `json:"completed_last_24h"`
	PeakQueueDepth   int     `json:"peak_queue_depth"`
	RetryRate        float64 `json:"retry_rate"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
}

type ListWatchesResponse struct {
	Watches []WatchResponse `json:"watches"`
}

type ListWebhooksResponse struct {
	Webhooks []WebhookResponse `json:"webhooks"`
}

type ListRunsResponse struct {
	Runs []RunRecordResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
