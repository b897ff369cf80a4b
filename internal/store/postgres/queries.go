package postgres

const queryListEnabledSchedules = `
SELECT id, name, cron_expression, timezone, template, queue, priority,
       enabled, variables, last_run, next_run, created_at, updated_at
FROM schedules
WHERE enabled = true
ORDER BY id
`

const queryUpdateScheduleRun = `
UPDATE schedules
SET last_run = COALESCE($2, last_run),
    next_run = $3,
    updated_at = NOW()
WHERE id = $1
`

const queryInsertSchedule = `
INSERT INTO schedules (id, name, cron_expression, timezone, template, queue, priority, enabled, variables, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const queryListSchedules = `
SELECT id, name, cron_expression, timezone, template, queue, priority,
       enabled, variables, last_run, next_run, created_at, updated_at
FROM schedules
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

const queryDeleteSchedule = `
DELETE FROM schedules WHERE id = $1
RETURNING id
`

const queryInsertWatchConfig = `
INSERT INTO watch_configs (id, name, watch_path, patterns, ignore_patterns, events, debounce_ms, template, queue, priority, enabled, variables, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

const queryListWatchConfigs = `
SELECT id, name, watch_path, patterns, ignore_patterns, events, debounce_ms,
       template, queue, priority, enabled, variables, created_at, updated_at
FROM watch_configs
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

const queryListEnabledWatchConfigs = `
SELECT id, name, watch_path, patterns, ignore_patterns, events, debounce_ms,
       template, queue, priority, enabled, variables, created_at, updated_at
FROM watch_configs
WHERE enabled = true
ORDER BY id
`

const queryDeleteWatchConfig = `
DELETE FROM watch_configs WHERE id = $1
RETURNING id
`

const queryInsertWebhookConfig = `
INSERT INTO webhook_configs (id, name, endpoint, template, secret, allowed_ips, extract_variables, signature_header, signature_prefix, queue, priority, enabled, variables, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

const queryListWebhookConfigs = `
SELECT id, name, endpoint, template, secret, allowed_ips, extract_variables,
       signature_header, signature_prefix, queue, priority, enabled, variables,
       created_at, updated_at
FROM webhook_configs
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

const queryListEnabledWebhookConfigs = `
SELECT id, name, endpoint, template, secret, allowed_ips, extract_variables,
       signature_header, signature_prefix, queue, priority, enabled, variables,
       created_at, updated_at
FROM webhook_configs
WHERE enabled = true
ORDER BY id
`

const queryDeleteWebhookConfig = `
DELETE FROM webhook_configs WHERE id = $1
RETURNING id
`

const queryInsertRun = `
INSERT INTO runs (id, original_run_id, template, queue, source, attempt, status, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryFinishRun = `
UPDATE runs
SET status = $2, error = $3, finished_at = $4
WHERE id = $1
  AND status = 'running'
`

const queryListRuns = `
SELECT id, original_run_id, template, queue, source, attempt, status, error, started_at, finished_at
FROM runs
ORDER BY started_at DESC
LIMIT $1 OFFSET $2
`

const queryGetStaleRuns = `
SELECT id, original_run_id, template, queue, source, attempt, status, error, started_at, finished_at
FROM runs
WHERE status = 'running'
  AND started_at < $1
ORDER BY started_at ASC
`

const queryInsertRetryAttempt = `
INSERT INTO retry_attempts (run_id, attempt, ts, success, error)
VALUES ($1, $2, $3, $4, $5)
`

const queryInsertWebhookDelivery = `
INSERT INTO webhook_deliveries (id, webhook_id, run_id, client_ip, body_size, status_code, signature_valid, error, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
