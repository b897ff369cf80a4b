// Package postgres persists trigger configs and run history.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/runmill/runmill/internal/api"
	"github.com/runmill/runmill/internal/dispatcher"
	"github.com/runmill/runmill/internal/domain"
	"github.com/runmill/runmill/internal/reconciler"
	"github.com/runmill/runmill/internal/scheduler"
	"github.com/runmill/runmill/internal/webhook"
)

// Store implements the trigger, dispatcher and API store interfaces
// using PostgreSQL. Every operation is bounded by opTimeout.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Store{db: db, opTimeout: opTimeout}
}

// opCtx bounds one database operation.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// ListEnabledSchedules returns all enabled schedules.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEnabledSchedules)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// UpdateScheduleRun persists last_run/next_run after a firing.
// A nil lastRun leaves the stored last_run untouched.
func (s *Store) UpdateScheduleRun(ctx context.Context, id uuid.UUID, lastRun *time.Time, nextRun time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var last sql.NullTime
	if lastRun != nil {
		last = sql.NullTime{Time: *lastRun, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, queryUpdateScheduleRun, id, last, nextRun)
	return err
}

func (s *Store) CreateSchedule(ctx context.Context, sched domain.Schedule) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	vars, err := marshalVariables(sched.Variables)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryInsertSchedule,
		sched.ID,
		sched.Name,
		sched.CronExpression,
		sched.Timezone,
		sched.Template,
		sched.Queue,
		sched.Priority,
		sched.Enabled,
		vars,
		sched.CreatedAt,
		sched.UpdatedAt,
	)
	return err
}

func (s *Store) ListSchedules(ctx context.Context, limit, offset int) ([]domain.Schedule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListSchedules, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.deleteByID(ctx, queryDeleteSchedule, id)
}

func (s *Store) CreateWatchConfig(ctx context.Context, cfg domain.WatchConfig) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	vars, err := marshalVariables(cfg.Variables)
	if err != nil {
		return err
	}
	events := make([]string, len(cfg.Events))
	for i, e := range cfg.Events {
		events[i] = string(e)
	}
	_, err = s.db.ExecContext(ctx, queryInsertWatchConfig,
		cfg.ID,
		cfg.Name,
		cfg.WatchPath,
		pq.Array(cfg.Patterns),
		pq.Array(cfg.IgnorePatterns),
		pq.Array(events),
		cfg.Debounce.Milliseconds(),
		cfg.Template,
		cfg.Queue,
		cfg.Priority,
		cfg.Enabled,
		vars,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	return err
}

func (s *Store) ListWatchConfigs(ctx context.Context, limit, offset int) ([]domain.WatchConfig, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListWatchConfigs, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWatchConfigs(rows)
}

func (s *Store) ListEnabledWatchConfigs(ctx context.Context) ([]domain.WatchConfig, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEnabledWatchConfigs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWatchConfigs(rows)
}

func (s *Store) DeleteWatchConfig(ctx context.Context, id uuid.UUID) error {
	return s.deleteByID(ctx, queryDeleteWatchConfig, id)
}

func (s *Store) CreateWebhookConfig(ctx context.Context, cfg domain.WebhookConfig) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	vars, err := marshalVariables(cfg.Variables)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryInsertWebhookConfig,
		cfg.ID,
		cfg.Name,
		cfg.Endpoint,
		cfg.Template,
		cfg.Secret,
		pq.Array(cfg.AllowedIPs),
		pq.Array(cfg.ExtractVariables),
		cfg.SignatureHeader,
		cfg.SignaturePrefix,
		cfg.Queue,
		cfg.Priority,
		cfg.Enabled,
		vars,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	return err
}

func (s *Store) ListWebhookConfigs(ctx context.Context, limit, offset int) ([]domain.WebhookConfig, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListWebhookConfigs, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWebhookConfigs(rows)
}

func (s *Store) ListEnabledWebhookConfigs(ctx context.Context) ([]domain.WebhookConfig, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEnabledWebhookConfigs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWebhookConfigs(rows)
}

func (s *Store) DeleteWebhookConfig(ctx context.Context, id uuid.UUID) error {
	return s.deleteByID(ctx, queryDeleteWebhookConfig, id)
}

// InsertRun records the start of a run attempt.
func (s *Store) InsertRun(ctx context.Context, rec domain.RunRecord) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertRun,
		rec.ID,
		nullableUUID(rec.OriginalRunID),
		rec.Template,
		rec.Queue,
		rec.Source,
		rec.Attempt,
		string(rec.Status),
		rec.StartedAt,
	)
	return err
}

// FinishRun records a run's terminal status. The guard in the WHERE
// clause makes the update a no-op when the run is already terminal, so
// a reconciler sweep and a late dispatcher finish cannot fight.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, errMsg string, finishedAt time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryFinishRun, id, string(status), errMsg, finishedAt)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Either the run does not exist or it is already terminal.
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = $1`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		// Already terminal: treat the finish as idempotent.
		return nil
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]domain.RunRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRuns, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRunRecords(rows)
}

// GetStaleRuns returns runs still marked running that started before
// the given threshold.
func (s *Store) GetStaleRuns(ctx context.Context, olderThan time.Time) ([]domain.RunRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetStaleRuns, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRunRecords(rows)
}

func (s *Store) InsertRetryAttempt(ctx context.Context, attempt domain.RetryAttempt) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertRetryAttempt,
		attempt.RunID,
		attempt.Attempt,
		attempt.Timestamp,
		attempt.Success,
		attempt.Error,
	)
	return err
}

func (s *Store) InsertWebhookDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var runID any
	if delivery.RunID != nil {
		runID = *delivery.RunID
	}
	_, err := s.db.ExecContext(ctx, queryInsertWebhookDelivery,
		delivery.ID,
		delivery.WebhookID,
		runID,
		delivery.ClientIP,
		delivery.BodySize,
		delivery.StatusCode,
		delivery.SignatureValid,
		delivery.Error,
		delivery.ReceivedAt,
	)
	return err
}

func (s *Store) deleteByID(ctx context.Context, query string, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, query, id).Scan(&deletedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return err
	}
	return nil
}

func scanSchedules(rows *sql.Rows) ([]domain.Schedule, error) {
	var result []domain.Schedule
	for rows.Next() {
		var sched domain.Schedule
		var vars []byte
		var lastRun, nextRun sql.NullTime

		err := rows.Scan(
			&sched.ID,
			&sched.Name,
			&sched.CronExpression,
			&sched.Timezone,
			&sched.Template,
			&sched.Queue,
			&sched.Priority,
			&sched.Enabled,
			&vars,
			&lastRun,
			&nextRun,
			&sched.CreatedAt,
			&sched.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if sched.Variables, err = unmarshalVariables(vars); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			t := lastRun.Time
			sched.LastRun = &t
		}
		if nextRun.Valid {
			t := nextRun.Time
			sched.NextRun = &t
		}
		result = append(result, sched)
	}
	return result, rows.Err()
}

func scanWatchConfigs(rows *sql.Rows) ([]domain.WatchConfig, error) {
	var result []domain.WatchConfig
	for rows.Next() {
		var cfg domain.WatchConfig
		var vars []byte
		var events []string
		var debounceMs int64

		err := rows.Scan(
			&cfg.ID,
			&cfg.Name,
			&cfg.WatchPath,
			pq.Array(&cfg.Patterns),
			pq.Array(&cfg.IgnorePatterns),
			pq.Array(&events),
			&debounceMs,
			&cfg.Template,
			&cfg.Queue,
			&cfg.Priority,
			&cfg.Enabled,
			&vars,
			&cfg.CreatedAt,
			&cfg.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if cfg.Variables, err = unmarshalVariables(vars); err != nil {
			return nil, err
		}
		cfg.Debounce = time.Duration(debounceMs) * time.Millisecond
		cfg.Events = make([]domain.WatchEventType, len(events))
		for i, e := range events {
			cfg.Events[i] = domain.WatchEventType(e)
		}
		result = append(result, cfg)
	}
	return result, rows.Err()
}

func scanWebhookConfigs(rows *sql.Rows) ([]domain.WebhookConfig, error) {
	var result []domain.WebhookConfig
	for rows.Next() {
		var cfg domain.WebhookConfig
		var vars []byte

		err := rows.Scan(
			&cfg.ID,
			&cfg.Name,
			&cfg.Endpoint,
			&cfg.Template,
			&cfg.Secret,
			pq.Array(&cfg.AllowedIPs),
			pq.Array(&cfg.ExtractVariables),
			&cfg.SignatureHeader,
			&cfg.SignaturePrefix,
			&cfg.Queue,
			&cfg.Priority,
			&cfg.Enabled,
			&vars,
			&cfg.CreatedAt,
			&cfg.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if cfg.Variables, err = unmarshalVariables(vars); err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	return result, rows.Err()
}

func scanRunRecords(rows *sql.Rows) ([]domain.RunRecord, error) {
	var result []domain.RunRecord
	for rows.Next() {
		var rec domain.RunRecord
		var original uuid.NullUUID
		var errMsg sql.NullString
		var status string
		var finishedAt sql.NullTime

		err := rows.Scan(
			&rec.ID,
			&original,
			&rec.Template,
			&rec.Queue,
			&rec.Source,
			&rec.Attempt,
			&status,
			&errMsg,
			&rec.StartedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, err
		}
		if original.Valid {
			rec.OriginalRunID = original.UUID
		}
		rec.Status = domain.RunStatus(status)
		rec.Error = errMsg.String
		if finishedAt.Valid {
			t := finishedAt.Time
			rec.FinishedAt = &t
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// marshalVariables encodes a variables map as JSONB, mapping nil to an
// empty object.
func marshalVariables(vars map[string]any) ([]byte, error) {
	if vars == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(vars)
}

func unmarshalVariables(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		return nil, nil
	}
	return vars, nil
}

// nullableUUID maps the zero uuid to NULL.
func nullableUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

// Compile-time interface assertions
var (
	_ scheduler.Store     = (*Store)(nil)
	_ api.Store           = (*Store)(nil)
	_ dispatcher.RunStore = (*Store)(nil)
	_ reconciler.Store    = (*Store)(nil)
	_ webhook.AuditStore  = (*Store)(nil)
)
