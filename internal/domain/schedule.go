package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule fires a template on a cron expression. NextRun is recomputed
// immediately after every firing and is always strictly after the time
// it was computed at; disabled schedules never produce run requests.
type Schedule struct {
	ID   uuid.UUID
	Name string

	CronExpression string
	Timezone       string // IANA timezone, defaults to UTC

	Template  string
	Queue     string
	Priority  int
	Enabled   bool
	Variables map[string]any

	LastRun *time.Time
	NextRun *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
