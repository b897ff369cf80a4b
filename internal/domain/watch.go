package domain

import (
	"time"

	"github.com/google/uuid"
)

type WatchEventType string

const (
	WatchEventCreated  WatchEventType = "created"
	WatchEventModified WatchEventType = "modified"
	WatchEventDeleted  WatchEventType = "deleted"
	WatchEventMoved    WatchEventType = "moved"
)

// DefaultDebounce suppresses repeated events for the same
// (config, path, event type) key within the window.
const DefaultDebounce = 5 * time.Second

// WatchConfig triggers a template when files change under WatchPath.
// Patterns and IgnorePatterns are doublestar globs; ignore wins over
// include. An empty Patterns list matches everything.
type WatchConfig struct {
	ID   uuid.UUID
	Name string

	WatchPath      string
	Patterns       []string
	IgnorePatterns []string
	Events         []WatchEventType
	Debounce       time.Duration

	Template  string
	Queue     string
	Priority  int
	Enabled   bool
	Variables map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}
