// Package watcher runs the filesystem trigger: fsnotify subscriptions
// over the configured watch roots, glob filtering, per-key debouncing,
// and run request emission.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
)

// stopTimeout bounds how long Stop waits for the event loop to drain.
const stopTimeout = 5 * time.Second

type Enqueuer interface {
	Enqueue(queue string, req *domain.RunRequest) (uuid.UUID, error)
}

// MetricsSink defines the interface for recording watcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	WatchEvent(outcome string)
}

// Outcome labels for the WatchEvent metric.
const (
	OutcomeTriggered  = "triggered"
	OutcomeSuppressed = "suppressed"
	OutcomeIgnored    = "ignored"
	OutcomeError      = "error"
)

// configEntry is a WatchConfig with its compiled matcher and event set.
type configEntry struct {
	cfg     domain.WatchConfig
	matcher *PatternMatcher
	events  map[domain.WatchEventType]bool
}

// Trigger owns one fsnotify watcher shared by all watch configs.
// Reload swaps the config snapshot and re-subscribes without a restart.
type Trigger struct {
	enqueuer Enqueuer
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time

	fsw *fsnotify.Watcher

	mu         sync.Mutex
	entries    []configEntry
	watched    map[string]bool      // directories currently subscribed
	lastEvents map[string]time.Time // debounce key -> last trigger time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(enqueuer Enqueuer) (*Trigger, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Trigger{
		enqueuer:   enqueuer,
		clock:      time.Now,
		fsw:        fsw,
		watched:    make(map[string]bool),
		lastEvents: make(map[string]time.Time),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// WithMetrics attaches a metrics sink to the trigger.
func (t *Trigger) WithMetrics(sink MetricsSink) *Trigger {
	t.metrics = sink
	return t
}

// Reload replaces the active config snapshot and reconciles fsnotify
// subscriptions with the union of enabled watch paths. Disabled configs
// are dropped; configs with invalid patterns are skipped and logged.
func (t *Trigger) Reload(configs []domain.WatchConfig) error {
	entries := make([]configEntry, 0, len(configs))
	roots := make(map[string]bool)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		matcher, err := NewPatternMatcher(cfg.Patterns, cfg.IgnorePatterns)
		if err != nil {
			log.Printf("watcher: config %s skipped: %v", cfg.ID, err)
			continue
		}
		events := make(map[domain.WatchEventType]bool, len(cfg.Events))
		for _, e := range cfg.Events {
			events[e] = true
		}
		if len(events) == 0 {
			events[domain.WatchEventCreated] = true
			events[domain.WatchEventModified] = true
		}
		abs, err := filepath.Abs(cfg.WatchPath)
		if err != nil {
			log.Printf("watcher: config %s skipped: %v", cfg.ID, err)
			continue
		}
		cfg.WatchPath = abs
		roots[abs] = true
		entries = append(entries, configEntry{cfg: cfg, matcher: matcher, events: events})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = entries
	return t.resubscribe(roots)
}

// resubscribe walks the wanted roots, adds every directory beneath
// them, and removes watches no longer covered. Caller must hold t.mu.
func (t *Trigger) resubscribe(roots map[string]bool) error {
	wanted := make(map[string]bool)
	for root := range roots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				log.Printf("watcher: walk %s: %v", path, err)
				return nil
			}
			if info.IsDir() {
				wanted[path] = true
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("walk %s: %w", root, err)
		}
	}

	for dir := range t.watched {
		if !wanted[dir] {
			if err := t.fsw.Remove(dir); err != nil {
				log.Printf("watcher: remove %s: %v", dir, err)
			}
			delete(t.watched, dir)
		}
	}
	for dir := range wanted {
		if !t.watched[dir] {
			if err := t.fsw.Add(dir); err != nil {
				log.Printf("watcher: add %s: %v", dir, err)
				continue
			}
			t.watched[dir] = true
		}
	}

	log.Printf("watcher: subscribed to %d directories for %d configs", len(t.watched), len(t.entries))
	return nil
}

// Run processes filesystem events until ctx is cancelled or Stop is
// called. Each raw event is handled on its own goroutine; the debounce
// map is the only shared state and stays behind t.mu.
func (t *Trigger) Run(ctx context.Context) {
	defer close(t.doneCh)

	log.Println("watcher: started")
	for {
		select {
		case <-ctx.Done():
			log.Println("watcher: stopped")
			return
		case <-t.stopCh:
			log.Println("watcher: stopped")
			return
		case event, ok := <-t.fsw.Events:
			if !ok {
				log.Println("watcher: event channel closed")
				return
			}
			go t.handleEvent(event)
		case err, ok := <-t.fsw.Errors:
			if !ok {
				log.Println("watcher: error channel closed")
				return
			}
			log.Printf("watcher: fsnotify error: %v", err)
			if t.metrics != nil {
				t.metrics.WatchEvent(OutcomeError)
			}
		}
	}
}

// Stop shuts the trigger down cooperatively, waiting up to stopTimeout
// for the event loop to exit before giving up.
func (t *Trigger) Stop() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	select {
	case <-t.doneCh:
	case <-time.After(stopTimeout):
		log.Printf("watcher: stop timed out after %s", stopTimeout)
	}
	return t.fsw.Close()
}

var eventTypeMap = map[fsnotify.Op]domain.WatchEventType{
	fsnotify.Create: domain.WatchEventCreated,
	fsnotify.Write:  domain.WatchEventModified,
	fsnotify.Remove: domain.WatchEventDeleted,
	fsnotify.Rename: domain.WatchEventMoved,
}

func (t *Trigger) handleEvent(event fsnotify.Event) {
	// New directories must be subscribed immediately or events beneath
	// them are lost.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			t.mu.Lock()
			if !t.watched[event.Name] {
				if err := t.fsw.Add(event.Name); err == nil {
					t.watched[event.Name] = true
				}
			}
			t.mu.Unlock()
		}
	}

	for op, eventType := range eventTypeMap {
		if event.Op.Has(op) {
			t.dispatchEvent(eventType, event.Name)
		}
	}
}

// dispatchEvent fans one (type, path) event out to every matching
// config, applying the per-(config, path, type) debounce window.
func (t *Trigger) dispatchEvent(eventType domain.WatchEventType, path string) {
	t.mu.Lock()
	entries := t.entries
	t.mu.Unlock()

	now := t.clock().UTC()

	for _, entry := range entries {
		cfg := entry.cfg
		if !entry.events[eventType] {
			continue
		}
		if !pathUnder(cfg.WatchPath, path) || !entry.matcher.Match(path) {
			continue
		}

		key := cfg.ID.String() + "|" + path + "|" + string(eventType)
		debounce := cfg.Debounce
		if debounce < 0 {
			debounce = 0
		}

		t.mu.Lock()
		last, seen := t.lastEvents[key]
		if seen && now.Sub(last) < debounce {
			t.mu.Unlock()
			if t.metrics != nil {
				t.metrics.WatchEvent(OutcomeSuppressed)
			}
			continue
		}
		t.lastEvents[key] = now
		t.pruneDebounce(now)
		t.mu.Unlock()

		req := t.buildRequest(cfg, eventType, path, now)
		if _, err := t.enqueuer.Enqueue(req.Queue, req); err != nil {
			log.Printf("watcher: config %s enqueue failed: %v", cfg.ID, err)
			if t.metrics != nil {
				t.metrics.WatchEvent(OutcomeError)
			}
			continue
		}
		if t.metrics != nil {
			t.metrics.WatchEvent(OutcomeTriggered)
		}
		log.Printf("watcher: triggered config=%s event=%s path=%s", cfg.ID, eventType, path)
	}
}

func (t *Trigger) buildRequest(cfg domain.WatchConfig, eventType domain.WatchEventType, path string, now time.Time) *domain.RunRequest {
	vars := make(map[string]any, len(cfg.Variables)+5)
	for k, v := range cfg.Variables {
		vars[k] = v
	}
	vars["trigger_file"] = path
	vars["trigger_event"] = string(eventType)
	vars["trigger_time"] = now.Format(time.RFC3339)
	vars["trigger_filename"] = filepath.Base(path)
	vars["trigger_dirname"] = filepath.Dir(path)

	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}

	return &domain.RunRequest{
		Template:       cfg.Template,
		Variables:      vars,
		Queue:          queue,
		Priority:       cfg.Priority,
		ConcurrencyTag: "watcher_" + cfg.ID.String(),
		Source:         "watcher:" + cfg.ID.String(),
	}
}

// pruneDebounce keeps the debounce map from growing without bound.
// Caller must hold t.mu.
func (t *Trigger) pruneDebounce(now time.Time) {
	if len(t.lastEvents) < 4096 {
		return
	}
	cutoff := now.Add(-time.Hour)
	for key, last := range t.lastEvents {
		if last.Before(cutoff) {
			delete(t.lastEvents, key)
		}
	}
}

// pathUnder reports whether path is root itself or beneath it.
func pathUnder(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}
