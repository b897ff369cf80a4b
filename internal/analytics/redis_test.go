package analytics

import (
	"testing"
	"time"
)

func TestSourceKind(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"scheduler:0b7f7f2a-1111-2222-3333-444455556666", "scheduler"},
		{"watcher:0b7f7f2a-1111-2222-3333-444455556666", "watcher"},
		{"webhook:0b7f7f2a-1111-2222-3333-444455556666", "webhook"},
		{"manual", "manual"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := sourceKind(tt.source); got != tt.want {
			t.Errorf("sourceKind(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestTruncateToBucket(t *testing.T) {
	at := time.Date(2024, 3, 1, 14, 37, 45, 0, time.UTC)

	tests := []struct {
		window time.Duration
		want   string
	}{
		{time.Minute, "202403011437"},
		{5 * time.Minute, "202403011435"},
		{time.Hour, "2024030114"},
		{30 * time.Second, "202403011437"}, // unrecognized windows fall back to minute buckets
	}
	for _, tt := range tests {
		if got := truncateToBucket(at, tt.window); got != tt.want {
			t.Errorf("truncateToBucket(%s) = %q, want %q", tt.window, got, tt.want)
		}
	}
}

func TestNewRedisSink_DefaultWindow(t *testing.T) {
	s := NewRedisSink(nil, 0)
	if s.window != time.Hour {
		t.Errorf("window = %s, want 1h", s.window)
	}
	if s.retention != defaultRetention {
		t.Errorf("retention = %s, want %s", s.retention, defaultRetention)
	}
}
