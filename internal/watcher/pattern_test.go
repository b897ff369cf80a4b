package watcher

import "testing"

func TestPatternMatcher_IncludeOnly(t *testing.T) {
	pm, err := NewPatternMatcher([]string{"*.csv"}, nil)
	if err != nil {
		t.Fatalf("NewPatternMatcher failed: %v", err)
	}

	if !pm.Match("/data/invoices/march.csv") {
		t.Error("*.csv should match a csv in a subdirectory")
	}
	if pm.Match("/data/invoices/march.pdf") {
		t.Error("*.csv must not match a pdf")
	}
}

func TestPatternMatcher_IgnoreWins(t *testing.T) {
	pm, err := NewPatternMatcher([]string{"*.csv"}, []string{"*.tmp.csv", "**/.git/**"})
	if err != nil {
		t.Fatalf("NewPatternMatcher failed: %v", err)
	}

	if pm.Match("/data/upload.tmp.csv") {
		t.Error("ignore pattern must take precedence over include")
	}
	if !pm.Match("/data/upload.csv") {
		t.Error("non-ignored csv should match")
	}
}

func TestPatternMatcher_EmptyIncludeMatchesAll(t *testing.T) {
	pm, err := NewPatternMatcher(nil, []string{"*.log"})
	if err != nil {
		t.Fatalf("NewPatternMatcher failed: %v", err)
	}

	if !pm.Match("/data/report.xlsx") {
		t.Error("empty include list should match everything")
	}
	if pm.Match("/data/debug.log") {
		t.Error("ignore patterns still apply with empty include list")
	}
}

func TestPatternMatcher_Doublestar(t *testing.T) {
	pm, err := NewPatternMatcher([]string{"/inbox/**/*.pdf"}, nil)
	if err != nil {
		t.Fatalf("NewPatternMatcher failed: %v", err)
	}

	if !pm.Match("/inbox/2024/march/invoice.pdf") {
		t.Error("** should cross directory levels")
	}
	if pm.Match("/outbox/invoice.pdf") {
		t.Error("path outside /inbox must not match")
	}
}

func TestNewPatternMatcher_InvalidPattern(t *testing.T) {
	if _, err := NewPatternMatcher([]string{"[unclosed"}, nil); err == nil {
		t.Error("expected error for invalid include pattern")
	}
	if _, err := NewPatternMatcher(nil, []string{"[unclosed"}); err == nil {
		t.Error("expected error for invalid ignore pattern")
	}
}
