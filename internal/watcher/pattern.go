package watcher

import (
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternMatcher applies include and ignore globs to file paths.
// Ignore patterns take precedence over include patterns; an empty
// include list matches everything.
type PatternMatcher struct {
	include []string
	ignore  []string
}

// NewPatternMatcher validates the patterns and builds a matcher.
// Globs use doublestar syntax, so ** crosses path separators.
func NewPatternMatcher(include, ignore []string) (*PatternMatcher, error) {
	for _, pattern := range include {
		if _, err := doublestar.Match(pattern, "probe"); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}
	for _, pattern := range ignore {
		if _, err := doublestar.Match(pattern, "probe"); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
	}
	return &PatternMatcher{include: include, ignore: ignore}, nil
}

// Match reports whether the path passes the include patterns without
// hitting an ignore pattern.
func (pm *PatternMatcher) Match(path string) bool {
	for _, pattern := range pm.ignore {
		if matchPattern(pattern, path) {
			return false
		}
	}

	if len(pm.include) == 0 {
		return true
	}
	for _, pattern := range pm.include {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern tries the full path first, then the base filename, so
// "*.csv" works without callers having to write "**/*.csv".
func matchPattern(pattern, path string) bool {
	if matched, _ := doublestar.PathMatch(pattern, path); matched {
		return true
	}
	if matched, _ := doublestar.Match(pattern, filepath.Base(path)); matched {
		return true
	}
	return false
}
