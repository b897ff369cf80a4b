package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// RUNNER_URL is required: without it runs have nowhere to execute
	if cfg.RunnerURL == "" {
		errs = append(errs, ValidationError{
			Field:   "RUNNER_URL",
			Message: "required",
		})
	}

	for _, dur := range []struct {
		field string
		value string
	}{
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"POLL_INTERVAL", cfg.PollIntervalStr},
		{"RUNNER_TIMEOUT", cfg.RunnerTimeoutStr},
	} {
		if dur.value == "" {
			continue
		}
		d, err := time.ParseDuration(dur.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: "must be positive",
			})
		}
	}

	// WEBHOOK_PATH_PREFIX must be rooted and end with a slash so
	// endpoint paths append cleanly
	if p := cfg.WebhookPathPrefix; p != "" {
		if !strings.HasPrefix(p, "/") || !strings.HasSuffix(p, "/") {
			errs = append(errs, ValidationError{
				Field:   "WEBHOOK_PATH_PREFIX",
				Message: fmt.Sprintf("must start and end with '/', got %q", p),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
