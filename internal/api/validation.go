package api

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/runmill/runmill/internal/domain"
	"github.com/runmill/runmill/internal/watcher"
)

func validateCreateSchedule(req CreateScheduleRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.Template == "" {
		return fmt.Errorf("template is required")
	}

	if req.CronExpression == "" {
		return fmt.Errorf("cron_expression is required")
	}
	if err := validateCron(req.CronExpression); err != nil {
		return fmt.Errorf("invalid cron_expression: %w", err)
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if err := validateTimezone(tz); err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	return validatePriority(req.Priority)
}

func validateCreateWatch(req CreateWatchRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.Template == "" {
		return fmt.Errorf("template is required")
	}
	if req.WatchPath == "" {
		return fmt.Errorf("watch_path is required")
	}

	if _, err := watcher.NewPatternMatcher(req.Patterns, req.IgnorePatterns); err != nil {
		return err
	}

	for _, e := range req.Events {
		switch domain.WatchEventType(e) {
		case domain.WatchEventCreated, domain.WatchEventModified, domain.WatchEventDeleted, domain.WatchEventMoved:
		default:
			return fmt.Errorf("invalid event %q", e)
		}
	}

	if req.DebounceMs < 0 {
		return fmt.Errorf("debounce_ms must be >= 0")
	}

	return validatePriority(req.Priority)
}

func validateCreateWebhook(req CreateWebhookRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.Template == "" {
		return fmt.Errorf("template is required")
	}

	if req.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if !strings.HasPrefix(req.Endpoint, "/") {
		return fmt.Errorf("endpoint must start with '/'")
	}

	for _, entry := range req.AllowedIPs {
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("invalid allowed_ips entry %q: %w", entry, err)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("invalid allowed_ips entry %q", entry)
		}
	}

	return validatePriority(req.Priority)
}

func validateEnqueueRun(req EnqueueRunRequest) error {
	if req.Template == "" {
		return fmt.Errorf("template is required")
	}
	if req.Retry != nil {
		if req.Retry.MaxAttempts < 0 {
			return fmt.Errorf("retry.max_attempts must be >= 0")
		}
		if req.Retry.Multiplier < 0 {
			return fmt.Errorf("retry.multiplier must be >= 0")
		}
	}
	return validatePriority(req.Priority)
}

// validatePriority accepts 0 (meaning "use the default") or a value in
// the 1..9 range.
func validatePriority(p int) error {
	if p == 0 {
		return nil
	}
	if p < domain.PriorityMin || p > domain.PriorityMax {
		return fmt.Errorf("priority must be between %d and %d", domain.PriorityMin, domain.PriorityMax)
	}
	return nil
}

func validateCron(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}

func validateTimezone(tz string) error {
	_, err := time.LoadLocation(tz)
	return err
}
