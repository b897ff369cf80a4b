// Package analytics records per-source and per-template run counters in
// Redis as time-bucketed keys. Writes are best effort: a Redis outage
// never blocks or fails a run.
package analytics

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/runmill/runmill/internal/domain"
)

// defaultRetention is how long counter keys survive in Redis.
const defaultRetention = 7 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client, window time.Duration) *RedisSink {
	if window <= 0 {
		window = time.Hour
	}
	return &RedisSink{
		client:    client,
		window:    window,
		retention: defaultRetention,
		clock:     time.Now,
	}
}

// Record bumps the run counters for the request's source kind and
// template in the current bucket. Errors are logged, never returned.
func (s *RedisSink) Record(ctx context.Context, req *domain.RunRequest) {
	now := s.clock()
	bucket := truncateToBucket(now, s.window)

	sourceKey := fmt.Sprintf("runs:source:%s:%s", sourceKind(req.Source), bucket)
	templateKey := fmt.Sprintf("runs:template:%s:%s", req.Template, bucket)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, sourceKey)
	pipe.Expire(ctx, sourceKey, s.retention)
	pipe.Incr(ctx, templateKey)
	pipe.Expire(ctx, templateKey, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

// CountInBucket reads one counter back, for the stats endpoint.
func (s *RedisSink) CountInBucket(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return n, nil
}

// sourceKind strips the per-config suffix from a run source, so
// "scheduler:<uuid>" buckets under "scheduler".
func sourceKind(source string) string {
	if source == "" {
		return "unknown"
	}
	if i := strings.IndexByte(source, ':'); i > 0 {
		return source[:i]
	}
	return source
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
