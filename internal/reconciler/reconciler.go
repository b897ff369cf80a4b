// Package reconciler sweeps the run store for runs stuck in the
// running state past a staleness threshold and marks them abandoned.
// A crashed dispatcher or runner leaves such rows behind; without the
// sweep they would count as in-flight forever.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
)

// Store is the slice of the run store the reconciler needs.
type Store interface {
	GetStaleRuns(ctx context.Context, olderThan time.Time) ([]domain.RunRecord, error)
	FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, errMsg string, finishedAt time.Time) error
}

// MetricsSink defines the interface for recording reconciler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	OrphanedRunsUpdate(count int)
}

type Config struct {
	// Interval between sweeps. Default: 5m.
	Interval time.Duration
	// StaleThreshold is how long a run may stay running before it is
	// considered abandoned. Default: 30m.
	StaleThreshold time.Duration
}

type Reconciler struct {
	config  Config
	store   Store
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = 30 * time.Minute
	}
	return &Reconciler{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s)", r.config.Interval, r.config.StaleThreshold)
	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep marks every stale running run abandoned. Exported so it can be
// invoked once at startup before the dispatcher begins.
func (r *Reconciler) Sweep(ctx context.Context) {
	now := r.clock().UTC()
	cutoff := now.Add(-r.config.StaleThreshold)

	stale, err := r.store.GetStaleRuns(ctx, cutoff)
	if err != nil {
		log.Printf("reconciler: list stale runs: %v", err)
		return
	}
	if r.metrics != nil {
		r.metrics.OrphanedRunsUpdate(len(stale))
	}
	if len(stale) == 0 {
		return
	}

	marked := 0
	for _, rec := range stale {
		err := r.store.FinishRun(ctx, rec.ID, domain.RunStatusAbandoned,
			"abandoned: running past staleness threshold", now)
		if err != nil {
			log.Printf("reconciler: mark run=%s abandoned: %v", rec.ID, err)
			continue
		}
		marked++
	}
	log.Printf("reconciler: marked %d of %d stale runs abandoned", marked, len(stale))
}
