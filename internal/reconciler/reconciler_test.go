package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
	"github.com/runmill/runmill/internal/testutil"
)

type fakeStore struct {
	stale     []domain.RunRecord
	listErr   error
	gotCutoff time.Time

	finished []finishCall
}

type finishCall struct {
	id     uuid.UUID
	status domain.RunStatus
	errMsg string
}

func (s *fakeStore) GetStaleRuns(_ context.Context, olderThan time.Time) ([]domain.RunRecord, error) {
	s.gotCutoff = olderThan
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.stale, nil
}

func (s *fakeStore) FinishRun(_ context.Context, id uuid.UUID, status domain.RunStatus, errMsg string, _ time.Time) error {
	s.finished = append(s.finished, finishCall{id: id, status: status, errMsg: errMsg})
	return nil
}

func TestSweep_MarksStaleRunsAbandoned(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(now)

	store := &fakeStore{stale: []domain.RunRecord{
		{ID: uuid.New(), Status: domain.RunStatusRunning},
		{ID: uuid.New(), Status: domain.RunStatusRunning},
	}}

	r := New(Config{StaleThreshold: 30 * time.Minute}, store)
	r.clock = clock.Now
	r.Sweep(context.Background())

	wantCutoff := now.Add(-30 * time.Minute)
	if !store.gotCutoff.Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", store.gotCutoff, wantCutoff)
	}
	if len(store.finished) != 2 {
		t.Fatalf("finished %d runs, want 2", len(store.finished))
	}
	for _, f := range store.finished {
		if f.status != domain.RunStatusAbandoned {
			t.Errorf("status = %s, want abandoned", f.status)
		}
		if f.errMsg == "" {
			t.Error("abandoned runs should carry an explanatory message")
		}
	}
}

func TestSweep_NoStaleRuns(t *testing.T) {
	store := &fakeStore{}
	r := New(Config{}, store)
	r.Sweep(context.Background())

	if len(store.finished) != 0 {
		t.Errorf("finished %d runs, want 0", len(store.finished))
	}
}

func TestSweep_ListErrorIsNonFatal(t *testing.T) {
	store := &fakeStore{listErr: errors.New("connection refused")}
	r := New(Config{}, store)

	// Must not panic; the next sweep retries.
	r.Sweep(context.Background())

	if len(store.finished) != 0 {
		t.Errorf("finished %d runs after list error, want 0", len(store.finished))
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{}, &fakeStore{})
	if r.config.Interval != 5*time.Minute {
		t.Errorf("Interval = %s, want 5m", r.config.Interval)
	}
	if r.config.StaleThreshold != 30*time.Minute {
		t.Errorf("StaleThreshold = %s, want 30m", r.config.StaleThreshold)
	}
}
