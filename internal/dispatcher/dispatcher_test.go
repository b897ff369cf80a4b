package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
)

type fakeQueue struct {
	completed []uuid.UUID
	enqueued  []*domain.RunRequest
	enqErr    error
}

func (q *fakeQueue) DequeueNext() *domain.RunRequest { return nil }

func (q *fakeQueue) Complete(runID uuid.UUID) error {
	q.completed = append(q.completed, runID)
	return nil
}

func (q *fakeQueue) Enqueue(_ string, req *domain.RunRequest) (uuid.UUID, error) {
	if q.enqErr != nil {
		return uuid.Nil, q.enqErr
	}
	q.enqueued = append(q.enqueued, req)
	return req.ID, nil
}

type fakeRetryer struct {
	next     *domain.RunRequest
	attempts []domain.RetryAttempt
}

func (r *fakeRetryer) HandleFailure(_ *domain.RunRequest, _ error) *domain.RunRequest {
	return r.next
}

func (r *fakeRetryer) RecordAttempt(runID uuid.UUID, attempt int, success bool, errMsg string) {
	r.attempts = append(r.attempts, domain.RetryAttempt{
		RunID: runID, Attempt: attempt, Success: success, Error: errMsg,
	})
}

func (r *fakeRetryer) RetryRate() float64 { return 0 }

type fakeStore struct {
	inserted []domain.RunRecord
	finished []finishCall
}

type finishCall struct {
	id     uuid.UUID
	status domain.RunStatus
	errMsg string
}

func (s *fakeStore) InsertRun(_ context.Context, rec domain.RunRecord) error {
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakeStore) FinishRun(_ context.Context, id uuid.UUID, status domain.RunStatus, errMsg string, _ time.Time) error {
	s.finished = append(s.finished, finishCall{id: id, status: status, errMsg: errMsg})
	return nil
}

func (s *fakeStore) InsertRetryAttempt(_ context.Context, _ domain.RetryAttempt) error {
	return nil
}

func runRequest() *domain.RunRequest {
	return &domain.RunRequest{
		ID:       uuid.New(),
		Template: "backup",
		Queue:    "default",
		Attempt:  1,
		Source:   "manual",
	}
}

func TestExecute_Success(t *testing.T) {
	queues := &fakeQueue{}
	retries := &fakeRetryer{}
	store := &fakeStore{}

	d := New(Config{}, queues, RunnerFunc(func(_ context.Context, _ *domain.RunRequest) error {
		return nil
	}), retries).WithStore(store)

	req := runRequest()
	d.execute(context.Background(), req)

	if len(queues.completed) != 1 || queues.completed[0] != req.ID {
		t.Errorf("completed = %v, want [%s]", queues.completed, req.ID)
	}
	if len(store.inserted) != 1 || store.inserted[0].Status != domain.RunStatusRunning {
		t.Errorf("inserted = %+v, want one running record", store.inserted)
	}
	if len(store.finished) != 1 || store.finished[0].status != domain.RunStatusCompleted {
		t.Errorf("finished = %+v, want one completed record", store.finished)
	}
	if len(retries.attempts) != 1 || !retries.attempts[0].Success {
		t.Errorf("attempts = %+v, want one successful attempt", retries.attempts)
	}
	if len(queues.enqueued) != 0 {
		t.Error("successful run must not requeue")
	}
}

func TestExecute_FailureWithRetry(t *testing.T) {
	next := runRequest()
	next.Attempt = 2
	next.Queue = "default"
	next.NotBefore = time.Now().Add(2 * time.Second)

	queues := &fakeQueue{}
	retries := &fakeRetryer{next: next}
	store := &fakeStore{}

	d := New(Config{}, queues, RunnerFunc(func(_ context.Context, _ *domain.RunRequest) error {
		return errors.New("element not visible")
	}), retries).WithStore(store)

	req := runRequest()
	d.execute(context.Background(), req)

	// The slot is always released, success or failure.
	if len(queues.completed) != 1 {
		t.Errorf("completed = %v, want one release", queues.completed)
	}
	// The failed attempt's own record is terminal.
	if len(store.finished) != 1 || store.finished[0].status != domain.RunStatusFailed {
		t.Errorf("finished = %+v, want failed record", store.finished)
	}
	if store.finished[0].errMsg != "element not visible" {
		t.Errorf("errMsg = %q", store.finished[0].errMsg)
	}
	// The next attempt is enqueued as a new run.
	if len(queues.enqueued) != 1 || queues.enqueued[0] != next {
		t.Errorf("enqueued = %v, want the next attempt", queues.enqueued)
	}
	if len(retries.attempts) != 1 || retries.attempts[0].Success {
		t.Errorf("attempts = %+v, want one failed attempt", retries.attempts)
	}
}

func TestExecute_TerminalFailure(t *testing.T) {
	queues := &fakeQueue{}
	retries := &fakeRetryer{next: nil}
	store := &fakeStore{}

	d := New(Config{}, queues, RunnerFunc(func(_ context.Context, _ *domain.RunRequest) error {
		return errors.New("template not found")
	}), retries).WithStore(store)

	d.execute(context.Background(), runRequest())

	if len(queues.enqueued) != 0 {
		t.Error("terminal failure must not requeue")
	}
	if len(store.finished) != 1 || store.finished[0].status != domain.RunStatusFailed {
		t.Errorf("finished = %+v, want failed record", store.finished)
	}
}

func TestExecute_RetryEnqueueFailure(t *testing.T) {
	next := runRequest()
	queues := &fakeQueue{enqErr: errors.New("queue is full")}
	retries := &fakeRetryer{next: next}

	d := New(Config{}, queues, RunnerFunc(func(_ context.Context, _ *domain.RunRequest) error {
		return errors.New("timeout")
	}), retries)

	// A full queue on requeue must not panic or double-complete.
	d.execute(context.Background(), runRequest())

	if len(queues.completed) != 1 {
		t.Errorf("completed = %v, want one release", queues.completed)
	}
}

func TestExecute_AttemptUsesLineage(t *testing.T) {
	queues := &fakeQueue{}
	retries := &fakeRetryer{}

	d := New(Config{}, queues, RunnerFunc(func(_ context.Context, _ *domain.RunRequest) error {
		return nil
	}), retries)

	original := uuid.New()
	req := runRequest()
	req.OriginalRunID = original
	req.Attempt = 3
	d.execute(context.Background(), req)

	if len(retries.attempts) != 1 || retries.attempts[0].RunID != original {
		t.Errorf("attempt RunID = %v, want lineage id %s", retries.attempts, original)
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(Config{}, &fakeQueue{}, RunnerFunc(func(_ context.Context, _ *domain.RunRequest) error {
		return nil
	}), &fakeRetryer{})

	if d.config.Workers != 4 {
		t.Errorf("Workers = %d, want 4", d.config.Workers)
	}
	if d.config.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s, want 250ms", d.config.PollInterval)
	}
	if d.config.DrainTimeout != 30*time.Second {
		t.Errorf("DrainTimeout = %s, want 30s", d.config.DrainTimeout)
	}
}
