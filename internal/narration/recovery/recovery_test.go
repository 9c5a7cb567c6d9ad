package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/storage/memory"
	"github.com/vietddude/narrator/internal/narration/batch"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Fakes
// =============================================================================

type fakeRetrier struct {
	runID   string
	results map[int]domain.ItemStatus
	errs    map[int]error
	calls   []int
}

func (f *fakeRetrier) RunID() string { return f.runID }

func (f *fakeRetrier) RetryOne(ctx context.Context, index int) (domain.ItemStatus, error) {
	f.calls = append(f.calls, index)
	if err := f.errs[index]; err != nil {
		return domain.ItemStatus{}, err
	}
	return f.results[index], nil
}

type fakeLocker struct {
	held map[string]bool
}

func (l *fakeLocker) AcquireLock(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if l.held[id] {
		return false, nil
	}
	return true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, id string) error { return nil }

func newHandler(retrier Retrier, opts ...Option) (*Handler, *memory.FailedRepo) {
	repo := memory.NewFailedRepo(memory.NewMemoryStorage())
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewHandler(repo, retrier, DefaultBackoff(nil), opts...), repo
}

func addDue(t *testing.T, repo *memory.FailedRepo, runID string, index, retryCount int) string {
	t.Helper()
	id := domain.FailedItemID(runID, index)
	err := repo.Add(context.Background(), &domain.FailedItem{
		ID:         id,
		RunID:      runID,
		Index:      index,
		RetryAt:    testNow.Add(-time.Second),
		RetryCount: retryCount,
		Status:     domain.FailedItemStatusPending,
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return id
}

// =============================================================================
// Strategy Tests
// =============================================================================

func TestBackoff_Delay(t *testing.T) {
	strategy := DefaultBackoff(nil)
	strategy.InitialDelay = 1 * time.Second
	strategy.MaxDelay = 10 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if d := strategy.GetDelay(tt.attempt); d != tt.want {
			t.Errorf("GetDelay(%d) = %v, want %v", tt.attempt, d, tt.want)
		}
	}
}

func TestBackoff_ShouldRetry(t *testing.T) {
	strategy := DefaultBackoff(nil)
	strategy.MaxAttempts = 3

	limited := domain.ItemStatus{State: domain.ItemFailed, RetryAt: testNow}
	fatal := domain.ItemStatus{State: domain.ItemFailed}

	if !strategy.ShouldRetry(limited, 0) {
		t.Error("should retry attempt 0")
	}
	if !strategy.ShouldRetry(limited, 2) {
		t.Error("should retry attempt 2")
	}
	if strategy.ShouldRetry(limited, 3) {
		t.Error("should NOT retry attempt 3 (max reached)")
	}
	if strategy.ShouldRetry(fatal, 0) {
		t.Error("should NOT retry a failure without retry time")
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestHandler_HandleFailure(t *testing.T) {
	handler, repo := newHandler(&fakeRetrier{runID: "run"})
	ctx := context.Background()
	line := domain.ScriptLine{Text: "hello"}

	limited := domain.ItemStatus{State: domain.ItemFailed, Message: "quota", RetryAt: testNow.Add(time.Minute)}
	if err := handler.HandleFailure(ctx, "run", 4, line, limited); err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	fatal := domain.ItemStatus{State: domain.ItemFailed, Message: "bad request"}
	if err := handler.HandleFailure(ctx, "run", 5, line, fatal); err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}

	all, _ := repo.GetAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected 1 queued item, got %d", len(all))
	}
	if all[0].ID != "run:4" || all[0].Text != "hello" || !all[0].RetryAt.Equal(limited.RetryAt) {
		t.Errorf("unexpected item: %+v", all[0])
	}

	if err := handler.HandleSuccess(ctx, "run", 4); err != nil {
		t.Fatalf("HandleSuccess failed: %v", err)
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

func TestHandler_ProcessDue_Success(t *testing.T) {
	retrier := &fakeRetrier{
		runID:   "run",
		results: map[int]domain.ItemStatus{1: {State: domain.ItemSucceeded}},
	}
	handler, repo := newHandler(retrier)
	addDue(t, repo, "run", 1, 0)

	n, err := handler.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue failed: %v", err)
	}
	if n != 1 || len(retrier.calls) != 1 {
		t.Errorf("expected one retry, got %d (calls %v)", n, retrier.calls)
	}
	if c, _ := repo.Count(context.Background()); c != 0 {
		t.Error("expected item to be removed after success")
	}
}

func TestHandler_ProcessDue_NotDueYet(t *testing.T) {
	retrier := &fakeRetrier{runID: "run"}
	handler, repo := newHandler(retrier)
	repo.Add(context.Background(), &domain.FailedItem{
		ID:      "run:0",
		RunID:   "run",
		RetryAt: testNow.Add(time.Minute),
		Status:  domain.FailedItemStatusPending,
	})

	if _, err := handler.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue failed: %v", err)
	}
	if len(retrier.calls) != 0 {
		t.Error("should NOT have retried (too early)")
	}
}

func TestHandler_ProcessDue_FailAndReschedule(t *testing.T) {
	retryAt := testNow.Add(2 * time.Minute)
	retrier := &fakeRetrier{
		runID:   "run",
		results: map[int]domain.ItemStatus{0: {State: domain.ItemFailed, RetryAt: retryAt}},
	}
	handler, repo := newHandler(retrier)
	id := addDue(t, repo, "run", 0, 1)

	if _, err := handler.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue failed: %v", err)
	}

	all, _ := repo.GetAll(context.Background())
	if len(all) != 1 || all[0].ID != id {
		t.Fatalf("expected item to stay queued, got %+v", all)
	}
	if all[0].RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", all[0].RetryCount)
	}
	// pool hint (2m) is later than backoff (20s)
	if !all[0].RetryAt.Equal(retryAt) {
		t.Errorf("RetryAt = %v, want %v", all[0].RetryAt, retryAt)
	}
}

func TestHandler_ProcessDue_GivesUp(t *testing.T) {
	tests := []struct {
		name       string
		status     domain.ItemStatus
		retryCount int
	}{
		{"permanent failure", domain.ItemStatus{State: domain.ItemFailed, Message: "bad request"}, 0},
		{"attempts exhausted", domain.ItemStatus{State: domain.ItemFailed, RetryAt: testNow}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retrier := &fakeRetrier{runID: "run", results: map[int]domain.ItemStatus{0: tt.status}}
			handler, repo := newHandler(retrier)
			addDue(t, repo, "run", 0, tt.retryCount)

			if _, err := handler.ProcessDue(context.Background()); err != nil {
				t.Fatalf("ProcessDue failed: %v", err)
			}
			if n, _ := repo.Count(context.Background()); n != 0 {
				t.Errorf("expected item dropped, %d left", n)
			}
		})
	}
}

func TestHandler_ProcessDue_DropsStaleAndInvalid(t *testing.T) {
	retrier := &fakeRetrier{
		runID: "current",
		errs:  map[int]error{2: fmt.Errorf("%w: 2", batch.ErrIndexOutOfRange)},
	}
	handler, repo := newHandler(retrier)
	addDue(t, repo, "old", 0, 0)
	addDue(t, repo, "current", 2, 0)

	if _, err := handler.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue failed: %v", err)
	}
	if len(retrier.calls) != 1 || retrier.calls[0] != 2 {
		t.Errorf("unexpected retries: %v", retrier.calls)
	}
	if n, _ := repo.Count(context.Background()); n != 0 {
		t.Errorf("expected queue drained, %d left", n)
	}
}

func TestHandler_ProcessDue_SkipsLocked(t *testing.T) {
	retrier := &fakeRetrier{runID: "run"}
	locker := &fakeLocker{held: map[string]bool{"run:0": true}}
	handler, repo := newHandler(retrier, WithLocker(locker))
	addDue(t, repo, "run", 0, 0)

	n, err := handler.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue failed: %v", err)
	}
	if n != 0 || len(retrier.calls) != 0 {
		t.Errorf("locked item should be skipped, attempted %d", n)
	}
	if c, _ := repo.Count(context.Background()); c != 1 {
		t.Errorf("locked item should stay queued")
	}
}
