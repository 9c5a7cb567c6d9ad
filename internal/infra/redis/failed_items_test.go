package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/storage"
	"github.com/vietddude/narrator/internal/narration/recovery"
)

var _ storage.FailedItemRepository = (*FailedItemRepo)(nil)

func TestKeys(t *testing.T) {
	c := newClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	defer c.Close()
	repo := NewFailedItemRepo(c)

	if got := repo.queueKey(); got != "narrator:failed_items" {
		t.Errorf("queueKey() = %q", got)
	}
	if got := repo.itemKey("run:3"); got != "narrator:failed_item:run:3" {
		t.Errorf("itemKey() = %q", got)
	}
	if got := c.lockKey("run:3"); got != "narrator:processing:run:3" {
		t.Errorf("lockKey() = %q", got)
	}
}

func TestScore(t *testing.T) {
	if score(time.Time{}) != 0 {
		t.Error("zero time should score 0")
	}
	at := time.UnixMilli(1700000000123)
	if score(at) != 1700000000123 {
		t.Errorf("score = %v", score(at))
	}
}

// failingRetrier stands in for the orchestrator: every retry fails again with a
// retry time and re-queues the item the way the item callback does.
type failingRetrier struct {
	runID   string
	handler *recovery.Handler
	now     func() time.Time
}

func (f *failingRetrier) RunID() string { return f.runID }

func (f *failingRetrier) RetryOne(ctx context.Context, index int) (domain.ItemStatus, error) {
	st := domain.ItemStatus{State: domain.ItemFailed, Message: "quota exceeded", RetryAt: f.now()}
	if err := f.handler.HandleFailure(ctx, f.runID, index, domain.ScriptLine{Text: "line"}, st); err != nil {
		return domain.ItemStatus{}, err
	}
	return st, nil
}

func newIntegrationRepo(t *testing.T) *FailedItemRepo {
	t.Helper()
	url := os.Getenv("NARRATOR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NARRATOR_TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL failed: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not reachable: %v", err)
	}

	c := newClient(rdb, "narrator-test-"+uuid.NewString())
	t.Cleanup(func() { c.Close() })
	return NewFailedItemRepo(c)
}

// Requires NARRATOR_TEST_REDIS_URL pointing at a disposable Redis.
func TestFailedItemRepo_Integration(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	item := &domain.FailedItem{
		ID:      domain.FailedItemID("run", 2),
		RunID:   "run",
		Index:   2,
		RetryAt: now.Add(-time.Second),
		Status:  domain.FailedItemStatusPending,
	}
	if err := repo.Add(ctx, item); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.IncrementRetry(ctx, item.ID, now.Add(-time.Second)); err != nil {
			t.Fatalf("IncrementRetry failed: %v", err)
		}
	}

	// a fresh failure of the same item must not reset the count
	if err := repo.Add(ctx, item); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	due, err := repo.GetDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("GetDue failed: %v", err)
	}
	if len(due) != 1 || due[0].RetryCount != 2 {
		t.Fatalf("expected one due item with retry count 2, got %+v", due)
	}

	if err := repo.IncrementRetry(ctx, item.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}
	if due, _ := repo.GetDue(ctx, now, 10); len(due) != 0 {
		t.Errorf("item rescheduled into the future should not be due, got %d", len(due))
	}

	if err := repo.MarkResolved(ctx, item.ID); err != nil {
		t.Fatalf("MarkResolved failed: %v", err)
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

// Requires NARRATOR_TEST_REDIS_URL pointing at a disposable Redis.
func TestFailedItemRepo_RecoveryGivesUp(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()

	clock := time.Now().Truncate(time.Millisecond)
	now := func() time.Time { return clock }

	retrier := &failingRetrier{runID: "run", now: now}
	handler := recovery.NewHandler(repo, retrier, recovery.DefaultBackoff(nil), recovery.WithClock(now))
	retrier.handler = handler

	first := domain.ItemStatus{State: domain.ItemFailed, Message: "quota exceeded", RetryAt: clock}
	if err := handler.HandleFailure(ctx, "run", 0, domain.ScriptLine{Text: "line"}, first); err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}

	maxAttempts := recovery.DefaultBackoff(nil).MaxAttempts
	for pass := 1; pass <= maxAttempts; pass++ {
		if n, err := handler.ProcessDue(ctx); err != nil || n != 1 {
			t.Fatalf("pass %d: ProcessDue = %d, %v", pass, n, err)
		}
		clock = clock.Add(10 * time.Minute)
	}

	if n, _ := repo.Count(ctx); n != 0 {
		all, _ := repo.GetAll(ctx)
		t.Fatalf("expected item dropped after %d attempts, queue holds %+v", maxAttempts, all)
	}
}
