package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/storage"
)

var _ storage.RunRepository = (*RunRepo)(nil)

// Requires NARRATOR_TEST_DATABASE_URL pointing at a disposable database.
func TestRunRepo_Integration(t *testing.T) {
	url := os.Getenv("NARRATOR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("NARRATOR_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	repo := NewRunRepo(db)
	run := &domain.Run{
		ID:        uuid.NewString(),
		Source:    "test.json",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Lines:     []domain.ScriptLine{{Timestamp: "00:01", Text: "hello"}},
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].Text != "hello" {
		t.Errorf("unexpected lines: %+v", got.Lines)
	}

	retryAt := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	rec := &domain.ItemRecord{
		RunID:     run.ID,
		Index:     0,
		Text:      "hello",
		State:     domain.ItemFailed,
		Message:   "quota",
		RetryAt:   &retryAt,
		UpdatedAt: time.Now(),
	}
	if err := repo.SaveItem(ctx, rec); err != nil {
		t.Fatalf("SaveItem failed: %v", err)
	}

	rec.State = domain.ItemSucceeded
	rec.RetryAt = nil
	rec.ArtifactPath = "out/run/0.wav"
	if err := repo.SaveItem(ctx, rec); err != nil {
		t.Fatalf("SaveItem failed: %v", err)
	}

	items, err := repo.GetItems(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetItems failed: %v", err)
	}
	if len(items) != 1 || items[0].State != domain.ItemSucceeded || items[0].ArtifactPath != "out/run/0.wav" {
		t.Errorf("unexpected items: %+v", items)
	}

	if _, err := repo.GetRun(ctx, "missing"); err != storage.ErrRunNotFound {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}
