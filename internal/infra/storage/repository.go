package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a run doesn't exist
	ErrRunNotFound = errors.New("run not found")
	// ErrFailedItemNotFound is returned when a failed item doesn't exist
	ErrFailedItemNotFound = errors.New("failed item not found")
)

// RunRepository handles run and item outcome storage
type RunRepository interface {
	// CreateRun saves a new run with its script
	CreateRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by ID
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// SaveItem upserts the outcome of one item
	SaveItem(ctx context.Context, rec *domain.ItemRecord) error

	// GetItems retrieves every recorded item of a run ordered by index
	GetItems(ctx context.Context, runID string) ([]*domain.ItemRecord, error)
}

// FailedItemRepository handles the failed items queue
type FailedItemRepository interface {
	// Add adds or replaces a failed item
	Add(ctx context.Context, item *domain.FailedItem) error

	// GetDue retrieves pending items whose retry time is not after now
	GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.FailedItem, error)

	// IncrementRetry bumps the retry count and reschedules the item
	IncrementRetry(ctx context.Context, id string, retryAt time.Time) error

	// MarkResolved removes an item (successfully retried)
	MarkResolved(ctx context.Context, id string) error

	// GetAll retrieves all failed items
	GetAll(ctx context.Context) ([]*domain.FailedItem, error)

	// Count returns the count of failed items
	Count(ctx context.Context) (int, error)
}
