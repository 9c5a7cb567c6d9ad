// Package recovery re-runs failed items of the active run once their
// credentials are expected to be usable again.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/storage"
	"github.com/vietddude/narrator/internal/narration/batch"
)

// Retrier re-runs single items of the current run.
type Retrier interface {
	RunID() string
	RetryOne(ctx context.Context, index int) (domain.ItemStatus, error)
}

// Locker guards an item against concurrent recovery from several processes.
type Locker interface {
	AcquireLock(ctx context.Context, id string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, id string) error
}

const lockTTL = 2 * time.Minute

// Handler processes the failed item queue.
type Handler struct {
	repo      storage.FailedItemRepository
	retrier   Retrier
	strategy  RetryStrategy
	locker    Locker
	batchSize int
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLocker enables distributed item locks.
func WithLocker(l Locker) Option {
	return func(h *Handler) { h.locker = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithBatchSize limits items handled per pass.
func WithBatchSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.batchSize = n
		}
	}
}

// NewHandler creates a new failed item handler.
func NewHandler(
	repo storage.FailedItemRepository,
	retrier Retrier,
	strategy RetryStrategy,
	opts ...Option,
) *Handler {
	h := &Handler{
		repo:      repo,
		retrier:   retrier,
		strategy:  strategy,
		batchSize: 10,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleFailure queues a failed item when it is worth retrying.
func (h *Handler) HandleFailure(
	ctx context.Context,
	runID string,
	index int,
	line domain.ScriptLine,
	st domain.ItemStatus,
) error {
	if !h.strategy.ShouldRetry(st, 0) {
		return nil
	}

	item := &domain.FailedItem{
		ID:        domain.FailedItemID(runID, index),
		RunID:     runID,
		Index:     index,
		Text:      line.Text,
		Error:     st.Message,
		RetryAt:   st.RetryAt,
		Status:    domain.FailedItemStatusPending,
		CreatedAt: h.now(),
	}
	if err := h.repo.Add(ctx, item); err != nil {
		return fmt.Errorf("failed to add failed item: %w", err)
	}
	return nil
}

// HandleSuccess drops the queue entry of an item that succeeded.
func (h *Handler) HandleSuccess(ctx context.Context, runID string, index int) error {
	if err := h.repo.MarkResolved(ctx, domain.FailedItemID(runID, index)); err != nil {
		return fmt.Errorf("failed to resolve item: %w", err)
	}
	return nil
}

// ProcessDue retries every item whose retry time has passed and returns how many were attempted.
func (h *Handler) ProcessDue(ctx context.Context) (int, error) {
	items, err := h.repo.GetDue(ctx, h.now(), h.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get due items: %w", err)
	}

	attempted := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return attempted, err
		}

		if item.RunID != h.retrier.RunID() {
			h.log.Debug("Dropping item of stale run", "id", item.ID)
			if err := h.repo.MarkResolved(ctx, item.ID); err != nil {
				return attempted, fmt.Errorf("failed to drop item %s: %w", item.ID, err)
			}
			continue
		}

		ok, err := h.retry(ctx, item)
		if err != nil {
			return attempted, err
		}
		if ok {
			attempted++
		}
	}
	return attempted, nil
}

func (h *Handler) retry(ctx context.Context, item *domain.FailedItem) (bool, error) {
	if h.locker != nil {
		locked, err := h.locker.AcquireLock(ctx, item.ID, lockTTL)
		if err != nil {
			return false, fmt.Errorf("failed to lock item %s: %w", item.ID, err)
		}
		if !locked {
			return false, nil
		}
		defer h.locker.ReleaseLock(context.WithoutCancel(ctx), item.ID)
	}

	h.log.Info("Retrying failed item", "id", item.ID, "retry_count", item.RetryCount)
	st, err := h.retrier.RetryOne(ctx, item.Index)
	switch {
	case ctx.Err() != nil:
		return true, ctx.Err()
	case errors.Is(err, batch.ErrSuperseded),
		errors.Is(err, batch.ErrIndexOutOfRange),
		errors.Is(err, batch.ErrEmptyLine),
		errors.Is(err, batch.ErrNoRun):
		return true, h.repo.MarkResolved(ctx, item.ID)
	case err != nil:
		return true, fmt.Errorf("failed to retry item %s: %w", item.ID, err)
	}

	if st.State == domain.ItemSucceeded {
		return true, h.repo.MarkResolved(ctx, item.ID)
	}

	attempt := item.RetryCount + 1
	if !h.strategy.ShouldRetry(st, attempt) {
		h.log.Warn("Giving up on item", "id", item.ID, "attempts", attempt, "error", st.Message)
		return true, h.repo.MarkResolved(ctx, item.ID)
	}

	next := h.now().Add(h.strategy.GetDelay(attempt))
	if st.RetryAt.After(next) {
		next = st.RetryAt
	}
	if err := h.repo.IncrementRetry(ctx, item.ID, next); err != nil {
		return true, fmt.Errorf("failed to increment retry: %w", err)
	}
	return true, nil
}
