package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/storage"
)

const failedItemTTL = 24 * time.Hour

// FailedItemRepo implements FailedItemRepository using Redis.
// Items live in a sorted set scored by their retry time.
type FailedItemRepo struct {
	client *Client
}

// NewFailedItemRepo creates a new Redis-backed failed item repository.
func NewFailedItemRepo(client *Client) *FailedItemRepo {
	return &FailedItemRepo{client: client}
}

// Key helpers
func (r *FailedItemRepo) queueKey() string {
	return fmt.Sprintf("%s:failed_items", r.client.prefix)
}

func (r *FailedItemRepo) itemKey(id string) string {
	return fmt.Sprintf("%s:failed_item:%s", r.client.prefix, id)
}

func score(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli())
}

// Add adds a failed item to the queue, keeping the retry count of an earlier entry.
func (r *FailedItemRepo) Add(ctx context.Context, fi *domain.FailedItem) error {
	if prev, err := r.get(ctx, fi.ID); err == nil && prev.RetryCount > fi.RetryCount {
		cp := *fi
		cp.RetryCount = prev.RetryCount
		fi = &cp
	}
	return r.put(ctx, fi)
}

func (r *FailedItemRepo) put(ctx context.Context, fi *domain.FailedItem) error {
	data, err := json.Marshal(fi)
	if err != nil {
		return fmt.Errorf("failed to marshal failed item: %w", err)
	}

	pipe := r.client.rdb.TxPipeline()
	pipe.Set(ctx, r.itemKey(fi.ID), data, failedItemTTL)
	pipe.ZAdd(ctx, r.queueKey(), redis.Z{Score: score(fi.RetryAt), Member: fi.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add failed item: %w", err)
	}
	return nil
}

func (r *FailedItemRepo) get(ctx context.Context, id string) (*domain.FailedItem, error) {
	data, err := r.client.rdb.Get(ctx, r.itemKey(id)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrFailedItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed item: %w", err)
	}

	var fi domain.FailedItem
	if err := json.Unmarshal(data, &fi); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed item: %w", err)
	}
	return &fi, nil
}

// GetDue retrieves pending items whose retry time has passed, oldest first.
func (r *FailedItemRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.FailedItem, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := r.client.rdb.ZRangeByScore(ctx, r.queueKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	return r.load(ctx, ids, true)
}

func (r *FailedItemRepo) load(ctx context.Context, ids []string, pendingOnly bool) ([]*domain.FailedItem, error) {
	items := make([]*domain.FailedItem, 0, len(ids))
	for _, id := range ids {
		fi, err := r.get(ctx, id)
		if err == storage.ErrFailedItemNotFound {
			// Data expired but ID still in queue, remove it
			r.client.rdb.ZRem(ctx, r.queueKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if pendingOnly && fi.Status != domain.FailedItemStatusPending {
			continue
		}
		items = append(items, fi)
	}
	return items, nil
}

// IncrementRetry increments retry count and reschedules the item.
func (r *FailedItemRepo) IncrementRetry(ctx context.Context, id string, retryAt time.Time) error {
	fi, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	fi.RetryCount++
	fi.RetryAt = retryAt
	return r.put(ctx, fi)
}

// MarkResolved removes a failed item (successfully retried).
func (r *FailedItemRepo) MarkResolved(ctx context.Context, id string) error {
	pipe := r.client.rdb.TxPipeline()
	pipe.ZRem(ctx, r.queueKey(), id)
	pipe.Del(ctx, r.itemKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to resolve failed item: %w", err)
	}
	return nil
}

// GetAll retrieves all failed items.
func (r *FailedItemRepo) GetAll(ctx context.Context) ([]*domain.FailedItem, error) {
	ids, err := r.client.rdb.ZRange(ctx, r.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	return r.load(ctx, ids, false)
}

// Count returns the count of failed items.
func (r *FailedItemRepo) Count(ctx context.Context) (int, error) {
	count, err := r.client.rdb.ZCard(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
