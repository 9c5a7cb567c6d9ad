package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/storage"
)

type MemoryStorage struct {
	runs   map[string]*domain.Run
	items  map[string]map[int]*domain.ItemRecord
	failed map[string]*domain.FailedItem
	mu     sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs:   make(map[string]*domain.Run),
		items:  make(map[string]map[int]*domain.ItemRecord),
		failed: make(map[string]*domain.FailedItem),
	}
}

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *MemoryStorage
}

func NewRunRepo(store *MemoryStorage) *RunRepo {
	return &RunRepo{store: store}
}

func (r *RunRepo) CreateRun(ctx context.Context, run *domain.Run) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *run
	cp.Lines = append([]domain.ScriptLine(nil), run.Lines...)
	r.store.runs[run.ID] = &cp
	return nil
}

func (r *RunRepo) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	run, ok := r.store.runs[id]
	if !ok {
		return nil, storage.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *RunRepo) SaveItem(ctx context.Context, rec *domain.ItemRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.runs[rec.RunID]; !ok {
		return storage.ErrRunNotFound
	}
	items := r.store.items[rec.RunID]
	if items == nil {
		items = make(map[int]*domain.ItemRecord)
		r.store.items[rec.RunID] = items
	}
	cp := *rec
	items[rec.Index] = &cp
	return nil
}

func (r *RunRepo) GetItems(ctx context.Context, runID string) ([]*domain.ItemRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.ItemRecord, 0, len(r.store.items[runID]))
	for _, rec := range r.store.items[runID] {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// -----------------------------------------------------------------------------
// Failed Item Repository
// -----------------------------------------------------------------------------

type FailedRepo struct {
	store *MemoryStorage
}

func NewFailedRepo(store *MemoryStorage) *FailedRepo {
	return &FailedRepo{store: store}
}

func (r *FailedRepo) Add(ctx context.Context, f *domain.FailedItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *f
	if prev, ok := r.store.failed[f.ID]; ok && cp.RetryCount < prev.RetryCount {
		cp.RetryCount = prev.RetryCount
	}
	r.store.failed[f.ID] = &cp
	return nil
}

func (r *FailedRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.FailedItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var due []*domain.FailedItem
	for _, f := range r.store.failed {
		if f.Status == domain.FailedItemStatusPending && !f.RetryAt.After(now) {
			cp := *f
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RetryAt.Before(due[j].RetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *FailedRepo) IncrementRetry(ctx context.Context, id string, retryAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	f, ok := r.store.failed[id]
	if !ok {
		return storage.ErrFailedItemNotFound
	}
	f.RetryCount++
	f.RetryAt = retryAt
	return nil
}

func (r *FailedRepo) MarkResolved(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.failed, id)
	return nil
}

func (r *FailedRepo) GetAll(ctx context.Context) ([]*domain.FailedItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.FailedItem, 0, len(r.store.failed))
	for _, f := range r.store.failed {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *FailedRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.failed), nil
}
