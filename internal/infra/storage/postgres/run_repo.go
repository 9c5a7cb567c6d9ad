package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/storage"
)

// RunRepo implements storage.RunRepository using PostgreSQL.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// CreateRun saves a run and its script.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.Run) error {
	lines, err := json.Marshal(run.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal lines: %w", err)
	}

	query := `
		INSERT INTO runs (id, source, lines, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := r.db.ExecContext(ctx, query, run.ID, run.Source, lines, createdAt); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *RunRepo) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	query := `SELECT id, source, lines, created_at FROM runs WHERE id = $1`

	var dest struct {
		ID        string    `db:"id"`
		Source    string    `db:"source"`
		Lines     []byte    `db:"lines"`
		CreatedAt time.Time `db:"created_at"`
	}

	err := r.db.GetContext(ctx, &dest, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run := &domain.Run{ID: dest.ID, Source: dest.Source, CreatedAt: dest.CreatedAt}
	if err := json.Unmarshal(dest.Lines, &run.Lines); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lines: %w", err)
	}
	return run, nil
}

// SaveItem upserts the outcome of one item.
func (r *RunRepo) SaveItem(ctx context.Context, rec *domain.ItemRecord) error {
	query := `
		INSERT INTO run_items (run_id, item_index, text, state, message, retry_at, artifact_path, updated_at)
		VALUES (:run_id, :item_index, :text, :state, :message, :retry_at, :artifact_path, :updated_at)
		ON CONFLICT (run_id, item_index) DO UPDATE SET
			state = EXCLUDED.state,
			message = EXCLUDED.message,
			retry_at = EXCLUDED.retry_at,
			artifact_path = CASE WHEN EXCLUDED.artifact_path = '' THEN run_items.artifact_path ELSE EXCLUDED.artifact_path END,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

// GetItems retrieves every recorded item of a run ordered by index.
func (r *RunRepo) GetItems(ctx context.Context, runID string) ([]*domain.ItemRecord, error) {
	query := `
		SELECT run_id, item_index, text, state, message, retry_at, artifact_path, updated_at
		FROM run_items
		WHERE run_id = $1
		ORDER BY item_index ASC
	`

	var items []*domain.ItemRecord
	if err := r.db.SelectContext(ctx, &items, query, runID); err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	return items, nil
}
