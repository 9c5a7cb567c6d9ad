package domain

import "time"

// Run is one batch execution over a script.
type Run struct {
	ID        string
	Source    string
	CreatedAt time.Time
	Lines     []ScriptLine
}

// ItemRecord is the persisted outcome of a single item.
type ItemRecord struct {
	RunID        string     `db:"run_id"`
	Index        int        `db:"item_index"`
	Text         string     `db:"text"`
	State        ItemState  `db:"state"`
	Message      string     `db:"message"`
	RetryAt      *time.Time `db:"retry_at"`
	ArtifactPath string     `db:"artifact_path"`
	UpdatedAt    time.Time  `db:"updated_at"`
}
