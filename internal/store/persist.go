package store

import (
	"context"

	"github.com/jewelshot/engine/internal/domain"
)

// Snapshot is the persisted shape of the store: the batch list in submission
// order plus the current-batch pointer. In-flight polling state is excluded
// on purpose and always restarts cold.
type Snapshot struct {
	Batches   []domain.BatchJob `json:"batches"`
	CurrentID string            `json:"current_id,omitempty"`
}

// Persister is the serialize/deserialize boundary the store crosses at
// process start and stop. Load returns ok=false when no snapshot exists yet.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
}
