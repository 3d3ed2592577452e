// Package lifecycle applies user-triggered batch state transitions to the
// store. Guards live here; confirmation of destructive actions is the
// caller's responsibility and is enforced by Gate before the controller is
// invoked.
package lifecycle

import (
	"fmt"

	"github.com/jewelshot/engine/internal/domain"
	"github.com/jewelshot/engine/internal/infra"
	"github.com/jewelshot/engine/internal/store"
)

// Controller mediates pause/resume/cancel/clear operations on the store.
type Controller struct {
	store  *store.Store
	logger infra.Logger
}

// NewController wires a controller to the shared store.
func NewController(st *store.Store, logger infra.Logger) *Controller {
	return &Controller{store: st, logger: logger}
}

// Pause stops the engine from advancing new pending items for the batch.
// Valid only from Processing. Work the worker already started on an item is
// not aborted; the engine simply stops calling advance.
func (c *Controller) Pause(id string) (domain.BatchJob, error) {
	job, err := c.store.Transition(id, domain.BatchPaused)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("pause batch %s: %w", id, err)
	}
	c.logger.Info().Str("batch_id", id).Msg("lifecycle: batch paused")
	return job, nil
}

// Resume returns a paused batch to Processing. The polling engine picks it
// up on its next drivability check.
func (c *Controller) Resume(id string) (domain.BatchJob, error) {
	job, err := c.store.Transition(id, domain.BatchProcessing)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("resume batch %s: %w", id, err)
	}
	c.logger.Info().Str("batch_id", id).Msg("lifecycle: batch resumed")
	return job, nil
}

// Cancel moves a Processing or Paused batch into the terminal Cancelled
// state. Items already Completed or Failed keep their results; the rest are
// frozen in place on the client.
func (c *Controller) Cancel(id string) (domain.BatchJob, error) {
	job, err := c.store.Transition(id, domain.BatchCancelled)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("cancel batch %s: %w", id, err)
	}
	c.logger.Info().
		Str("batch_id", id).
		Int("completed", job.Counts.Completed).
		Int("failed", job.Counts.Failed).
		Msg("lifecycle: batch cancelled")
	return job, nil
}

// Clear removes the batch from the store entirely. Irreversible.
func (c *Controller) Clear(id string) error {
	if _, ok := c.store.GetBatch(id); !ok {
		return domain.ErrNotFound
	}
	c.store.RemoveBatch(id)
	c.logger.Info().Str("batch_id", id).Msg("lifecycle: batch cleared")
	return nil
}

// ClearCompleted removes every terminal batch and returns the removed count.
func (c *Controller) ClearCompleted() int {
	removed := c.store.ClearCompletedBatches()
	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("lifecycle: terminal batches cleared")
	}
	return removed
}
