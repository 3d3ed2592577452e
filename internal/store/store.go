// Package store is the single source of truth for all active batches in a
// client session. Every other component either reads it or calls one of its
// mutation operations; nobody keeps a second copy of item status.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jewelshot/engine/internal/domain"
	"github.com/jewelshot/engine/internal/infra"
)

// Store owns all BatchJob and BatchItem instances. Mutations are synchronous
// and recompute the derived counts from the full item list, so the four
// per-status counts always partition the items exactly.
type Store struct {
	mu        sync.RWMutex
	batches   map[string]*domain.BatchJob
	order     []string
	currentID string

	persister Persister
	logger    infra.Logger
}

// New creates an empty store. The persister may be nil, in which case the
// store is purely in-memory.
func New(persister Persister, logger infra.Logger) *Store {
	return &Store{
		batches:   make(map[string]*domain.BatchJob),
		persister: persister,
		logger:    logger,
	}
}

// Load restores the batch list and current-batch pointer from the persister.
// Polling liveness is never persisted; drivability is re-derived by callers.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snap, ok, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = make(map[string]*domain.BatchJob, len(snap.Batches))
	s.order = s.order[:0]
	for i := range snap.Batches {
		b := snap.Batches[i]
		b.Recount()
		s.batches[b.ID] = &b
		s.order = append(s.order, b.ID)
	}
	s.currentID = ""
	if _, ok := s.batches[snap.CurrentID]; ok {
		s.currentID = snap.CurrentID
	}
	s.logger.Info().Int("batches", len(s.batches)).Msg("store: snapshot restored")
	return nil
}

// Flush writes the current snapshot through the persister.
func (s *Store) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.mu.RLock()
	snap := Snapshot{
		Batches:   make([]domain.BatchJob, 0, len(s.order)),
		CurrentID: s.currentID,
	}
	for _, id := range s.order {
		snap.Batches = append(snap.Batches, cloneBatch(s.batches[id]))
	}
	s.mu.RUnlock()

	if err := s.persister.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// AddBatch inserts a batch with state Processing and freshly derived counts.
// Re-submitting an id replaces the prior batch in place.
func (s *Store) AddBatch(job domain.BatchJob) {
	job.State = domain.BatchProcessing
	job.PausedAt = nil
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	for i := range job.Items {
		if job.Items[i].Status == "" {
			job.Items[i].Status = domain.ItemPending
		}
	}
	job.Recount()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[job.ID]; !exists {
		s.order = append(s.order, job.ID)
	}
	s.batches[job.ID] = &job
}

// BatchPatch carries the partial batch fields UpdateBatch may change. Items
// are never patched this way; counts set here are provisional worker
// aggregates and are overwritten by the next item-level recount.
type BatchPatch struct {
	Name   *string
	Counts *domain.Counts
}

// UpdateBatch shallow-merges patch fields into the batch.
func (s *Store) UpdateBatch(id string, patch BatchPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.Counts != nil {
		b.Counts = *patch.Counts
	}
	return nil
}

// Transition applies a guarded batch state change. Completed and Cancelled
// absorb every further request. PausedAt is recorded on pause and cleared on
// resume.
func (s *Store) Transition(id string, to domain.BatchState) (domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return domain.BatchJob{}, domain.ErrNotFound
	}
	if !domain.CanTransition(b.State, to) {
		return domain.BatchJob{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, b.State, to)
	}
	b.State = to
	switch to {
	case domain.BatchPaused:
		now := time.Now().UTC()
		b.PausedAt = &now
	case domain.BatchProcessing:
		b.PausedAt = nil
	}
	return cloneBatch(b), nil
}

// ItemPatch carries partial item fields for UpdateBatchItem.
type ItemPatch struct {
	Status       *domain.ItemStatus
	Progress     *int
	ResultURL    *string
	ThumbnailURL *string
	Error        *string
}

// UpdateBatchItem merges fields into the item addressed by key and then
// recomputes all four derived counts from the full item list. This
// recomputation is the single place aggregate counts are produced.
func (s *Store) UpdateBatchItem(id string, key ItemKey, patch ItemPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	idx := ResolveItem(b.Items, key)
	if idx < 0 {
		return domain.ErrNotFound
	}
	item := &b.Items[idx]
	if patch.Status != nil && !item.Status.Terminal() {
		item.Status = *patch.Status
	}
	if patch.Progress != nil && !item.Status.Terminal() {
		item.Progress = *patch.Progress
	}
	if patch.ResultURL != nil {
		item.ResultURL = *patch.ResultURL
	}
	if patch.ThumbnailURL != nil {
		item.ThumbnailURL = *patch.ThumbnailURL
	}
	if patch.Error != nil {
		item.Error = *patch.Error
	}
	b.Recount()
	return nil
}

// UpdateBatchItems merges worker-reported items into the batch. The worker
// may report any subset per poll; local items it does not mention are left
// untouched. Item order stays the submission order. Counts are recomputed
// afterwards, so applying the same response twice is a no-op.
func (s *Store) UpdateBatchItems(id string, incoming []domain.BatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, in := range incoming {
		idx := resolveIncoming(b.Items, in)
		if idx < 0 {
			continue
		}
		mergeItem(&b.Items[idx], in)
	}
	b.Recount()
	return nil
}

// CompleteBatch moves a processing batch into Completed. It returns true
// only on the first effective completion, which is what makes the
// batch-completed event at-most-once. A cancelled batch stays cancelled.
func (s *Store) CompleteBatch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || !domain.CanTransition(b.State, domain.BatchCompleted) {
		return false
	}
	b.State = domain.BatchCompleted
	b.PausedAt = nil
	return true
}

// MarkTimedOut flags a batch that did not finish within the polling ceiling.
// The batch state itself is left untouched; timeout is a reporting
// condition, not a cancellation.
func (s *Store) MarkTimedOut(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[id]; ok {
		b.TimedOut = true
	}
}

// RemoveBatch deletes a batch entirely. Irreversible.
func (s *Store) RemoveBatch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Store) removeLocked(id string) {
	if _, ok := s.batches[id]; !ok {
		return
	}
	delete(s.batches, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.currentID == id {
		s.currentID = ""
	}
}

// ClearCompletedBatches removes every batch in a terminal state and returns
// how many were removed.
func (s *Store) ClearCompletedBatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for _, id := range append([]string(nil), s.order...) {
		if b := s.batches[id]; b != nil && b.State.Terminal() {
			s.removeLocked(id)
			removed++
		}
	}
	return removed
}

// SetCurrentBatch points the session at a batch, or clears the pointer when
// id is empty.
func (s *Store) SetCurrentBatch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		s.currentID = ""
		return nil
	}
	if _, ok := s.batches[id]; !ok {
		return domain.ErrNotFound
	}
	s.currentID = id
	return nil
}

// CurrentBatch returns the selected batch, if any.
func (s *Store) CurrentBatch() (domain.BatchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[s.currentID]
	if !ok {
		return domain.BatchJob{}, false
	}
	return cloneBatch(b), true
}

// GetBatch returns a copy of the batch with the given id.
func (s *Store) GetBatch(id string) (domain.BatchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return domain.BatchJob{}, false
	}
	return cloneBatch(b), true
}

// List returns all batches in submission order.
func (s *Store) List() []domain.BatchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BatchJob, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneBatch(s.batches[id]))
	}
	return out
}

// ActiveCount reports how many batches are not yet terminal.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, b := range s.batches {
		if !b.State.Terminal() {
			n++
		}
	}
	return n
}

// HasDrivableBatches reports whether any batch is eligible for polling.
func (s *Store) HasDrivableBatches() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches {
		if b.Drivable() {
			return true
		}
	}
	return false
}

// DrivableBatches returns copies of every batch eligible for an advance
// call, in submission order.
func (s *Store) DrivableBatches() []domain.BatchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BatchJob, 0, len(s.order))
	for _, id := range s.order {
		if b := s.batches[id]; b.Drivable() {
			out = append(out, cloneBatch(b))
		}
	}
	return out
}

// cloneBatch deep-copies a batch so callers never alias store-owned items.
func cloneBatch(b *domain.BatchJob) domain.BatchJob {
	out := *b
	out.Items = append([]domain.BatchItem(nil), b.Items...)
	if b.PausedAt != nil {
		paused := *b.PausedAt
		out.PausedAt = &paused
	}
	if b.NamingConfig != nil {
		cfg := *b.NamingConfig
		out.NamingConfig = &cfg
	}
	return out
}
