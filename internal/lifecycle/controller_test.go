package lifecycle

import (
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jewelshot/engine/internal/domain"
	"github.com/jewelshot/engine/internal/store"
)

func newTestController(t *testing.T) (*Controller, *store.Store) {
	t.Helper()
	st := store.New(nil, zerolog.New(io.Discard))
	st.AddBatch(domain.BatchJob{
		ID:   "b1",
		Name: "ring shoot",
		Items: []domain.BatchItem{
			{LocalID: "l1", Filename: "ring.jpg"},
			{LocalID: "l2", Filename: "necklace.jpg"},
		},
	})
	return NewController(st, zerolog.New(io.Discard)), st
}

func TestPauseResumeRoundTrip(t *testing.T) {
	c, st := newTestController(t)

	paused, err := c.Pause("b1")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.State != domain.BatchPaused {
		t.Fatalf("state = %s, want PAUSED", paused.State)
	}
	if paused.PausedAt == nil {
		t.Fatalf("PausedAt should be recorded on pause")
	}

	resumed, err := c.Resume("b1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.State != domain.BatchProcessing {
		t.Fatalf("state = %s, want PROCESSING", resumed.State)
	}
	if resumed.PausedAt != nil {
		t.Fatalf("PausedAt should be cleared on resume")
	}

	if got, _ := st.GetBatch("b1"); got.State != domain.BatchProcessing {
		t.Fatalf("store state = %s, want PROCESSING", got.State)
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	c, _ := newTestController(t)

	if _, err := c.Resume("b1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Resume on processing batch: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := c.Pause("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Pause on missing batch: err = %v, want ErrNotFound", err)
	}
}

func TestCancelIsAbsorbing(t *testing.T) {
	c, st := newTestController(t)

	if _, err := c.Cancel("b1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// No sequence of lifecycle calls moves a cancelled batch.
	if _, err := c.Pause("b1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Pause after cancel: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := c.Resume("b1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Resume after cancel: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := c.Cancel("b1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Cancel after cancel: err = %v, want ErrInvalidTransition", err)
	}

	if got, _ := st.GetBatch("b1"); got.State != domain.BatchCancelled {
		t.Fatalf("state = %s, want CANCELLED", got.State)
	}
}

func TestCancelKeepsTerminalItemResults(t *testing.T) {
	c, st := newTestController(t)

	done := domain.ItemCompleted
	url := "https://cdn.jewelshot.app/results/r1.jpg"
	if err := st.UpdateBatchItem("b1", store.ItemKey{LocalID: "l1"}, store.ItemPatch{Status: &done, ResultURL: &url}); err != nil {
		t.Fatalf("UpdateBatchItem: %v", err)
	}

	if _, err := c.Cancel("b1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, _ := st.GetBatch("b1")
	if got.Items[0].Status != domain.ItemCompleted || got.Items[0].ResultURL != url {
		t.Fatalf("completed item lost its result after cancel: %+v", got.Items[0])
	}
	if got.Items[1].Status != domain.ItemPending {
		t.Fatalf("pending item should stay frozen as pending, got %s", got.Items[1].Status)
	}
}

func TestClearRemovesBatch(t *testing.T) {
	c, st := newTestController(t)

	if err := c.Clear("b1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := st.GetBatch("b1"); ok {
		t.Fatalf("batch should be gone after clear")
	}
	if err := c.Clear("b1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second clear: err = %v, want ErrNotFound", err)
	}
}

func TestClearCompletedOnlyRemovesTerminal(t *testing.T) {
	c, st := newTestController(t)
	st.AddBatch(domain.BatchJob{ID: "b2", Name: "second", Items: []domain.BatchItem{{LocalID: "x", Filename: "x.jpg"}}})

	if _, err := c.Cancel("b1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if removed := c.ClearCompleted(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := st.GetBatch("b2"); !ok {
		t.Fatalf("active batch must survive ClearCompleted")
	}
}
