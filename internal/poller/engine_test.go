package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jewelshot/engine/internal/domain"
	"github.com/jewelshot/engine/internal/events"
	"github.com/jewelshot/engine/internal/jobclient"
	"github.com/jewelshot/engine/internal/store"
)

// scriptedWorker answers advance calls from a per-call script.
type scriptedWorker struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, batchID string) (*jobclient.AdvanceResponse, error)
}

func (w *scriptedWorker) Advance(_ context.Context, batchID string) (*jobclient.AdvanceResponse, error) {
	w.mu.Lock()
	w.calls++
	n := w.calls
	fn := w.fn
	w.mu.Unlock()
	return fn(n, batchID)
}

func (w *scriptedWorker) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func newTestEngine(t *testing.T, client AdvanceClient) (*Engine, *store.Store, <-chan events.Event) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	st := store.New(nil, logger)
	bus := events.NewBus()
	ch, cancel := bus.Subscribe()
	t.Cleanup(cancel)
	eng := New(st, client, bus, logger, Config{Interval: time.Hour, Ceiling: 2 * time.Hour})
	return eng, st, ch
}

func submitBatch(st *store.Store, id string, n int) {
	items := make([]domain.BatchItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, domain.BatchItem{
			LocalID:  fmt.Sprintf("local-%d", i),
			Filename: fmt.Sprintf("ring-%d.jpg", i),
		})
	}
	st.AddBatch(domain.BatchJob{ID: id, Name: "shoot", Items: items})
}

// progressResponse reports the first completed+failed items as terminal and
// the rest pending.
func progressResponse(total, completed, failed int, done bool) *jobclient.AdvanceResponse {
	resp := &jobclient.AdvanceResponse{
		Progress: jobclient.AdvanceProgress{Total: total, Completed: completed, Failed: failed},
		Done:     done,
	}
	for i := 0; i < total; i++ {
		item := jobclient.AdvanceItem{
			ID:       fmt.Sprintf("srv-%d", i),
			Filename: fmt.Sprintf("ring-%d.jpg", i),
			Status:   "pending",
		}
		switch {
		case i < completed:
			item.Status = "completed"
			item.ResultURL = fmt.Sprintf("https://cdn.jewelshot.app/results/%d.jpg", i)
		case i < completed+failed:
			item.Status = "failed"
			item.Error = "model rejected source image"
			item.CreditsRefunded = 1
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(evs []events.Event, kind events.Kind) int {
	var n int
	for _, ev := range evs {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestHappyPathCompletesBatch(t *testing.T) {
	worker := &scriptedWorker{fn: func(call int, _ string) (*jobclient.AdvanceResponse, error) {
		completed := call
		if completed > 5 {
			completed = 5
		}
		return progressResponse(5, completed, 0, completed == 5), nil
	}}
	eng, st, ch := newTestEngine(t, worker)
	submitBatch(st, "b1", 5)

	ctx := context.Background()
	for i := 0; i < 10 && st.HasDrivableBatches(); i++ {
		eng.tick(ctx)
		eng.wg.Wait()
	}

	got, _ := st.GetBatch("b1")
	if got.State != domain.BatchCompleted {
		t.Fatalf("state = %s, want COMPLETED", got.State)
	}
	if got.Counts.Completed != 5 || got.Counts.Failed != 0 {
		t.Fatalf("counts = %+v", got.Counts)
	}

	evs := drainEvents(ch)
	if n := countKind(evs, events.KindItemCompleted); n != 5 {
		t.Fatalf("item_completed events = %d, want 5", n)
	}
	if n := countKind(evs, events.KindBatchCompleted); n != 1 {
		t.Fatalf("batch_completed events = %d, want exactly 1", n)
	}
}

func TestItemCompletedFiresAtMostOnce(t *testing.T) {
	// The worker repeats the same fully-completed payload forever.
	worker := &scriptedWorker{fn: func(int, string) (*jobclient.AdvanceResponse, error) {
		return progressResponse(3, 3, 0, true), nil
	}}
	eng, st, ch := newTestEngine(t, worker)
	submitBatch(st, "b1", 3)

	ctx := context.Background()
	eng.tick(ctx)
	eng.wg.Wait()

	// Replay the same response directly; the merge diff must see no new
	// transitions.
	resp, _ := worker.Advance(ctx, "b1")
	prev, _ := st.GetBatch("b1")
	eng.merge(prev, resp)
	eng.merge(prev, resp)

	evs := drainEvents(ch)
	if n := countKind(evs, events.KindItemCompleted); n != 3 {
		t.Fatalf("item_completed events = %d, want 3", n)
	}
	if n := countKind(evs, events.KindBatchCompleted); n != 1 {
		t.Fatalf("batch_completed events = %d, want exactly 1", n)
	}
}

func TestPartialFailureRetainsErrors(t *testing.T) {
	worker := &scriptedWorker{fn: func(int, string) (*jobclient.AdvanceResponse, error) {
		return progressResponse(5, 3, 2, true), nil
	}}
	eng, st, ch := newTestEngine(t, worker)
	submitBatch(st, "b1", 5)

	eng.tick(context.Background())
	eng.wg.Wait()

	got, _ := st.GetBatch("b1")
	if got.Counts.Completed != 3 || got.Counts.Failed != 2 {
		t.Fatalf("counts = %+v, want 3 completed / 2 failed", got.Counts)
	}
	var failed int
	for _, item := range got.Items {
		if item.Status == domain.ItemFailed {
			failed++
			if item.Error == "" {
				t.Fatalf("failed item %s lost its error", item.LocalID)
			}
			if item.CreditsRefunded != 1 {
				t.Fatalf("failed item %s missing ledger refund", item.LocalID)
			}
		}
	}
	if failed != 2 {
		t.Fatalf("failed items = %d, want 2", failed)
	}

	evs := drainEvents(ch)
	if n := countKind(evs, events.KindItemFailed); n != 2 {
		t.Fatalf("item_failed events = %d, want 2", n)
	}
}

func TestPausedBatchIsNotAdvanced(t *testing.T) {
	worker := &scriptedWorker{fn: func(call int, _ string) (*jobclient.AdvanceResponse, error) {
		completed := call
		if completed > 5 {
			completed = 5
		}
		return progressResponse(5, completed, 0, completed == 5), nil
	}}
	eng, st, _ := newTestEngine(t, worker)
	submitBatch(st, "b1", 5)

	ctx := context.Background()
	eng.tick(ctx)
	eng.wg.Wait()
	eng.tick(ctx)
	eng.wg.Wait()
	callsBeforePause := worker.callCount()

	if _, err := st.Transition("b1", domain.BatchPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	for i := 0; i < 3; i++ {
		eng.tick(ctx)
		eng.wg.Wait()
	}
	if got := worker.callCount(); got != callsBeforePause {
		t.Fatalf("advance calls while paused: %d, want %d", got, callsBeforePause)
	}

	if _, err := st.Transition("b1", domain.BatchProcessing); err != nil {
		t.Fatalf("resume: %v", err)
	}
	for i := 0; i < 10 && st.HasDrivableBatches(); i++ {
		eng.tick(ctx)
		eng.wg.Wait()
	}
	if got, _ := st.GetBatch("b1"); got.State != domain.BatchCompleted {
		t.Fatalf("state after resume = %s, want COMPLETED", got.State)
	}
}

func TestTransportErrorDoesNotFailItems(t *testing.T) {
	worker := &scriptedWorker{fn: func(int, string) (*jobclient.AdvanceResponse, error) {
		return nil, fmt.Errorf("advance: %w", errors.New("connection refused"))
	}}
	eng, st, ch := newTestEngine(t, worker)
	submitBatch(st, "b1", 2)

	ctx := context.Background()
	eng.tick(ctx)
	eng.wg.Wait()
	eng.tick(ctx)
	eng.wg.Wait()

	if worker.callCount() != 2 {
		t.Fatalf("calls = %d, want 2 (one retry per tick)", worker.callCount())
	}
	got, _ := st.GetBatch("b1")
	if got.Counts.Failed != 0 || got.Counts.Pending != 2 {
		t.Fatalf("poll failure must not change item state: %+v", got.Counts)
	}
	if evs := drainEvents(ch); len(evs) != 0 {
		t.Fatalf("no events expected on transport failure, got %d", len(evs))
	}
}

func TestOverlappingAdvanceGuardedPerBatch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	worker := &scriptedWorker{fn: func(int, string) (*jobclient.AdvanceResponse, error) {
		started <- struct{}{}
		<-release
		return progressResponse(2, 1, 0, false), nil
	}}
	eng, st, _ := newTestEngine(t, worker)
	submitBatch(st, "b1", 2)

	ctx := context.Background()
	eng.tick(ctx)
	<-started

	// The first request is still in flight; further ticks must not issue
	// a second advance for the same batch.
	eng.tick(ctx)
	eng.tick(ctx)
	if got := worker.callCount(); got != 1 {
		t.Fatalf("concurrent advance calls for one batch: %d, want 1", got)
	}

	close(release)
	eng.wg.Wait()
}

func TestStaleResponseAfterCancelMergesSafely(t *testing.T) {
	release := make(chan struct{})
	worker := &scriptedWorker{fn: func(int, string) (*jobclient.AdvanceResponse, error) {
		<-release
		return progressResponse(2, 2, 0, true), nil
	}}
	eng, st, ch := newTestEngine(t, worker)
	submitBatch(st, "b1", 2)

	ctx := context.Background()
	eng.tick(ctx)

	if _, err := st.Transition("b1", domain.BatchCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)
	eng.wg.Wait()

	got, _ := st.GetBatch("b1")
	if got.State != domain.BatchCancelled {
		t.Fatalf("straggler resurrected batch state: %s", got.State)
	}
	// Result data may still merge; the terminal batch state may not.
	evs := drainEvents(ch)
	if n := countKind(evs, events.KindBatchCompleted); n != 0 {
		t.Fatalf("cancelled batch must not emit batch_completed, got %d", n)
	}
}

func TestCeilingSuspendsUntilKick(t *testing.T) {
	worker := &scriptedWorker{fn: func(int, string) (*jobclient.AdvanceResponse, error) {
		return progressResponse(2, 0, 0, false), nil
	}}
	eng, st, ch := newTestEngine(t, worker)
	submitBatch(st, "b1", 2)

	ctx := context.Background()
	eng.tick(ctx)
	eng.wg.Wait()

	// Age the polling phase past the ceiling.
	eng.mu.Lock()
	eng.startedAt = time.Now().Add(-3 * time.Hour)
	eng.mu.Unlock()

	eng.tick(ctx)
	eng.wg.Wait()

	evs := drainEvents(ch)
	if n := countKind(evs, events.KindBatchTimedOut); n != 1 {
		t.Fatalf("batch_timed_out events = %d, want 1", n)
	}
	got, _ := st.GetBatch("b1")
	if !got.TimedOut {
		t.Fatalf("batch should be flagged timed out")
	}
	if got.State != domain.BatchProcessing {
		t.Fatalf("timeout must not change batch state, got %s", got.State)
	}

	callsBefore := worker.callCount()
	eng.tick(ctx)
	eng.wg.Wait()
	if worker.callCount() != callsBefore {
		t.Fatalf("suspended engine must not poll")
	}
	if eng.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle", eng.Phase())
	}

	eng.Kick()
	// Drain the kick signal the way Run would.
	<-eng.kick
	eng.tick(ctx)
	eng.wg.Wait()
	if worker.callCount() == callsBefore {
		t.Fatalf("kick should re-arm polling")
	}
}

func TestEngineGoesIdleWithoutDrivableBatches(t *testing.T) {
	worker := &scriptedWorker{fn: func(int, string) (*jobclient.AdvanceResponse, error) {
		return progressResponse(1, 1, 0, true), nil
	}}
	eng, st, _ := newTestEngine(t, worker)
	submitBatch(st, "b1", 1)

	ctx := context.Background()
	eng.tick(ctx)
	eng.wg.Wait()
	eng.tick(ctx)

	if eng.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle after completion", eng.Phase())
	}
}
