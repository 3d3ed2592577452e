// Package poller drives forward progress of every drivable batch by calling
// the job worker's advance endpoint on a fixed period and merging the
// responses into the store. The engine flips between Idle and Polling on its
// own: it polls while drivable batches exist and goes idle when none remain
// or the global ceiling elapses.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/jewelshot/engine/internal/domain"
	"github.com/jewelshot/engine/internal/events"
	"github.com/jewelshot/engine/internal/infra"
	"github.com/jewelshot/engine/internal/jobclient"
	"github.com/jewelshot/engine/internal/store"
	"github.com/jewelshot/engine/internal/telemetry"
)

// Phase is the engine's coarse state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePolling Phase = "polling"
)

// AdvanceClient is the slice of the worker client the engine needs.
type AdvanceClient interface {
	Advance(ctx context.Context, batchID string) (*jobclient.AdvanceResponse, error)
}

// Config holds engine tuning knobs.
type Config struct {
	// Interval is the polling period. Ceiling bounds how long one
	// continuous Polling phase may run before undone batches are reported
	// as timed out.
	Interval time.Duration
	Ceiling  time.Duration
}

// Engine is the periodic polling loop. One instance runs per process.
type Engine struct {
	store  *store.Store
	client AdvanceClient
	bus    *events.Bus
	logger infra.Logger
	cfg    Config

	mu        sync.Mutex
	phase     Phase
	startedAt time.Time
	// suspended is set when the ceiling elapsed; polling stays off until
	// an explicit Kick (new submission, resume, tab regained visibility).
	suspended bool
	inflight  map[string]bool

	kick chan struct{}
	wg   sync.WaitGroup
}

// New wires an engine to the shared store, worker client, and event bus.
func New(st *store.Store, client AdvanceClient, bus *events.Bus, logger infra.Logger, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 30 * time.Minute
	}
	return &Engine{
		store:    st,
		client:   client,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		phase:    PhaseIdle,
		inflight: make(map[string]bool),
		kick:     make(chan struct{}, 1),
	}
}

// Phase returns the engine's current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Kick requests an immediate drivability re-check instead of waiting for the
// next tick. It also re-arms an engine suspended by a timeout. Used after
// submissions and when the client regains visibility.
func (e *Engine) Kick() {
	e.mu.Lock()
	e.suspended = false
	e.mu.Unlock()
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, ticking on the configured interval.
// Stopping the loop is advisory: requests already in flight finish and merge
// their responses whenever they land.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.logger.Info().
		Dur("interval", e.cfg.Interval).
		Dur("ceiling", e.cfg.Ceiling).
		Msg("poller: started")

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.logger.Info().Msg("poller: stopped")
			return
		case <-e.kick:
			e.tick(ctx)
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick recomputes the drivable set, manages phase transitions, and launches
// one advance request per drivable batch that has none in flight.
func (e *Engine) tick(ctx context.Context) {
	drivable := e.store.DrivableBatches()
	telemetry.DrivableGauge.Set(float64(len(drivable)))

	e.mu.Lock()
	if len(drivable) == 0 {
		if e.phase == PhasePolling {
			e.phase = PhaseIdle
			e.logger.Info().Msg("poller: no drivable batches, going idle")
		}
		e.mu.Unlock()
		return
	}
	if e.suspended {
		e.mu.Unlock()
		return
	}
	if e.phase == PhaseIdle {
		e.phase = PhasePolling
		e.startedAt = time.Now()
		e.logger.Info().Int("drivable", len(drivable)).Msg("poller: polling")
	}
	if time.Since(e.startedAt) > e.cfg.Ceiling {
		e.phase = PhaseIdle
		e.suspended = true
		elapsed := time.Since(e.startedAt)
		e.mu.Unlock()
		e.reportTimeout(drivable, elapsed)
		return
	}

	var launch []domain.BatchJob
	for _, b := range drivable {
		if e.inflight[b.ID] {
			// Previous advance for this batch has not resolved yet;
			// overlapping calls would risk duplicate billing.
			continue
		}
		e.inflight[b.ID] = true
		launch = append(launch, b)
	}
	e.mu.Unlock()

	for _, b := range launch {
		telemetry.InFlightGauge.Inc()
		e.wg.Add(1)
		go e.advanceBatch(ctx, b)
	}
}

// advanceBatch performs one advance call and merges the result. A transport
// failure is not an item failure: it is logged and the next tick retries.
func (e *Engine) advanceBatch(ctx context.Context, prev domain.BatchJob) {
	defer func() {
		e.mu.Lock()
		delete(e.inflight, prev.ID)
		e.mu.Unlock()
		telemetry.InFlightGauge.Dec()
		e.wg.Done()
	}()

	telemetry.AdvanceCalls.Inc()
	resp, err := e.client.Advance(ctx, prev.ID)
	if err != nil {
		telemetry.AdvanceFailures.Inc()
		e.logger.Warn().Err(err).Str("batch_id", prev.ID).Msg("poller: advance failed, will retry next tick")
		return
	}

	e.merge(prev, resp)
}

// merge folds one advance response into the store and emits completion
// events for item transitions observed against the previous snapshot. The
// merge itself is idempotent, and the diff makes each item event fire at
// most once because a terminal item never transitions again.
func (e *Engine) merge(prev domain.BatchJob, resp *jobclient.AdvanceResponse) {
	counts := resp.Counts()
	if err := e.store.UpdateBatch(prev.ID, store.BatchPatch{Counts: &counts}); err != nil {
		// Batch cleared while the request was in flight; drop the
		// response.
		e.logger.Debug().Str("batch_id", prev.ID).Msg("poller: response for removed batch dropped")
		return
	}
	if err := e.store.UpdateBatchItems(prev.ID, resp.ItemsAsDomain()); err != nil {
		return
	}

	current, ok := e.store.GetBatch(prev.ID)
	if !ok {
		return
	}

	prevStatus := make(map[string]domain.ItemStatus, len(prev.Items))
	for _, item := range prev.Items {
		prevStatus[item.LocalID] = item.Status
	}
	for _, item := range current.Items {
		before := prevStatus[item.LocalID]
		if before == item.Status {
			continue
		}
		switch item.Status {
		case domain.ItemCompleted:
			telemetry.ItemsCompleted.Inc()
			e.bus.Publish(events.Event{
				Kind:      events.KindItemCompleted,
				BatchID:   current.ID,
				ItemID:    item.ID,
				Filename:  item.Filename,
				ResultURL: item.ResultURL,
			})
		case domain.ItemFailed:
			telemetry.ItemsFailed.Inc()
			e.bus.Publish(events.Event{
				Kind:     events.KindItemFailed,
				BatchID:  current.ID,
				ItemID:   item.ID,
				Filename: item.Filename,
				Error:    item.Error,
			})
		}
	}

	// done=true is the sole completion signal; counts alone may be stale
	// mid-transition. The batch stays in the store for inspection until
	// the user clears it.
	if resp.Done && e.store.CompleteBatch(prev.ID) {
		telemetry.BatchesDone.Inc()
		final, _ := e.store.GetBatch(prev.ID)
		e.bus.Publish(events.Event{
			Kind:      events.KindBatchCompleted,
			BatchID:   final.ID,
			Completed: final.Counts.Completed,
			Failed:    final.Counts.Failed,
		})
		e.logger.Info().
			Str("batch_id", final.ID).
			Int("completed", final.Counts.Completed).
			Int("failed", final.Counts.Failed).
			Msg("poller: batch completed")
	}
}

// reportTimeout surfaces the ceiling breach for every batch still undone.
// This is a reporting condition, distinct from cancellation: batch state is
// left untouched.
func (e *Engine) reportTimeout(drivable []domain.BatchJob, elapsed time.Duration) {
	for _, b := range drivable {
		telemetry.BatchTimeouts.Inc()
		e.store.MarkTimedOut(b.ID)
		e.bus.Publish(events.Event{
			Kind:           events.KindBatchTimedOut,
			BatchID:        b.ID,
			Completed:      b.Counts.Completed,
			Failed:         b.Counts.Failed,
			ElapsedSeconds: int(elapsed.Seconds()),
		})
		e.logger.Warn().
			Str("batch_id", b.ID).
			Dur("elapsed", elapsed).
			Msg("poller: batch did not finish within the polling ceiling")
	}
}
