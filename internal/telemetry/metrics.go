// Package telemetry exposes engine counters over prometheus.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	AdvanceCalls    = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_advance_calls_total", Help: "Advance requests issued to the job worker"})
	AdvanceFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_advance_failures_total", Help: "Advance requests that failed at the transport layer"})
	ItemsCompleted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_items_completed_total", Help: "Items observed transitioning into completed"})
	ItemsFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_items_failed_total", Help: "Items observed transitioning into failed"})
	BatchesDone     = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_batches_completed_total", Help: "Batches reported done by the worker"})
	BatchTimeouts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_batch_timeouts_total", Help: "Batches still undone when the polling ceiling elapsed"})
	DrivableGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_drivable_batches", Help: "Batches currently eligible for polling"})
	InFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_advances_inflight", Help: "Advance requests currently in flight"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			AdvanceCalls,
			AdvanceFailures,
			ItemsCompleted,
			ItemsFailed,
			BatchesDone,
			BatchTimeouts,
			DrivableGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
