package handlers

import "net/http"

// PollerStatus reports the engine phase.
func (a *App) PollerStatus(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"phase":    a.Poller.Phase(),
		"drivable": len(a.Store.DrivableBatches()),
	})
}

// KickPoller requests an immediate drivability check. Clients call this on
// regaining visibility; it also re-arms an engine suspended by a polling
// timeout.
func (a *App) KickPoller(w http.ResponseWriter, r *http.Request) {
	a.Poller.Kick()
	a.json(w, http.StatusAccepted, map[string]any{"phase": a.Poller.Phase()})
}
