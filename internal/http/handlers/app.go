package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jewelshot/engine/internal/credits"
	"github.com/jewelshot/engine/internal/domain"
	"github.com/jewelshot/engine/internal/events"
	"github.com/jewelshot/engine/internal/infra"
	"github.com/jewelshot/engine/internal/lifecycle"
	"github.com/jewelshot/engine/internal/poller"
	"github.com/jewelshot/engine/internal/store"
)

// App bundles the collaborators every handler needs.
type App struct {
	Store     *store.Store
	Lifecycle *lifecycle.Controller
	Gate      *lifecycle.Gate
	Poller    *poller.Engine
	Bus       *events.Bus
	Ledger    *credits.Ledger
	Logger    infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

// domainError maps sentinel errors to HTTP statuses.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "batch not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrBatchTerminal):
		a.error(w, http.StatusConflict, "batch_terminal", err.Error())
	case errors.Is(err, domain.ErrConfirmationRequired):
		a.error(w, http.StatusConflict, "confirmation_required", "destructive action requires a valid confirm_token")
	default:
		a.Logger.Error().Err(err).Msg("handlers: unexpected error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
