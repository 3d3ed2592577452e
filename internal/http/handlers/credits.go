package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CreditBalance proxies the ledger balance for one user. The ledger is
// authoritative; this endpoint only reflects its numbers.
func (a *App) CreditBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := a.Ledger.BalanceFor(r.Context(), userID)
	if err != nil {
		a.Logger.Warn().Err(err).Str("user_id", userID).Msg("handlers: ledger fetch failed")
		a.error(w, http.StatusBadGateway, "ledger_unavailable", "credit ledger did not respond")
		return
	}
	a.json(w, http.StatusOK, balance)
}
